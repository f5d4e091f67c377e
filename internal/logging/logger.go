package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log line.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR", FATAL: "FATAL"}

func (l LogLevel) String() string {
	if l < DEBUG || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLevel(name string) LogLevel {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "WARNING" {
		return WARN
	}
	for lvl, n := range levelNames {
		if n == name {
			return LogLevel(lvl)
		}
	}
	return INFO
}

// LogContext identifies what a log line is about. Zero fields are omitted.
type LogContext struct {
	TaskID     string `json:"taskId,omitempty"`
	Model      string `json:"model,omitempty"`
	Event      string `json:"event,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
}

// Fields are structured key/value pairs attached to a line.
type Fields map[string]interface{}

// JSONLogEntry is one line of JSON output.
type JSONLogEntry struct {
	Timestamp string      `json:"timestamp"`
	Level     string      `json:"level"`
	Message   string      `json:"message"`
	Context   *LogContext `json:"context,omitempty"`
	Fields    Fields      `json:"fields,omitempty"`
}

// Options controls where and how a Logger writes.
type Options struct {
	Out   io.Writer // DEBUG, INFO, WARN
	Err   io.Writer // ERROR, FATAL
	JSON  bool
	Level LogLevel
}

// Logger writes leveled lines, either human-readable or JSON.
type Logger struct {
	out   *log.Logger
	err   *log.Logger
	json  bool
	level LogLevel
	mu    sync.Mutex
	exit  func(int)
}

func New(opts Options) *Logger {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	return &Logger{
		out:   log.New(opts.Out, "", log.LstdFlags),
		err:   log.New(opts.Err, "", log.LstdFlags),
		json:  opts.JSON,
		level: opts.Level,
		exit:  os.Exit,
	}
}

// NewLogger configures a logger from LOG_LEVEL and LOG_FORMAT. JSON lines
// are also used whenever VCAP_APPLICATION is set.
func NewLogger() *Logger {
	return New(Options{
		JSON:  os.Getenv("VCAP_APPLICATION") != "" || strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
	})
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Options{Out: io.Discard, Err: io.Discard, Level: FATAL + 1})
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func (l *Logger) Debug(format string, v ...interface{}) { l.write(DEBUG, nil, nil, format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.write(INFO, nil, nil, format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.write(WARN, nil, nil, format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.write(ERROR, nil, nil, format, v...) }

// Fatal logs and exits with status 1.
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.write(FATAL, nil, nil, format, v...)
	l.exit(1)
}

func (l *Logger) InfoWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.write(INFO, ctx, nil, format, v...)
}

func (l *Logger) WarnWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.write(WARN, ctx, nil, format, v...)
}

func (l *Logger) ErrorWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.write(ERROR, ctx, nil, format, v...)
}

func (l *Logger) InfoWithFields(format string, fields Fields, v ...interface{}) {
	l.write(INFO, nil, fields, format, v...)
}

func (l *Logger) WarnWithFields(format string, fields Fields, v ...interface{}) {
	l.write(WARN, nil, fields, format, v...)
}

func (l *Logger) ErrorWithFields(format string, fields Fields, v ...interface{}) {
	l.write(ERROR, nil, fields, format, v...)
}

// WithContext binds ctx to every line written through the returned logger.
func (l *Logger) WithContext(ctx *LogContext) *ContextLogger {
	return &ContextLogger{logger: l, ctx: ctx}
}

func (l *Logger) write(level LogLevel, ctx *LogContext, fields Fields, format string, v ...interface{}) {
	if level < l.level {
		return
	}
	msg := format
	if len(v) > 0 {
		msg = fmt.Sprintf(format, v...)
	}
	target := l.out
	if level >= ERROR {
		target = l.err
	}

	if !l.json {
		target.Printf("[%-5s] %s%s%s", level, contextPrefix(ctx), msg, fieldSuffix(fields))
		return
	}
	data, err := json.Marshal(JSONLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   msg,
		Context:   ctx,
		Fields:    fields,
	})
	if err != nil {
		// fields held something json cannot encode
		data, _ = json.Marshal(JSONLogEntry{Level: level.String(), Message: msg, Context: ctx})
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	target.Writer().Write(append(data, '\n'))
}

// contextPrefix renders ctx as "[Task:x][Gen:n][Model:m] ".
func contextPrefix(ctx *LogContext) string {
	if ctx == nil {
		return ""
	}
	var b strings.Builder
	tag := func(name, val string) {
		if val != "" {
			fmt.Fprintf(&b, "[%s:%s]", name, val)
		}
	}
	tag("Task", ctx.TaskID)
	if ctx.Generation != 0 {
		tag("Gen", fmt.Sprint(ctx.Generation))
	}
	tag("Model", ctx.Model)
	tag("Event", ctx.Event)
	tag("Op", ctx.Operation)
	if b.Len() == 0 {
		return ""
	}
	b.WriteByte(' ')
	return b.String()
}

func fieldSuffix(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(" |")
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// ContextLogger is a Logger with a fixed LogContext.
type ContextLogger struct {
	logger *Logger
	ctx    *LogContext
}

func (cl *ContextLogger) Debug(format string, v ...interface{}) {
	cl.logger.write(DEBUG, cl.ctx, nil, format, v...)
}

func (cl *ContextLogger) Info(format string, v ...interface{}) {
	cl.logger.write(INFO, cl.ctx, nil, format, v...)
}

func (cl *ContextLogger) Warn(format string, v ...interface{}) {
	cl.logger.write(WARN, cl.ctx, nil, format, v...)
}

func (cl *ContextLogger) Error(format string, v ...interface{}) {
	cl.logger.write(ERROR, cl.ctx, nil, format, v...)
}

func (cl *ContextLogger) InfoWithFields(format string, fields Fields, v ...interface{}) {
	cl.logger.write(INFO, cl.ctx, fields, format, v...)
}
