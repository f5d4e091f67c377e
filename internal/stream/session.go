package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"llmstreambench/internal/errdefs"
	"llmstreambench/internal/logging"
	"llmstreambench/internal/render"
	"llmstreambench/internal/runstate"
	"llmstreambench/internal/summary"
)

// Generations hands out run generation tokens. At most one generation is
// active. Access is serialised by the owner's lock.
type Generations struct {
	last   uint64
	active uint64
}

// Next activates and returns a fresh generation, retiring any other.
func (g *Generations) Next() uint64 {
	g.last++
	g.active = g.last
	return g.active
}

// Retire deactivates gen if it is the active generation.
func (g *Generations) Retire(gen uint64) {
	if g.active == gen {
		g.active = 0
	}
}

// RetireAll leaves no generation active.
func (g *Generations) RetireAll() { g.active = 0 }

// Active reports whether gen is the active generation.
func (g *Generations) Active(gen uint64) bool {
	return gen != 0 && g.active == gen
}

// Current returns the active generation, or zero.
func (g *Generations) Current() uint64 { return g.active }

// EndReason tells why a session stopped consuming events.
type EndReason int

const (
	// EndCompleted follows a complete event.
	EndCompleted EndReason = iota
	// EndRemoteError follows an error event.
	EndRemoteError
	// EndTransport follows a failure of the channel itself.
	EndTransport
)

func (r EndReason) String() string {
	switch r {
	case EndCompleted:
		return "completed"
	case EndRemoteError:
		return "remote-error"
	case EndTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// End describes how a session finished.
type End struct {
	Generation uint64
	Reason     EndReason
	// Err is a *errdefs.RemoteExecutionError or *errdefs.TransportError.
	Err error
}

// Config wires a session to the run it drives. Hooks are called with Lock
// held and must not try to take it again.
type Config struct {
	Generation  uint64
	Generations *Generations
	Lock        sync.Locker
	Table       *runstate.Table
	Summary     *summary.Aggregator
	Render      *render.Scheduler
	Logger      *logging.Logger
	TaskID      string

	// OnSummary runs after the incremental table changed.
	OnSummary func()
	// OnEnd runs once when the session ends on its own.
	OnEnd func(End)
}

type handler func(data []byte)

// Session owns one run's event channel. Events are handled through a
// dispatch table keyed by event kind; every handler runs under the owner's
// lock and only while the session's generation is active.
type Session struct {
	cfg      Config
	log      *logging.ContextLogger
	handlers map[Kind]handler
	ended    atomic.Bool
}

// NewSession builds a session for cfg.Generation.
func NewSession(cfg Config) *Session {
	s := &Session{
		cfg: cfg,
		log: logging.OrDiscard(cfg.Logger).WithContext(&logging.LogContext{
			TaskID:     cfg.TaskID,
			Generation: cfg.Generation,
			Operation:  "stream",
		}),
	}
	s.handlers = map[Kind]handler{
		KindChunk:           s.handleChunk,
		KindSummary:         s.handleSummary,
		KindSummaryComplete: s.handleSummaryComplete,
		KindComplete:        s.handleComplete,
		KindError:           s.handleError,
	}
	return s
}

// Generation returns the session's token.
func (s *Session) Generation() uint64 { return s.cfg.Generation }

// Ended reports whether the session finished on its own.
func (s *Session) Ended() bool { return s.ended.Load() }

// Dispatch handles one event. It reports false when the event was discarded
// because the session's generation is no longer active or it already ended.
func (s *Session) Dispatch(ev Event) bool {
	s.cfg.Lock.Lock()
	defer s.cfg.Lock.Unlock()

	if !s.live() {
		s.log.Debug("discarding %s event for retired generation", ev.Kind)
		return false
	}
	h, ok := s.handlers[ev.Kind]
	if !ok {
		s.log.Debug("ignoring unknown event %q", ev.Kind)
		return true
	}
	h(ev.Data)
	return true
}

func (s *Session) live() bool {
	return !s.ended.Load() && s.cfg.Generations.Active(s.cfg.Generation)
}

// Run reads src until the session ends, ctx is cancelled or the channel
// fails. src is closed on return, and as soon as ctx is cancelled so a
// blocked read is interrupted.
func (s *Session) Run(ctx context.Context, src Source) {
	defer src.Close()

	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer stop()

	for {
		ev, err := src.Next()
		if err != nil {
			s.transportFailed(ctx, err)
			return
		}
		s.Dispatch(ev)
		if s.ended.Load() {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Session) transportFailed(ctx context.Context, err error) {
	s.cfg.Lock.Lock()
	defer s.cfg.Lock.Unlock()

	if ctx.Err() != nil || !s.live() {
		return
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("stream closed before completion: %w", io.ErrUnexpectedEOF)
	}
	s.log.Error("event channel failed: %v", err)
	s.finish(EndTransport, &errdefs.TransportError{Err: err})
}

func (s *Session) finish(reason EndReason, err error) {
	s.ended.Store(true)
	if s.cfg.OnEnd != nil {
		s.cfg.OnEnd(End{Generation: s.cfg.Generation, Reason: reason, Err: err})
	}
}

func (s *Session) protocolError(kind Kind, err error) {
	perr := &errdefs.StreamProtocolError{Event: string(kind), Err: err}
	s.log.Warn("%v", perr)
}

func (s *Session) handleChunk(data []byte) {
	p, err := ParseChunk(data)
	if err != nil {
		s.protocolError(KindChunk, err)
		return
	}
	tbl := s.cfg.Table
	if _, ok := tbl.Get(p.Model); !ok {
		s.log.Debug("chunk for unselected model %q dropped", p.Model)
		return
	}

	changed := false
	if p.Chunk != nil {
		tbl.AppendChunk(p.Model, *p.Chunk)
		changed = true
	}
	if p.Status != nil {
		status, err := runstate.ParseStatus(*p.Status)
		if err != nil {
			s.protocolError(KindChunk, err)
		} else {
			tbl.ApplyStatus(p.Model, status)
			changed = true
		}
	}
	if p.Duration != nil {
		tbl.SetDuration(p.Model, *p.Duration)
		changed = true
	}
	if p.Error != "" {
		s.log.Warn("model %s reported: %s", p.Model, p.Error)
	}
	if changed && s.cfg.Render != nil {
		s.cfg.Render.MarkDirty(p.Model)
	}
}

func (s *Session) handleSummary(data []byte) {
	rows, err := summary.ParseRows(data)
	if err != nil {
		s.protocolError(KindSummary, err)
		return
	}
	s.cfg.Summary.ApplyIncremental(rows)
	if s.cfg.OnSummary != nil {
		s.cfg.OnSummary()
	}
}

func (s *Session) handleSummaryComplete(data []byte) {
	rows, err := summary.ParseRows(data)
	if err != nil {
		s.protocolError(KindSummaryComplete, err)
		return
	}
	s.cfg.Summary.ApplyComplete(rows)
	s.log.Info("captured complete summary for %d models", len(rows))
}

func (s *Session) handleComplete([]byte) {
	forced := s.cfg.Table.ForceComplete()
	if s.cfg.Render != nil {
		for _, k := range forced {
			s.cfg.Render.MarkDirty(k)
		}
	}
	s.log.Info("run completed")
	s.finish(EndCompleted, nil)
}

func (s *Session) handleError(data []byte) {
	err := &errdefs.RemoteExecutionError{Message: ParseError(data)}
	s.log.Error("run aborted by executor: %v", err)
	s.finish(EndRemoteError, err)
}
