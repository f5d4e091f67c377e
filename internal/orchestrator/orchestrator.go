// Package orchestrator owns the active benchmark run: it validates and
// submits a run, drives the stream session that consumes its events and
// exposes start, stop and reset to the presentation layer.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/errdefs"
	"llmstreambench/internal/history"
	"llmstreambench/internal/logging"
	"llmstreambench/internal/render"
	"llmstreambench/internal/runstate"
	"llmstreambench/internal/stream"
	"llmstreambench/internal/summary"
)

// DefaultFrameInterval is the presentation tick used when none is set.
const DefaultFrameInterval = 50 * time.Millisecond

// ErrSuperseded is returned by Start when Stop or Reset ran while the run was
// being submitted. The task handle the executor returned is dropped.
var ErrSuperseded = errors.New("run was stopped before submission completed")

// Executor accepts runs and opens their event channels.
type Executor interface {
	Submit(ctx context.Context, cfg bench.TestConfig) (taskID string, err error)
	Open(ctx context.Context, taskID string) (stream.Source, error)
}

// RunStatus is the lifecycle position of the run as a whole.
type RunStatus int

const (
	Idle RunStatus = iota
	Submitting
	Running
	Completed
	Failed
	Stopped
)

func (s RunStatus) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Active reports whether a run is being submitted or consumed.
func (s RunStatus) Active() bool { return s == Submitting || s == Running }

// Outcome reports how a run ended on its own.
type Outcome struct {
	TaskID string
	Status RunStatus
	// Err is a *errdefs.RemoteExecutionError or *errdefs.TransportError.
	Err error
	// Record is set when the executor delivered a complete summary.
	Record *history.Entry
}

// Config wires an orchestrator to its executor and presenter. Every callback
// runs with the orchestrator's lock held and must not call back into it.
type Config struct {
	Executor Executor
	Render   render.RenderFunc
	Present  render.PresentFunc
	// OnSummary receives the live summary rows after each change.
	OnSummary func(rows []summary.Row)
	// OnEnd is called once per run that completes or fails. It is not
	// called for stopped or reset runs.
	OnEnd func(Outcome)

	FrameInterval time.Duration
	// Schedule replaces the frame ticker; flushes it runs must hold the
	// orchestrator's lock, which Flush does.
	Schedule render.ScheduleFunc
	Logger   *logging.Logger
}

// ModelView is one model's state in selection order.
type ModelView struct {
	Key string
	runstate.State
}

// Orchestrator serialises every handler, flush and lifecycle call behind
// one mutex. Submission and channel reads happen outside it.
type Orchestrator struct {
	mu sync.Mutex

	cfg   Config
	log   *logging.Logger
	gens  stream.Generations
	table *runstate.Table
	agg   *summary.Aggregator
	sched *render.Scheduler

	status RunStatus
	run    *bench.TestConfig
	taskID string
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an idle orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Render == nil {
		cfg.Render = render.PlainRender
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	o := &Orchestrator{
		cfg:   cfg,
		log:   logging.OrDiscard(cfg.Logger),
		table: runstate.NewTable(),
		agg:   summary.NewAggregator(),
		done:  closedChan(),
	}
	schedule := cfg.Schedule
	if schedule == nil {
		schedule = render.TickScheduler(cfg.FrameInterval, &o.mu)
	}
	o.sched = render.NewScheduler(o.table, cfg.Render, cfg.Present, schedule)
	return o
}

// Start validates run, resets all per-run state and submits it. ctx bounds
// the submission and the opening of the event channel; the run itself lasts
// until it ends, Stop or Reset.
func (o *Orchestrator) Start(ctx context.Context, run bench.TestConfig) error {
	if err := run.Validate(); err != nil {
		return err
	}
	run = run.Clone()

	o.mu.Lock()
	o.stopLocked()
	o.resetLocked()
	o.run = &run
	o.table.Reset(run.Models)
	for _, k := range o.table.Keys() {
		o.sched.MarkDirty(k)
	}
	gen := o.gens.Next()
	o.status = Submitting
	o.mu.Unlock()

	o.log.InfoWithFields("submitting run", logging.Fields{
		"models":      len(run.Models),
		"concurrency": run.Concurrency,
		"iterations":  run.Iterations,
	})
	taskID, err := o.cfg.Executor.Submit(ctx, run)

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.gens.Active(gen) {
		if err == nil {
			o.log.WarnWithContext(&logging.LogContext{TaskID: taskID, Generation: gen}, "dropping task handle of a stopped run")
		}
		return ErrSuperseded
	}
	if err != nil {
		o.gens.Retire(gen)
		o.resetLocked()
		var subErr *errdefs.SubmissionError
		if !errors.As(err, &subErr) {
			subErr = &errdefs.SubmissionError{Err: err}
		}
		o.log.Error("%v", subErr)
		return subErr
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := stream.NewSession(stream.Config{
		Generation:  gen,
		Generations: &o.gens,
		Lock:        &o.mu,
		Table:       o.table,
		Summary:     o.agg,
		Render:      o.sched,
		Logger:      o.cfg.Logger,
		TaskID:      taskID,
		OnSummary:   o.summaryChanged,
		OnEnd:       o.sessionEnded,
	})
	o.status = Running
	o.taskID = taskID
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.consume(runCtx, session, taskID, o.done)

	o.log.InfoWithContext(&logging.LogContext{TaskID: taskID, Generation: gen}, "run started")
	return nil
}

func (o *Orchestrator) consume(ctx context.Context, session *stream.Session, taskID string, done chan struct{}) {
	defer close(done)

	src, err := o.cfg.Executor.Open(ctx, taskID)
	if err != nil {
		o.mu.Lock()
		defer o.mu.Unlock()
		if ctx.Err() == nil {
			o.sessionEnded(stream.End{
				Generation: session.Generation(),
				Reason:     stream.EndTransport,
				Err:        &errdefs.TransportError{Err: err},
			})
		}
		return
	}
	session.Run(ctx, src)
}

// summaryChanged runs under the lock from the session.
func (o *Orchestrator) summaryChanged() {
	if o.cfg.OnSummary != nil {
		o.cfg.OnSummary(o.agg.Incremental())
	}
}

// sessionEnded runs under the lock.
func (o *Orchestrator) sessionEnded(e stream.End) {
	if !o.gens.Active(e.Generation) {
		return
	}
	o.gens.Retire(e.Generation)
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.sched.Flush()

	out := Outcome{TaskID: o.taskID}
	if e.Reason == stream.EndCompleted {
		o.status = Completed
	} else {
		o.status = Failed
		o.err = e.Err
	}
	out.Status = o.status
	out.Err = e.Err
	if entry, ok := o.entryLocked(); ok {
		out.Record = &entry
	}

	o.log.InfoWithFields("run ended", logging.Fields{
		"task":   o.taskID,
		"status": o.status.String(),
		"reason": e.Reason.String(),
	})
	if o.cfg.OnEnd != nil {
		o.cfg.OnEnd(out)
	}
}

// Stop retires the active run. Events still in flight for it are discarded
// and its channel is closed. It is a no-op when no run is active.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *Orchestrator) stopLocked() {
	if !o.status.Active() {
		return
	}
	o.gens.RetireAll()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.status = Stopped
	o.log.Info("run stopped by user")
}

// Reset stops any active run and clears every per-run collection.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	o.resetLocked()
}

func (o *Orchestrator) resetLocked() {
	o.table.Clear()
	o.agg.Reset()
	o.sched.Reset()
	o.run = nil
	o.taskID = ""
	o.err = nil
	o.status = Idle
}

// Flush presents pending model changes now.
func (o *Orchestrator) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sched.Flush()
}

// Done is closed when the current run's channel reader has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Status returns the run status.
func (o *Orchestrator) Status() RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err returns the error that failed the last run, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// TaskID returns the executor's handle for the current run.
func (o *Orchestrator) TaskID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.taskID
}

// Model returns one model's state.
func (o *Orchestrator) Model(key string) (runstate.State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.table.Get(key)
}

// Models returns every model's state in selection order.
func (o *Orchestrator) Models() []ModelView {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := o.table.Keys()
	out := make([]ModelView, 0, len(keys))
	for _, k := range keys {
		st, _ := o.table.Get(k)
		out = append(out, ModelView{Key: k, State: st})
	}
	return out
}

// Summary returns the live summary rows in first-seen order.
func (o *Orchestrator) Summary() []summary.Row {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.agg.Incremental()
}

// Config returns the current run's request.
func (o *Orchestrator) Config() (bench.TestConfig, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return bench.TestConfig{}, false
	}
	return o.run.Clone(), true
}

// ExportSnapshot returns the complete summary delivered at the end of the
// run.
func (o *Orchestrator) ExportSnapshot() ([]summary.Row, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rows, ok := o.agg.Complete()
	if !ok {
		return nil, errdefs.NoDataError{}
	}
	return rows, nil
}

// HistoryRecord pairs the run's request with its complete summary.
func (o *Orchestrator) HistoryRecord() (history.Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entryLocked()
}

func (o *Orchestrator) entryLocked() (history.Entry, bool) {
	rows, ok := o.agg.Complete()
	if !ok || o.run == nil {
		return history.Entry{}, false
	}
	return history.Entry{TestConfig: o.run.Clone(), Summary: rows}, true
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
