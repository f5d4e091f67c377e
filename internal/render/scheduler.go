// Package render coalesces model state changes into batched presentation
// updates.
package render

import (
	"sync"
	"time"

	"llmstreambench/internal/runstate"
)

// RenderFunc turns one model's state into a renderable value. It must be
// pure: the same input always yields the same output.
type RenderFunc func(key string, st runstate.State) string

// Frame is the rendered view of one model.
type Frame struct {
	Model  string
	Status runstate.Status
	View   string
}

// PresentFunc receives every frame produced by one flush.
type PresentFunc func(frames []Frame)

// ScheduleFunc arranges for fn to run once on the next presentation tick.
type ScheduleFunc func(fn func())

// StateSource is read at flush time to get each model's latest state.
type StateSource interface {
	Get(key string) (runstate.State, bool)
}

// Scheduler batches MarkDirty calls into one flush per tick. It is not safe
// for concurrent use; the owner must serialise MarkDirty and Flush (the
// ScheduleFunc is expected to run the flush under the same guard).
type Scheduler struct {
	source    StateSource
	render    RenderFunc
	present   PresentFunc
	schedule  ScheduleFunc
	pending   []string
	dirty     map[string]struct{}
	scheduled bool
}

// NewScheduler creates a scheduler reading states from source.
func NewScheduler(source StateSource, render RenderFunc, present PresentFunc, schedule ScheduleFunc) *Scheduler {
	return &Scheduler{
		source:   source,
		render:   render,
		present:  present,
		schedule: schedule,
		dirty:    make(map[string]struct{}),
	}
}

// MarkDirty records key for the next flush and schedules one if none is
// pending.
func (s *Scheduler) MarkDirty(key string) {
	if _, ok := s.dirty[key]; !ok {
		s.dirty[key] = struct{}{}
		s.pending = append(s.pending, key)
	}
	if !s.scheduled {
		s.scheduled = true
		s.schedule(s.Flush)
	}
}

// Pending returns the number of dirty models awaiting a flush.
func (s *Scheduler) Pending() int { return len(s.pending) }

// Flush renders every dirty model once from its current state, hands the
// frames to the presenter and clears the pending set.
func (s *Scheduler) Flush() {
	s.scheduled = false
	if len(s.pending) == 0 {
		return
	}
	keys := s.pending
	s.pending = nil
	s.dirty = make(map[string]struct{})

	frames := make([]Frame, 0, len(keys))
	for _, k := range keys {
		st, ok := s.source.Get(k)
		if !ok {
			continue
		}
		frames = append(frames, Frame{Model: k, Status: st.Status, View: s.render(k, st)})
	}
	if len(frames) > 0 && s.present != nil {
		s.present(frames)
	}
}

// Reset drops pending marks without rendering them.
func (s *Scheduler) Reset() {
	s.pending = nil
	s.dirty = make(map[string]struct{})
}

// TickScheduler returns a ScheduleFunc that runs fn after interval while
// holding guard, so flushes are serialised with event handling.
func TickScheduler(interval time.Duration, guard sync.Locker) ScheduleFunc {
	return func(fn func()) {
		time.AfterFunc(interval, func() {
			guard.Lock()
			defer guard.Unlock()
			fn()
		})
	}
}

// PlainRender is a RenderFunc that shows the status line followed by the
// output.
func PlainRender(key string, st runstate.State) string {
	line := key + " [" + st.Status.String()
	if st.Duration != nil {
		line += " " + time.Duration(*st.Duration*float64(time.Millisecond)).Round(time.Millisecond).String()
	}
	return line + "]\n" + st.Output
}
