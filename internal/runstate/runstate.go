// Package runstate tracks the per-model state of one benchmark run.
package runstate

import (
	"fmt"
	"strings"
)

// Status is the lifecycle position of one model within a run.
type Status int

const (
	Connecting Status = iota
	Streaming
	Completed
	Error
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further status change is accepted.
func (s Status) Terminal() bool {
	return s == Completed || s == Error
}

// ParseStatus maps a wire status to a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connecting":
		return Connecting, nil
	case "streaming":
		return Streaming, nil
	case "completed":
		return Completed, nil
	case "error":
		return Error, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// State is a snapshot of one model's run record.
type State struct {
	Status Status
	Output string
	// Duration is the last reported request duration in milliseconds.
	Duration *float64
}

type entry struct {
	status   Status
	output   strings.Builder
	duration *float64
}

func (e *entry) snapshot() State {
	st := State{Status: e.status, Output: e.output.String()}
	if e.duration != nil {
		d := *e.duration
		st.Duration = &d
	}
	return st
}

// Table holds the states of the models selected for a run, in selection
// order. It is not safe for concurrent use; the owner serialises access.
type Table struct {
	order   []string
	entries map[string]*entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Reset discards every state and creates a Connecting state for each key.
// Duplicate keys are kept once.
func (t *Table) Reset(keys []string) {
	t.order = t.order[:0]
	t.entries = make(map[string]*entry, len(keys))
	for _, k := range keys {
		if _, dup := t.entries[k]; dup {
			continue
		}
		t.order = append(t.order, k)
		t.entries[k] = &entry{status: Connecting}
	}
}

// Clear removes all states.
func (t *Table) Clear() {
	t.Reset(nil)
}

// Len returns the number of tracked models.
func (t *Table) Len() int { return len(t.order) }

// Keys returns the tracked keys in selection order.
func (t *Table) Keys() []string {
	return append([]string(nil), t.order...)
}

// Get returns a copy of the state for key.
func (t *Table) Get(key string) (State, bool) {
	e, ok := t.entries[key]
	if !ok {
		return State{}, false
	}
	return e.snapshot(), true
}

// AppendChunk concatenates fragment to the model's output. Late chunks after
// a terminal status are still appended.
func (t *Table) AppendChunk(key, fragment string) bool {
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.output.WriteString(fragment)
	return true
}

// ApplyStatus moves the model to s. Once Completed or Error is reached the
// status never changes again. It reports whether the model exists.
func (t *Table) ApplyStatus(key string, s Status) bool {
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	if !e.status.Terminal() {
		e.status = s
	}
	return true
}

// SetDuration stores ms as the model's duration; the latest value wins.
func (t *Table) SetDuration(key string, ms float64) bool {
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.duration = &ms
	return true
}

// ForceComplete marks every model that is still Connecting or Streaming as
// Completed, keeping its duration, and returns the affected keys.
func (t *Table) ForceComplete() []string {
	var changed []string
	for _, k := range t.order {
		e := t.entries[k]
		if !e.status.Terminal() {
			e.status = Completed
			changed = append(changed, k)
		}
	}
	return changed
}

// Counts returns how many models are in each status.
func (t *Table) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, e := range t.entries {
		counts[e.status]++
	}
	return counts
}
