package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/logging"
	"llmstreambench/internal/stream"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// Finished reports whether no more events will be pushed.
func (s TaskStatus) Finished() bool {
	return s == TaskCompleted || s == TaskError
}

// ErrTaskNotFound is returned for unknown or cleaned-up task ids.
var ErrTaskNotFound = errors.New("task not found")

// TaskInfo is a snapshot of a task.
type TaskInfo struct {
	ID          string           `json:"task_id"`
	Status      TaskStatus       `json:"status"`
	Config      bench.TestConfig `json:"test_config"`
	Error       string           `json:"error,omitempty"`
	Events      int              `json:"events"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// task keeps every event it was given so that subscribers joining late
// replay the run from the start.
type task struct {
	info   TaskInfo
	events []stream.Envelope
	// notify is closed and replaced whenever events or status change.
	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// TaskManager tracks running benchmark tasks and their event backlogs.
type TaskManager struct {
	tasks  map[string]*task
	mu     sync.RWMutex
	base   context.Context
	stop   context.CancelFunc
	now    func() time.Time
	logger *logging.Logger
}

// NewTaskManager creates an empty task manager. Contexts handed out by
// Create are cancelled by Shutdown.
func NewTaskManager(logger *logging.Logger) *TaskManager {
	base, stop := context.WithCancel(context.Background())
	return &TaskManager{
		tasks:  make(map[string]*task),
		base:   base,
		stop:   stop,
		now:    time.Now,
		logger: logging.OrDiscard(logger),
	}
}

// Create registers a task for cfg and returns its id together with the
// context the task's work should run under.
func (tm *TaskManager) Create(cfg bench.TestConfig) (string, context.Context) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(tm.base)
	tm.tasks[id] = &task{
		info: TaskInfo{
			ID:        id,
			Status:    TaskCreated,
			Config:    cfg.Clone(),
			CreatedAt: tm.now(),
		},
		notify: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	tm.logger.InfoWithFields("Created task", logging.Fields{
		"taskId":      id,
		"models":      cfg.Models,
		"concurrency": cfg.Concurrency,
		"iterations":  cfg.Iterations,
	})
	return id, ctx
}

// SetRunning marks a created task as running.
func (tm *TaskManager) SetRunning(id string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if t, ok := tm.tasks[id]; ok && t.info.Status == TaskCreated {
		t.info.Status = TaskRunning
		t.wake()
	}
}

// Push appends a named event to the task's backlog. Events pushed after the
// task finished are dropped.
func (tm *TaskManager) Push(id string, kind stream.Kind, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	t, ok := tm.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.info.Status.Finished() {
		tm.logger.WarnWithContext(&logging.LogContext{TaskID: id, Event: string(kind)}, "Dropping event pushed after task finished")
		return nil
	}
	t.events = append(t.events, stream.Envelope{Event: kind, Data: data})
	t.info.Events = len(t.events)
	t.wake()
	return nil
}

// Complete pushes the complete event and finishes the task.
func (tm *TaskManager) Complete(id string) error {
	if err := tm.Push(id, stream.KindComplete, map[string]string{"status": "completed"}); err != nil {
		return err
	}
	tm.finish(id, TaskCompleted, "")
	tm.logger.InfoWithContext(&logging.LogContext{TaskID: id}, "Task completed")
	return nil
}

// Fail pushes an error event and finishes the task.
func (tm *TaskManager) Fail(id, message string) error {
	if err := tm.Push(id, stream.KindError, stream.ErrorPayload{Error: message}); err != nil {
		return err
	}
	tm.finish(id, TaskError, message)
	tm.logger.ErrorWithContext(&logging.LogContext{TaskID: id}, "Task failed: %s", message)
	return nil
}

func (tm *TaskManager) finish(id string, status TaskStatus, message string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	t, ok := tm.tasks[id]
	if !ok || t.info.Status.Finished() {
		return
	}
	now := tm.now()
	t.info.Status = status
	t.info.Error = message
	t.info.CompletedAt = &now
	t.cancel()
	t.wake()
}

func (t *task) wake() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// Get returns a snapshot of the task.
func (tm *TaskManager) Get(id string) (TaskInfo, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info, true
}

// ActiveCount returns the number of tasks that have not finished.
func (tm *TaskManager) ActiveCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	n := 0
	for _, t := range tm.tasks {
		if !t.info.Status.Finished() {
			n++
		}
	}
	return n
}

// Cleanup removes tasks that finished more than maxAge ago and returns how
// many were removed.
func (tm *TaskManager) Cleanup(maxAge time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	cutoff := tm.now().Add(-maxAge)
	removed := 0
	for id, t := range tm.tasks {
		if t.info.CompletedAt != nil && t.info.CompletedAt.Before(cutoff) {
			delete(tm.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		tm.logger.InfoWithFields("Cleaned up old tasks", logging.Fields{
			"removed":   removed,
			"remaining": len(tm.tasks),
		})
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (tm *TaskManager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tm.Cleanup(maxAge)
		}
	}
}

// Shutdown cancels the work of every task.
func (tm *TaskManager) Shutdown() {
	tm.stop()
}

// Subscribe returns a reader over the task's events starting at the first
// one.
func (tm *TaskManager) Subscribe(id string) (*Subscription, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if _, ok := tm.tasks[id]; !ok {
		return nil, ErrTaskNotFound
	}
	return &Subscription{tm: tm, id: id}, nil
}

// Subscription reads a task's backlog in order, waiting for new events.
type Subscription struct {
	tm   *TaskManager
	id   string
	next int
}

// Next returns the next event. It returns io.EOF once the task finished
// and every event was read, and ErrTaskNotFound if the task was cleaned up.
func (s *Subscription) Next(ctx context.Context) (stream.Envelope, error) {
	for {
		s.tm.mu.RLock()
		t, ok := s.tm.tasks[s.id]
		if !ok {
			s.tm.mu.RUnlock()
			return stream.Envelope{}, ErrTaskNotFound
		}
		if s.next < len(t.events) {
			ev := t.events[s.next]
			s.next++
			s.tm.mu.RUnlock()
			return ev, nil
		}
		if t.info.Status.Finished() {
			s.tm.mu.RUnlock()
			return stream.Envelope{}, io.EOF
		}
		wait := t.notify
		s.tm.mu.RUnlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return stream.Envelope{}, ctx.Err()
		}
	}
}
