package server

import (
	"context"
	"fmt"
	"sync"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/catalog"
	"llmstreambench/internal/history"
	"llmstreambench/internal/logging"
	"llmstreambench/internal/probe"
	"llmstreambench/internal/stream"
	"llmstreambench/internal/summary"
)

// Prober sends the requests of one model.
type Prober interface {
	Run(ctx context.Context, req probe.Request, onChunk probe.ChunkFunc, onDone probe.DoneFunc) ([]summary.Record, error)
}

// Runner executes a task: every selected model is probed concurrently and
// progress is pushed to the task's event backlog.
type Runner struct {
	Tasks   *TaskManager
	History *history.Store
	Prober  Prober
	Logger  *logging.Logger
}

// Run executes cfg against models and finishes the task. It blocks until
// every model is done.
func (r *Runner) Run(ctx context.Context, taskID string, cfg bench.TestConfig, models []catalog.Model) {
	log := logging.OrDiscard(r.Logger)
	r.Tasks.SetRunning(taskID)

	defer func() {
		if p := recover(); p != nil {
			log.ErrorWithContext(&logging.LogContext{TaskID: taskID}, "Task panicked: %v", p)
			_ = r.Tasks.Fail(taskID, fmt.Sprintf("%v", p))
		}
	}()

	// Records are kept per model so the summary follows selection order.
	perModel := make([][]summary.Record, len(models))
	var wg sync.WaitGroup
	for i, m := range models {
		wg.Add(1)
		go func(i int, m catalog.Model) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					log.ErrorWithContext(&logging.LogContext{TaskID: taskID, Model: m.Name}, "Model run panicked: %v", p)
					_ = r.Tasks.Push(taskID, stream.KindSummary, []summary.Row{summary.FailedRow(m.Name, cfg.TotalRequests())})
				}
			}()
			perModel[i] = r.runModel(ctx, taskID, cfg, m)
		}(i, m)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		_ = r.Tasks.Fail(taskID, fmt.Sprintf("task cancelled: %v", err))
		return
	}

	var all []summary.Record
	for _, records := range perModel {
		all = append(all, records...)
	}
	if len(all) > 0 {
		rows := summary.Summarize(all)
		if r.History != nil {
			id, err := r.History.Add(history.Entry{TestConfig: cfg, Summary: rows})
			if err != nil {
				log.ErrorWithContext(&logging.LogContext{TaskID: taskID}, "Failed to save history: %v", err)
			} else {
				log.InfoWithContext(&logging.LogContext{TaskID: taskID}, "Saved history record %s", id)
			}
		}
		if err := r.Tasks.Push(taskID, stream.KindSummaryComplete, rows); err != nil {
			_ = r.Tasks.Fail(taskID, err.Error())
			return
		}
	} else {
		log.WarnWithContext(&logging.LogContext{TaskID: taskID}, "No records to summarize")
	}
	_ = r.Tasks.Complete(taskID)
}

// runModel probes one model, pushing chunk events as requests progress and
// the model's summary row when it is done.
func (r *Runner) runModel(ctx context.Context, taskID string, cfg bench.TestConfig, m catalog.Model) []summary.Record {
	log := logging.OrDiscard(r.Logger).WithContext(&logging.LogContext{TaskID: taskID, Model: m.Name})
	streaming := cfg.StreamEnabled()
	req := probe.Request{
		Model:       m,
		Question:    cfg.Question,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stream:      streaming,
		Concurrency: cfg.Concurrency,
		Iterations:  cfg.Iterations,
	}

	push := func(kind stream.Kind, payload interface{}) {
		if err := r.Tasks.Push(taskID, kind, payload); err != nil {
			log.Warn("Failed to push %s event: %v", kind, err)
		}
	}
	onChunk := func(model string, id int, chunk string) {
		push(stream.KindChunk, stream.ChunkPayload{
			Model:     model,
			Chunk:     &chunk,
			Status:    statusPtr("streaming"),
			RequestID: &id,
		})
	}
	onDone := func(rec summary.Record) {
		p := stream.ChunkPayload{Model: rec.Model, RequestID: intPtr(rec.RequestID)}
		if rec.Failed() {
			p.Status = statusPtr("error")
			p.Error = rec.Err
		} else {
			p.Status = statusPtr("completed")
			p.Duration = floatPtr(rec.LatencyMs)
			if !streaming && rec.Response != "" {
				p.Chunk = &rec.Response
			}
		}
		push(stream.KindChunk, p)
	}

	log.Info("Starting %d requests (concurrency %d)", req.Total(), req.Concurrency)
	records, err := r.Prober.Run(ctx, req, onChunk, onDone)
	if err != nil {
		log.Error("Model run failed: %v", err)
		push(stream.KindSummary, []summary.Row{summary.FailedRow(m.Name, req.Total())})
		return records
	}
	if len(records) > 0 {
		push(stream.KindSummary, summary.Summarize(records))
	}
	log.Info("Model finished with %d records", len(records))
	return records
}

func statusPtr(s string) *string { return &s }
func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }
