package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"llmstreambench/internal/orchestrator"
	"llmstreambench/internal/render"
	"llmstreambench/internal/summary"
	"llmstreambench/internal/tui"
)

// runPlain executes the run without the interactive UI. Progress is a bar
// over the selected models on stderr; the answers and the summary table are
// printed to w once the run ends.
func (benchmark *Benchmark) runPlain(ctx context.Context, exec orchestrator.Executor, w io.Writer) (*orchestrator.Outcome, error) {
	bar := progressbar.NewOptions(len(benchmark.Run.Models),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(fmt.Sprintf("%d requests per model", benchmark.Run.TotalRequests())),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("models"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)

	ended := make(chan orchestrator.Outcome, 1)
	o := orchestrator.New(orchestrator.Config{
		Executor:      exec,
		FrameInterval: appCfg.FrameInterval,
		Logger:        logger,
		OnSummary: func(rows []summary.Row) {
			_ = bar.Set(len(rows))
		},
		OnEnd: func(out orchestrator.Outcome) { ended <- out },
	})

	if err := o.Start(ctx, benchmark.Run); err != nil {
		return nil, err
	}

	var out orchestrator.Outcome
	select {
	case out = <-ended:
	case <-ctx.Done():
		o.Stop()
		<-o.Done()
		_ = bar.Exit()
		fmt.Fprintln(os.Stderr, "\nrun stopped")
		return &orchestrator.Outcome{TaskID: o.TaskID(), Status: orchestrator.Stopped}, nil
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	if benchmark.Format != "" {
		res := newBenchmarkResult(*benchmark, out)
		return &out, res.print(w, benchmark.Format)
	}

	for _, m := range o.Models() {
		fmt.Fprintln(w, render.PlainRender(m.Key, m.State))
		fmt.Fprintln(w)
	}
	if out.Record != nil {
		fmt.Fprintln(w, tui.SummaryTable(out.Record.Summary))
	}
	if out.Err != nil {
		fmt.Fprintf(w, "run failed: %v\n", out.Err)
	}
	return &out, nil
}

// export writes the summary of a finished run. CSV goes to a timestamped
// file in ExportDir; JSON and YAML go to w.
func (benchmark *Benchmark) export(out *orchestrator.Outcome, w io.Writer) error {
	if benchmark.Export == "" {
		return nil
	}
	if out == nil || out.Record == nil {
		return fmt.Errorf("nothing to export: the run has no complete summary")
	}
	rows := out.Record.Summary
	if benchmark.Export != "csv" {
		return summary.Write(w, benchmark.Export, rows)
	}

	path := filepath.Join(benchmark.ExportDir, summary.CSVFileName(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := summary.WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "summary exported to %s\n", path)
	return nil
}
