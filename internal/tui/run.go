package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/logging"
	"llmstreambench/internal/orchestrator"
)

// RunConfig wires an interactive session.
type RunConfig struct {
	Executor      orchestrator.Executor
	Run           bench.TestConfig
	FrameInterval time.Duration
	Logger        *logging.Logger
	Options       Options
	ProgramOpts   []tea.ProgramOption
}

// Run shows the UI until the user quits and returns the last outcome, if
// the run ended on its own.
func Run(cfg RunConfig) (*orchestrator.Outcome, error) {
	bridge := NewBridge()
	defer bridge.Close()

	o := orchestrator.New(orchestrator.Config{
		Executor:      cfg.Executor,
		Render:        RenderModel,
		Present:       bridge.Present,
		OnSummary:     bridge.OnSummary,
		OnEnd:         bridge.OnEnd,
		FrameInterval: cfg.FrameInterval,
		Logger:        cfg.Logger,
	})
	defer o.Stop()

	m := New(o, cfg.Run, cfg.Options)
	p := tea.NewProgram(m, cfg.ProgramOpts...)
	bridge.Attach(p)

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("terminal UI: %w", err)
	}
	if out, ok := final.(*Model).Outcome(); ok {
		return &out, nil
	}
	return nil, nil
}
