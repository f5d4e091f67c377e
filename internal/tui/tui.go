// Package tui is the terminal front end of a benchmark run. It shows one
// card per model, updated from the orchestrator's batched frames, and the
// live summary table.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/orchestrator"
	"llmstreambench/internal/render"
	"llmstreambench/internal/summary"
)

// Controller is the part of the orchestrator the UI drives.
type Controller interface {
	Start(ctx context.Context, run bench.TestConfig) error
	Stop()
	Reset()
	ExportSnapshot() ([]summary.Row, error)
}

type (
	framesMsg   []render.Frame
	summaryMsg  []summary.Row
	endMsg      orchestrator.Outcome
	startedMsg  struct{ err error }
	stoppedMsg  struct{}
	resetMsg    struct{}
	exportedMsg struct {
		path string
		err  error
	}
)

// Bridge forwards orchestrator callbacks to a running program. The
// callbacks fire with the orchestrator's lock held, so messages are queued
// and delivered in order by a single goroutine.
type Bridge struct {
	mu     sync.Mutex
	queue  []tea.Msg
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewBridge returns an idle bridge; call Attach once the program exists.
func NewBridge() *Bridge {
	return &Bridge{wake: make(chan struct{}, 1), closed: make(chan struct{})}
}

// Attach starts delivering queued messages to p.
func (b *Bridge) Attach(p *tea.Program) {
	go b.forward(p.Send)
}

// Close stops delivery.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.closed) })
}

func (b *Bridge) forward(send func(tea.Msg)) {
	for {
		select {
		case <-b.closed:
			return
		case <-b.wake:
		}
		b.mu.Lock()
		msgs := b.queue
		b.queue = nil
		b.mu.Unlock()
		for _, msg := range msgs {
			send(msg)
		}
	}
}

func (b *Bridge) push(msg tea.Msg) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Present is an orchestrator PresentFunc.
func (b *Bridge) Present(frames []render.Frame) {
	b.push(framesMsg(append([]render.Frame(nil), frames...)))
}

// OnSummary is an orchestrator summary callback.
func (b *Bridge) OnSummary(rows []summary.Row) { b.push(summaryMsg(rows)) }

// OnEnd is an orchestrator end callback.
func (b *Bridge) OnEnd(out orchestrator.Outcome) { b.push(endMsg(out)) }

// Options tune the model.
type Options struct {
	// ExportDir is where "e" writes the CSV export. Defaults to ".".
	ExportDir string
	Now       func() time.Time
}

// Model is the bubbletea model of one benchmark session.
type Model struct {
	ctrl Controller
	run  bench.TestConfig
	opts Options

	status  orchestrator.RunStatus
	frames  map[string]render.Frame
	rows    []summary.Row
	outcome *orchestrator.Outcome
	err     error
	notice  string

	spinner spinner.Model
	width   int
}

// New builds a model that starts run on Init.
func New(ctrl Controller, run bench.TestConfig, opts Options) *Model {
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &Model{
		ctrl:    ctrl,
		run:     run,
		opts:    opts,
		frames:  make(map[string]render.Frame),
		spinner: s,
	}
}

// Outcome returns how the last run ended, if it did.
func (m *Model) Outcome() (orchestrator.Outcome, bool) {
	if m.outcome == nil {
		return orchestrator.Outcome{}, false
	}
	return *m.outcome, true
}

// Status returns the run status as last seen by the UI.
func (m *Model) Status() orchestrator.RunStatus { return m.status }

// Init starts the run.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startCmd())
}

func (m *Model) startCmd() tea.Cmd {
	m.status = orchestrator.Submitting
	m.frames = make(map[string]render.Frame)
	m.rows = nil
	m.outcome = nil
	m.err = nil
	m.notice = ""
	ctrl, run := m.ctrl, m.run
	return func() tea.Msg {
		return startedMsg{err: ctrl.Start(context.Background(), run)}
	}
}

func (m *Model) stopCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Stop()
		return stoppedMsg{}
	}
}

func (m *Model) resetCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Reset()
		return resetMsg{}
	}
}

func (m *Model) exportCmd() tea.Cmd {
	ctrl, dir, now := m.ctrl, m.opts.ExportDir, m.opts.Now
	return func() tea.Msg {
		rows, err := ctrl.ExportSnapshot()
		if err != nil {
			return exportedMsg{err: err}
		}
		path := filepath.Join(dir, summary.CSVFileName(now()))
		f, err := os.Create(path)
		if err != nil {
			return exportedMsg{err: err}
		}
		if err := summary.WriteCSV(f, rows); err != nil {
			f.Close()
			return exportedMsg{err: err}
		}
		return exportedMsg{path: path, err: f.Close()}
	}
}

// Update handles keys and orchestrator messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Sequence(m.stopCmd(), tea.Quit)
		case "s":
			if m.status.Active() {
				return m, m.stopCmd()
			}
		case "x":
			return m, m.resetCmd()
		case "r":
			if !m.status.Active() {
				return m, tea.Batch(m.spinner.Tick, m.startCmd())
			}
		case "e":
			return m, m.exportCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case startedMsg:
		switch {
		case msg.err == nil:
			if m.status == orchestrator.Submitting {
				m.status = orchestrator.Running
			}
		case errors.Is(msg.err, orchestrator.ErrSuperseded):
		default:
			m.status = orchestrator.Failed
			m.err = msg.err
		}

	case framesMsg:
		for _, f := range msg {
			m.frames[f.Model] = f
		}

	case summaryMsg:
		m.rows = msg

	case endMsg:
		out := orchestrator.Outcome(msg)
		m.outcome = &out
		m.status = out.Status
		m.err = out.Err
		if out.Record != nil {
			m.rows = out.Record.Summary
		}

	case stoppedMsg:
		if m.status.Active() {
			m.status = orchestrator.Stopped
		}

	case resetMsg:
		m.status = orchestrator.Idle
		m.frames = make(map[string]render.Frame)
		m.rows = nil
		m.outcome = nil
		m.err = nil
		m.notice = ""

	case exportedMsg:
		if msg.err != nil {
			m.notice = "export failed: " + msg.err.Error()
		} else {
			m.notice = "exported " + msg.path
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the header, one card per model in selection order and the
// summary table.
func (m *Model) View() string {
	var b strings.Builder

	status := m.status.String()
	if m.status.Active() {
		status = m.spinner.View() + " " + status
	}
	fmt.Fprintf(&b, "%s  %s\n", titleStyle.Render("LLM stream benchmark"), status)
	fmt.Fprintf(&b, "%s\n\n", mutedStyle.Render(fmt.Sprintf("%q  ·  %d model(s) × %d requests",
		m.run.Question, len(m.run.Models), m.run.TotalRequests())))

	if m.status != orchestrator.Idle {
		for _, name := range m.run.Models {
			f, ok := m.frames[name]
			if !ok {
				continue
			}
			b.WriteString(card(f.View, f.Status, m.width))
			b.WriteString("\n")
		}
	}

	if len(m.rows) > 0 {
		b.WriteString("\n")
		b.WriteString(SummaryTable(m.rows))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	}
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice) + "\n")
	}
	b.WriteString(mutedStyle.Render("s stop · x reset · r rerun · e export csv · q quit"))
	return b.String()
}
