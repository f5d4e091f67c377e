package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"llmstreambench/internal/runstate"
	"llmstreambench/internal/summary"
)

// OutputLines is how many trailing lines of a model's output are shown.
const OutputLines = 8

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	statusColors = map[runstate.Status]lipgloss.Color{
		runstate.Connecting: lipgloss.Color("244"),
		runstate.Streaming:  lipgloss.Color("39"),
		runstate.Completed:  lipgloss.Color("42"),
		runstate.Error:      lipgloss.Color("196"),
	}
)

func statusColor(s runstate.Status) lipgloss.Color {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return lipgloss.Color("244")
}

// RenderModel renders one model's card body: a header line with the
// status and last duration, then the tail of its output.
func RenderModel(key string, st runstate.State) string {
	badge := lipgloss.NewStyle().Bold(true).Foreground(statusColor(st.Status)).Render(st.Status.String())
	header := lipgloss.NewStyle().Bold(true).Render(key) + " " + badge
	if st.Duration != nil {
		header += mutedStyle.Render(" " + formatDuration(*st.Duration))
	}

	body := tail(st.Output, OutputLines)
	if body == "" {
		body = mutedStyle.Render("waiting for output...")
	}
	return header + "\n" + body
}

func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func formatDuration(ms float64) string {
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond).String()
}

// card wraps a rendered model view in a border colored by status.
func card(view string, status runstate.Status, width int) string {
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(statusColor(status)).
		Padding(0, 1)
	if width > 4 {
		style = style.Width(width - 4)
	}
	return style.Render(view)
}

// SummaryHeaders are the columns of the summary table.
var SummaryHeaders = []string{"Model", "Avg", "Min", "Max", "TTFT avg", "TTFT min", "TTFT max", "Success", "Errors"}

// SummaryTable renders rows as a bordered table.
func SummaryTable(rows []summary.Row) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(SummaryHeaders...)
	for _, r := range rows {
		t.Row(
			r.Model,
			ms(r.AvgLatency), ms(r.MinLatency), ms(r.MaxLatency),
			ms(r.FirstTokenAvg), ms(r.FirstTokenMin), ms(r.FirstTokenMax),
			fmt.Sprintf("%d/%d", r.SuccessCount, r.TotalRequests),
			rate(r.ErrorRate),
		)
	}
	return t.Render()
}

func ms(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0fms", *v)
}

func rate(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}
