package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"kilometers.ai/procorch/internal/core/domain/batch"
	"kilometers.ai/procorch/internal/core/domain/process"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderStatus renders an exit status with its outcome colour
func renderStatus(status process.ExitStatus) string {
	switch {
	case status.Success():
		return successStyle.Render(status.String())
	case status.WasKilled():
		return warningStyle.Render(status.String())
	default:
		return failureStyle.Render(status.String())
	}
}

// renderOutcome renders a job result's status column
func renderOutcome(r batch.JobResult) string {
	switch {
	case r.Err != nil:
		return failureStyle.Render("launch failed")
	case r.TimedOut:
		return warningStyle.Render("timed out, " + r.Status.String())
	default:
		return renderStatus(r.Status)
	}
}

// renderResults renders a results table followed by a summary line
func renderResults(results []batch.JobResult, summary batch.Summary) string {
	nameWidth := len("JOB")
	for _, r := range results {
		if len(r.Name) > nameWidth {
			nameWidth = len(r.Name)
		}
	}

	rows := []string{headerStyle.Render(fmt.Sprintf("%-*s │ %-6s │ %-9s │ %-8s │ %s",
		nameWidth, "JOB", "STAGES", "DURATION", "OUTPUT", "STATUS"))}

	for _, r := range results {
		output := formatBytes(len(r.Output))
		if r.Truncated {
			output += "+"
		}
		row := fmt.Sprintf("%-*s │ %-6d │ %-9s │ %-8s │ %s",
			nameWidth, r.Name, r.Stages, formatDuration(r.Duration), output, renderOutcome(r))
		rows = append(rows, row)
		if r.Err != nil {
			rows = append(rows, dimStyle.Render("    "+r.Err.Error()))
		}
	}

	rows = append(rows, "", renderSummary(summary))
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderSummary(summary batch.Summary) string {
	line := fmt.Sprintf("%d jobs: %d succeeded, %d failed (%d timed out). Finished in %s",
		summary.Total, summary.Succeeded, summary.Failed, summary.TimedOut, formatDuration(summary.Elapsed))
	if summary.Failed > 0 {
		return failureStyle.Render(line)
	}
	return successStyle.Render(line)
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

func formatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fK", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/(1024*1024))
	}
}

// truncateString shortens s to max runes with an ellipsis
func truncateString(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
