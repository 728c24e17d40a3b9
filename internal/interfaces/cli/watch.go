package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"kilometers.ai/procorch/internal/application/services"
	"kilometers.ai/procorch/internal/core/domain/batch"
	"kilometers.ai/procorch/internal/core/domain/process"
)

// WatchFlags holds command-line flags for the watch command
type WatchFlags struct {
	RefreshRate time.Duration
}

// NewWatchCommand creates the watch command
func NewWatchCommand(container *CLIContainer) *cobra.Command {
	flags := &WatchFlags{}

	cmd := &cobra.Command{
		Use:   "watch PLAN",
		Short: "Run a plan under a live terminal dashboard",
		Long: `Launch every job of a plan and watch them in an interactive terminal dashboard.

Each job is polled at the refresh rate without blocking on it, so the dashboard
shows which children are still working while the batch is collected in the
background.

Controls:
  ↑/↓ or k/j   select a job
  t            terminate the selected job
  space        pause or resume refreshing
  q            quit, stopping any job that is still running`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.RefreshRate <= 0 {
				flags.RefreshRate = container.Config.PollInterval
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), container, args[0], flags)
		},
	}

	cmd.Flags().DurationVar(&flags.RefreshRate, "refresh", 0, "Refresh rate for live updates (default: poll_interval)")

	return cmd
}

// runWatch starts the plan and the dashboard
func runWatch(ctx context.Context, out io.Writer, container *CLIContainer, path string, flags *WatchFlags) error {
	plan, err := container.FileLoader.LoadPlan(path)
	if err != nil {
		return err
	}

	execution, err := container.BatchService.Start(ctx, plan)
	if err != nil {
		return err
	}

	model := newWatchModel(ctx, container, execution, flags)
	program := tea.NewProgram(model, tea.WithAltScreen())

	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}

	m := final.(watchModel)
	if m.err != nil {
		return m.err
	}
	if m.results == nil {
		return nil
	}
	fmt.Fprintln(out, renderResults(m.results, m.summary))
	if m.summary.Failed > 0 {
		return &ExitCodeError{Code: 1}
	}
	return nil
}

// watchModel holds the state for the Bubble Tea dashboard
type watchModel struct {
	ctx          context.Context
	container    *CLIContainer
	execution    *services.Execution
	flags        *WatchFlags
	rows         []watchRow
	selectedRow  int
	paused       bool
	stopping     bool
	lastUpdate   time.Time
	windowHeight int
	results      []batch.JobResult
	summary      batch.Summary
	err          error
}

// watchRow is one job as displayed in the dashboard
type watchRow struct {
	Name     string
	State    process.State
	PID      int
	Duration time.Duration
	Status   string
}

func newWatchModel(ctx context.Context, container *CLIContainer, execution *services.Execution, flags *WatchFlags) watchModel {
	return watchModel{
		ctx:        ctx,
		container:  container,
		execution:  execution,
		flags:      flags,
		rows:       snapshotRows(execution),
		lastUpdate: time.Now(),
	}
}

// snapshotRows polls every job without blocking
func snapshotRows(execution *services.Execution) []watchRow {
	rows := make([]watchRow, 0, len(execution.Runs))
	for _, run := range execution.Runs {
		row := watchRow{Name: run.Job.Name, State: run.State(), PID: -1}
		last := run.Last()
		switch {
		case run.LaunchErr != nil:
			row.Status = "launch failed"
		case last != nil:
			row.PID = last.PID()
			row.Duration = last.Duration()
			if status, ok := last.Poll(); ok {
				row.Status = status.String()
			} else {
				row.Status = "working"
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Init implements the Bubble Tea init method
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.tickCmd(),
		m.collectCmd(),
	)
}

// Update implements the Bubble Tea update method
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowHeight = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.results != nil || m.err != nil {
				return m, tea.Quit
			}
			m.stopping = true
			return m, m.stopAllCmd()

		case " ":
			m.paused = !m.paused
			return m, nil

		case "up", "k":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			return m, nil

		case "down", "j":
			if m.selectedRow < len(m.rows)-1 {
				m.selectedRow++
			}
			return m, nil

		case "t":
			return m, m.terminateCmd(m.selectedRow)
		}

	case tickMsg:
		if !m.paused {
			m.rows = snapshotRows(m.execution)
			m.lastUpdate = time.Time(msg)
		}
		if m.results != nil {
			return m, nil
		}
		return m, m.tickCmd()

	case collectedMsg:
		m.results = msg.results
		m.summary = msg.summary
		m.rows = snapshotRows(m.execution)
		if msg.err != nil {
			m.err = msg.err
		}
		if m.stopping {
			return m, tea.Quit
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

// View implements the Bubble Tea view method
func (m watchModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress 'q' to quit", m.err)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderJobTable(),
		m.renderFooter(),
	)
}

func (m watchModel) renderHeader() string {
	title := headerStyle.Render("procorch watch")

	running := 0
	for _, row := range m.rows {
		if row.State.IsAlive() {
			running++
		}
	}
	info := fmt.Sprintf("Plan: %s | Jobs: %d | Running: %d | %s",
		m.execution.Plan.Name, len(m.rows), running,
		time.Since(m.execution.StartedAt).Round(100*time.Millisecond))

	status := successStyle.Bold(true).Render("LIVE")
	switch {
	case m.results != nil:
		status = headerStyle.Render("DONE")
	case m.stopping:
		status = warningStyle.Bold(true).Render("STOPPING")
	case m.paused:
		status = failureStyle.Render("PAUSED")
	}

	line1 := lipgloss.JoinHorizontal(lipgloss.Left, title, "  ", info, "  ", status)
	line2 := dimStyle.Render(fmt.Sprintf("Last Update: %s | Refresh Rate: %v",
		m.lastUpdate.Format("15:04:05"), m.flags.RefreshRate))

	return lipgloss.JoinVertical(lipgloss.Left, line1, line2, "")
}

func (m watchModel) renderJobTable() string {
	if len(m.rows) == 0 {
		return dimStyle.Render("\n  No jobs in plan.\n")
	}

	header := headerStyle.Render(fmt.Sprintf("%-20s │ %-11s │ %-7s │ %-9s │ %s",
		"JOB", "STATE", "PID", "DURATION", "STATUS"))
	rows := []string{header}

	for i, row := range m.rows {
		pid := "-"
		if row.PID > 0 {
			pid = fmt.Sprintf("%d", row.PID)
		}
		line := fmt.Sprintf("%-20s │ %-11s │ %-7s │ %-9s │ %s",
			truncateString(row.Name, 20), row.State, pid, formatDuration(row.Duration), row.Status)

		style := lipgloss.NewStyle()
		if i == m.selectedRow {
			style = style.Background(lipgloss.Color("240"))
		}
		rows = append(rows, style.Render(line))
	}

	if m.results != nil {
		rows = append(rows, "", renderSummary(m.summary))
	}

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m watchModel) renderFooter() string {
	return dimStyle.Render("\nControls: [Space] Pause/Resume | [↑↓] Navigate | [t] Terminate | [q] Quit")
}

// tickMsg is sent every refresh interval
type tickMsg time.Time

func (m watchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.flags.RefreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// collectedMsg is sent once every job has been waited on
type collectedMsg struct {
	results []batch.JobResult
	summary batch.Summary
	err     error
}

// errMsg is sent when an error occurs
type errMsg struct {
	err error
}

// collectCmd waits for the batch in the background; it also drains captured output
func (m watchModel) collectCmd() tea.Cmd {
	return func() tea.Msg {
		results, err := m.container.BatchService.Collect(m.ctx, m.execution)
		summary := batch.Summarize(results, time.Since(m.execution.StartedAt))
		return collectedMsg{results: results, summary: summary, err: err}
	}
}

// terminateCmd terminates every stage of the selected job
func (m watchModel) terminateCmd(index int) tea.Cmd {
	if index < 0 || index >= len(m.execution.Runs) {
		return nil
	}
	run := m.execution.Runs[index]
	return func() tea.Msg {
		for _, p := range run.Stages {
			if err := m.container.Orchestrator.Terminate(p); err != nil {
				return errMsg{err: fmt.Errorf("failed to terminate %s: %w", run.Job.Name, err)}
			}
		}
		return nil
	}
}

// stopAllCmd stops every job that is still running; the collector then finishes
func (m watchModel) stopAllCmd() tea.Cmd {
	return func() tea.Msg {
		for _, run := range m.execution.Runs {
			for _, p := range run.Stages {
				if _, err := m.container.Orchestrator.Stop(m.ctx, p, m.container.Config.KillGrace); err != nil {
					return errMsg{err: err}
				}
			}
		}
		return nil
	}
}
