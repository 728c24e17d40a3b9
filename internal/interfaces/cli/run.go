package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kilometers.ai/procorch/internal/core/domain/process"
	procp "kilometers.ai/procorch/internal/core/ports/process"
)

// RunFlags holds command-line flags for the run command
type RunFlags struct {
	Timeout       time.Duration
	Env           []string
	Input         string
	InputFile     string
	NoCapture     bool
	CaptureStderr bool
	Poll          bool
}

// NewRunCommand creates the run command
func NewRunCommand(container *CLIContainer) *cobra.Command {
	flags := &RunFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a single child process",
		Long: `Run a single command as a child process and report its exit status.

Captured output is streamed to stdout while the child runs. When the timeout
elapses the child is terminated, then killed if it ignores termination.

Examples:
  procorch run -- echo "Hello from the child!"
  procorch run --poll -- sleep 0.3
  procorch run --timeout 100ms -- sleep 10
  procorch run --env password=secret --input-file data.bin -- openssl enc -des3 -pass env:password`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, container, flags, args)
		},
	}

	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "Terminate the child after this long (default from config, 0 waits forever)")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "Environment override KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&flags.Input, "input", "", "Text written to the child's stdin")
	cmd.Flags().StringVar(&flags.InputFile, "input-file", "", "File whose contents are written to the child's stdin")
	cmd.Flags().BoolVar(&flags.NoCapture, "no-capture", false, "Let the child write directly to the terminal")
	cmd.Flags().BoolVar(&flags.CaptureStderr, "capture-stderr", false, "Collect stderr and print it after the child exits")
	cmd.Flags().BoolVar(&flags.Poll, "poll", false, "Poll the child instead of blocking, reporting progress")

	return cmd
}

func runRun(cmd *cobra.Command, container *CLIContainer, flags *RunFlags, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	commands, err := ParseCommandGroups(args)
	if err != nil {
		return err
	}
	if len(commands) != 1 {
		return fmt.Errorf("run takes a single command, use parallel or pipe for several")
	}

	opts, err := buildLaunchOptions(cmd, flags)
	if err != nil {
		return err
	}

	timeout := flags.Timeout
	if !cmd.Flags().Changed("timeout") {
		timeout = container.Config.DefaultTimeout
	}

	orchestrator := container.Orchestrator
	p, err := orchestrator.Launch(ctx, commands[0], opts)
	if err != nil {
		return err
	}

	// Drain captured output to the terminal while the child runs
	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(cmd.OutOrStdout(), p.Stdout())
		copied <- err
	}()

	var status process.ExitStatus
	if flags.Poll {
		status, err = pollUntilDone(ctx, cmd.ErrOrStderr(), orchestrator, p, timeout, container.Config.PollInterval)
	} else {
		status, err = orchestrator.Wait(ctx, p, timeout)
	}

	timedOut := errors.Is(err, process.ErrTimeout)
	if timedOut {
		fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render(fmt.Sprintf("child still running after %s, terminating", timeout)))
		status, err = orchestrator.Stop(context.Background(), p, container.Config.KillGrace)
	}
	if err != nil {
		// never leave the child running behind a failed wait
		if _, stopErr := orchestrator.Stop(context.Background(), p, container.Config.KillGrace); stopErr != nil {
			return stopErr
		}
		<-copied
		if errors.Is(err, context.Canceled) {
			return &ExitCodeError{Code: 130, Message: "interrupted"}
		}
		return err
	}

	if copyErr := <-copied; copyErr != nil {
		return fmt.Errorf("failed to copy child output: %w", copyErr)
	}

	if stderr := p.Stderr(); len(stderr) > 0 {
		cmd.ErrOrStderr().Write(stderr)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s in %s\n", dimStyle.Render("exit status"), renderStatus(status), formatDuration(p.Duration()))

	if timedOut {
		return &ExitCodeError{Code: 124, Message: fmt.Sprintf("command timed out after %s", timeout)}
	}
	if !status.Success() {
		return &ExitCodeError{Code: shellExitCode(status)}
	}
	return nil
}

func buildLaunchOptions(cmd *cobra.Command, flags *RunFlags) (process.Options, error) {
	env, err := ParseEnvPairs(flags.Env)
	if err != nil {
		return process.Options{}, err
	}

	opts := process.Options{
		Env:           env,
		CaptureOutput: !flags.NoCapture,
		CaptureStderr: flags.CaptureStderr,
	}

	switch {
	case flags.InputFile != "" && cmd.Flags().Changed("input"):
		return process.Options{}, fmt.Errorf("--input and --input-file are mutually exclusive")
	case flags.InputFile != "":
		data, err := os.ReadFile(flags.InputFile)
		if err != nil {
			return process.Options{}, fmt.Errorf("failed to read input file: %w", err)
		}
		opts.Input = process.InputBytes(data)
	case cmd.Flags().Changed("input"):
		opts.Input = process.InputBytes([]byte(flags.Input))
	}

	return opts, nil
}

// pollUntilDone polls without blocking, reporting that the child is still working
func pollUntilDone(
	ctx context.Context,
	out io.Writer,
	orchestrator procp.Orchestrator,
	p procp.Process,
	timeout time.Duration,
	interval time.Duration,
) (process.ExitStatus, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if status, done := orchestrator.Poll(p); done {
			return status, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			// A minimal bounded wait records the timeout on the process
			return orchestrator.Wait(ctx, p, time.Nanosecond)
		}

		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("child %d is working (%s)", p.PID(), formatDuration(p.Duration()))))

		select {
		case <-ctx.Done():
			return process.ExitStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// shellExitCode maps a status onto the code a shell would report
func shellExitCode(status process.ExitStatus) int {
	if status.WasKilled() {
		return 128 + int(status.Signal)
	}
	if status.Code < 0 || status.Code > 255 {
		return 1
	}
	return status.Code
}
