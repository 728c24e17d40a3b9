package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"kilometers.ai/procorch/internal/core/domain/batch"
)

// ParallelFlags holds command-line flags for the parallel and pipe commands
type ParallelFlags struct {
	Timeout    time.Duration
	Env        []string
	Input      string
	ShowOutput bool
}

// NewParallelCommand creates the parallel command
func NewParallelCommand(container *CLIContainer) *cobra.Command {
	flags := &ParallelFlags{}

	cmd := &cobra.Command{
		Use:   "parallel [flags] -- command [args...] ::: command [args...] ...",
		Short: "Run several child processes at the same time",
		Long: `Launch every command before waiting on any of them, so the total time is
about that of the slowest child rather than the sum of all of them.

Examples:
  procorch parallel -- sleep 0.1 ::: sleep 0.1 ::: sleep 0.1
  procorch parallel --timeout 1s --show-output -- date ::: uname -a`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := buildParallelPlan(cmd, container, flags, args)
			if err != nil {
				return err
			}
			return runPlan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), container, plan, flags.ShowOutput)
		},
	}

	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "Per-command timeout (default from config, 0 waits forever)")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "Environment override KEY=VALUE applied to every command (repeatable)")
	cmd.Flags().BoolVar(&flags.ShowOutput, "show-output", false, "Print each command's captured output")

	return cmd
}

// NewPipeCommand creates the pipe command
func NewPipeCommand(container *CLIContainer) *cobra.Command {
	flags := &ParallelFlags{}

	cmd := &cobra.Command{
		Use:   "pipe [flags] -- command [args...] ::: command [args...] ...",
		Short: "Chain child processes, each reading the previous one's output",
		Long: `Start every command at once with each command's stdout connected directly to
the next command's stdin, like a shell pipeline. The final command's output is
printed.

Examples:
  procorch pipe --input "Hello" -- cat ::: tr a-z A-Z
  procorch pipe --env password=secret --input "secret data" -- openssl enc -des3 -pass env:password ::: md5sum`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := buildPipePlan(cmd, container, flags, args)
			if err != nil {
				return err
			}
			return runPlan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), container, plan, true)
		},
	}

	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "Pipeline timeout (default from config, 0 waits forever)")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "Environment override KEY=VALUE applied to every stage (repeatable)")
	cmd.Flags().StringVar(&flags.Input, "input", "", "Text written to the first stage's stdin")

	return cmd
}

func planTimeout(cmd *cobra.Command, container *CLIContainer, flags *ParallelFlags) batch.Duration {
	if cmd.Flags().Changed("timeout") {
		return batch.Duration(flags.Timeout)
	}
	return batch.Duration(container.Config.DefaultTimeout)
}

func buildParallelPlan(cmd *cobra.Command, container *CLIContainer, flags *ParallelFlags, args []string) (*batch.Plan, error) {
	commands, err := ParseCommandGroups(args)
	if err != nil {
		return nil, err
	}
	env, err := ParseEnvPairs(flags.Env)
	if err != nil {
		return nil, err
	}

	plan := &batch.Plan{Name: "parallel", Timeout: planTimeout(cmd, container, flags)}
	for i, command := range commands {
		plan.Jobs = append(plan.Jobs, batch.Job{
			Name:    fmt.Sprintf("%d:%s", i+1, command.Executable()),
			Command: command.Argv(),
			Env:     env,
		})
	}
	return plan, nil
}

func buildPipePlan(cmd *cobra.Command, container *CLIContainer, flags *ParallelFlags, args []string) (*batch.Plan, error) {
	commands, err := ParseCommandGroups(args)
	if err != nil {
		return nil, err
	}
	env, err := ParseEnvPairs(flags.Env)
	if err != nil {
		return nil, err
	}

	job := batch.Job{Name: "pipeline", Env: env}
	for _, command := range commands {
		job.Pipeline = append(job.Pipeline, batch.Stage{Command: command.Argv()})
	}
	if cmd.Flags().Changed("input") {
		input := flags.Input
		job.Input = &input
	}

	return &batch.Plan{Name: "pipe", Timeout: planTimeout(cmd, container, flags), Jobs: []batch.Job{job}}, nil
}

// runPlan runs a plan to completion, writing job output to out and the results
// table to report
func runPlan(ctx context.Context, out, report io.Writer, container *CLIContainer, plan *batch.Plan, showOutput bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	results, summary, err := container.BatchService.Run(ctx, plan)
	if err != nil {
		return err
	}

	if showOutput {
		for _, r := range results {
			if len(results) > 1 {
				fmt.Fprintln(out, headerStyle.Render("== "+r.Name))
			}
			out.Write(r.Output)
		}
	}

	fmt.Fprintln(report, renderResults(results, summary))

	if summary.Failed > 0 {
		return &ExitCodeError{Code: 1}
	}
	return nil
}
