package cli

import (
	"time"

	"github.com/spf13/cobra"

	"kilometers.ai/procorch/internal/core/domain/batch"
)

// BatchFlags holds command-line flags for the batch command
type BatchFlags struct {
	ShowOutput bool
	Timeout    time.Duration
}

// NewBatchCommand creates the batch command
func NewBatchCommand(container *CLIContainer) *cobra.Command {
	flags := &BatchFlags{}

	cmd := &cobra.Command{
		Use:   "batch PLAN",
		Short: "Run every job of a plan file in parallel",
		Long: `Run the jobs declared in a YAML or JSON plan file. Every job is launched up
front; pipeline jobs chain their stages. Jobs are then waited on in plan order,
and jobs that exceed their timeout are terminated.

Example plan:
  name: encrypt-and-hash
  timeout: 5s
  jobs:
    - name: hello
      command: [echo, "Hello from the child!"]
    - name: hash
      input: "some bytes"
      env: {password: secret}
      pipeline:
        - command: [openssl, enc, -des3, -pbkdf2, -pass, "env:password"]
        - command: [md5sum]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := container.FileLoader.LoadPlan(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timeout") {
				plan.Timeout = batch.Duration(flags.Timeout)
			}
			return runPlan(cmd.Context(), cmd.OutOrStdout(), cmd.OutOrStdout(), container, plan, flags.ShowOutput)
		},
	}

	cmd.Flags().BoolVar(&flags.ShowOutput, "show-output", false, "Print each job's captured output")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "Override the plan's default job timeout")

	return cmd
}
