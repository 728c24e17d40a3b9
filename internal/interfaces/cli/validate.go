package cli

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command
func NewValidateCommand(container *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate PLAN",
		Short: "Validate a plan file without running it",
		Long: `Validate a batch plan file and check that every command it names can be
found on the executable search path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, container, args[0])
		},
	}
}

// runValidate handles the validation process
func runValidate(cmd *cobra.Command, container *CLIContainer, path string) error {
	out := cmd.OutOrStdout()

	fmt.Fprint(out, "Checking plan... ")
	plan, err := container.FileLoader.LoadPlan(path)
	if err != nil {
		fmt.Fprintln(out, failureStyle.Render("failed"))
		return err
	}
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("ok (%d jobs)", len(plan.Jobs))))

	missing := 0
	for _, job := range plan.Jobs {
		cmds, err := job.StageCommands()
		if err != nil {
			return err
		}
		for _, c := range cmds {
			if _, err := exec.LookPath(c.Executable()); err != nil {
				missing++
				fmt.Fprintf(out, "  %s %s: %s\n", failureStyle.Render("✗"), job.Name, c.Executable())
				continue
			}
			fmt.Fprintf(out, "  %s %s: %s\n", successStyle.Render("✓"), job.Name, c.Executable())
		}
	}

	if missing > 0 {
		return fmt.Errorf("%d executable(s) not found", missing)
	}
	return nil
}
