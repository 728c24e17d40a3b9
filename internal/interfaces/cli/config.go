package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	configinfra "kilometers.ai/procorch/internal/infrastructure/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand(container *CLIContainer) *cobra.Command {
	var configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration settings",
		Long: `Inspect the effective procorch configuration and where each value came from.

Values are read from defaults, a config file, a .env file in the working
directory, and PROCORCH_* environment variables, in increasing priority.`,
	}

	configCmd.AddCommand(NewConfigShowCommand(container))
	configCmd.AddCommand(NewConfigPathCommand(container))

	return configCmd
}

// NewConfigShowCommand creates the show subcommand
func NewConfigShowCommand(container *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			printConfig(cmd.OutOrStdout(), container.Config)
			return nil
		},
	}
}

func printConfig(out io.Writer, config *configinfra.Config) {
	values := map[string]string{
		"log_level":        config.LogLevel,
		"log_json":         fmt.Sprintf("%t", config.LogJSON),
		"debug":            fmt.Sprintf("%t", config.Debug),
		"default_timeout":  formatTimeout(config),
		"kill_grace":       config.KillGrace.String(),
		"max_output_bytes": formatMaxOutput(config.MaxOutputBytes),
		"poll_interval":    config.PollInterval.String(),
		"wait_delay":       config.WaitDelay.String(),
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Fprintln(out, headerStyle.Render("Current Configuration:"))
	for _, key := range keys {
		fmt.Fprintf(out, "%-17s %-12s %s\n", key+":", values[key], dimStyle.Render("("+config.Sources[key]+")"))
	}
}

func formatTimeout(config *configinfra.Config) string {
	if config.DefaultTimeout == 0 {
		return "none"
	}
	return config.DefaultTimeout.String()
}

func formatMaxOutput(n int64) string {
	if n == 0 {
		return "unbounded"
	}
	return formatBytes(int(n))
}

// NewConfigPathCommand creates the path subcommand
func NewConfigPathCommand(container *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := container.ConfigPath
			if path == "" {
				path = "(none, using defaults and environment)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file path: %s\n", path)
			return nil
		},
	}
}
