package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"kilometers.ai/procorch/internal/application/services"
	procp "kilometers.ai/procorch/internal/core/ports/process"
	configinfra "kilometers.ai/procorch/internal/infrastructure/config"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// CLIContainer holds all the dependencies for CLI commands
type CLIContainer struct {
	Config       *configinfra.Config
	Logger       hclog.Logger
	Orchestrator procp.Orchestrator
	BatchService *services.BatchService
	FileLoader   *configinfra.FileLoader
	ConfigPath   string

	MainContainer interface{} // Will be set to *di.Container, avoiding circular import
}

// NewRootCommand creates the base command when called without any subcommands
func NewRootCommand(container *CLIContainer) *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "procorch",
		Short: "procorch - run, chain and supervise child processes",
		Long: `procorch launches external commands as child processes running in parallel,
connects their output and input streams into pipelines, and enforces timeouts
with termination and kill escalation.

Commands are separated from procorch flags with --, and multiple commands are
separated from each other with :::.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfiguration(cmd, container); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return nil
		},
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Config file path (default is ./procorch.yaml or $PROCORCH_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error, off)")

	rootCmd.AddCommand(NewRunCommand(container))
	rootCmd.AddCommand(NewParallelCommand(container))
	rootCmd.AddCommand(NewPipeCommand(container))
	rootCmd.AddCommand(NewBatchCommand(container))
	rootCmd.AddCommand(NewWatchCommand(container))
	rootCmd.AddCommand(NewValidateCommand(container))
	rootCmd.AddCommand(NewConfigCommand(container))

	return rootCmd
}

// goVersion returns the Go version used to build the binary
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

// applyConfiguration reloads the container with flag overrides
func applyConfiguration(cmd *cobra.Command, container *CLIContainer) error {
	mainContainer, ok := container.MainContainer.(interface {
		Configure(configPath string, overrides Overrides) error
	})
	if !ok {
		return nil
	}

	var overrides Overrides
	configPath, _ := cmd.Flags().GetString("config")
	if cmd.Flags().Changed("debug") {
		debugMode, _ := cmd.Flags().GetBool("debug")
		overrides.Debug = &debugMode
	}
	if cmd.Flags().Changed("log-level") {
		level, _ := cmd.Flags().GetString("log-level")
		overrides.LogLevel = &level
	}

	return mainContainer.Configure(configPath, overrides)
}

// Overrides carries command-line settings that take precedence over configuration
type Overrides struct {
	Debug    *bool
	LogLevel *string
}

// ExitCodeError carries the exit code procorch should terminate with
type ExitCodeError struct {
	Code    int
	Message string
}

func (e *ExitCodeError) Error() string { return e.Message }

// Execute adds all child commands to the root command and sets flags appropriately.
// Cancelling ctx stops blocking waits; children are terminated by the commands
// that launched them.
func Execute(ctx context.Context, container *CLIContainer) {
	os.Exit(run(ctx, NewRootCommand(container), os.Stderr))
}

func run(ctx context.Context, rootCmd *cobra.Command, stderr io.Writer) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exitErr *ExitCodeError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(stderr, exitErr.Message)
			}
			return exitErr.Code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
