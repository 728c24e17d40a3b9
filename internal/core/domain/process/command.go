package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Command represents an external program to be launched as a child process
type Command struct {
	executable string
	args       []string
	workingDir string
	env        map[string]string
}

// NewCommand creates a new Command value object
func NewCommand(executable string, args []string) (Command, error) {
	if executable == "" {
		return Command{}, fmt.Errorf("executable cannot be empty")
	}

	return Command{
		executable: executable,
		args:       append([]string(nil), args...), // Copy slice
		env:        make(map[string]string),
	}, nil
}

// ParseArgv builds a Command from a program-plus-arguments sequence
func ParseArgv(argv []string) (Command, error) {
	if len(argv) == 0 {
		return Command{}, fmt.Errorf("command cannot be empty")
	}
	return NewCommand(argv[0], argv[1:])
}

// MustParseArgv is ParseArgv for static command lines; it panics on an empty argv
func MustParseArgv(argv ...string) Command {
	cmd, err := ParseArgv(argv)
	if err != nil {
		panic(err)
	}
	return cmd
}

// Executable returns the command executable
func (c Command) Executable() string {
	return c.executable
}

// Args returns a copy of the command arguments
func (c Command) Args() []string {
	return append([]string(nil), c.args...)
}

// WorkingDir returns the working directory for the command, empty means inherit
func (c Command) WorkingDir() string {
	return c.workingDir
}

// Env returns a copy of the environment overrides
func (c Command) Env() map[string]string {
	envCopy := make(map[string]string, len(c.env))
	for k, v := range c.env {
		envCopy[k] = v
	}
	return envCopy
}

// String returns a string representation of the command
func (c Command) String() string {
	if len(c.args) == 0 {
		return c.executable
	}
	return fmt.Sprintf("%s %s", c.executable, strings.Join(c.args, " "))
}

// Argv returns the complete command line including executable and args
func (c Command) Argv() []string {
	result := make([]string, 0, len(c.args)+1)
	result = append(result, c.executable)
	result = append(result, c.args...)
	return result
}

// WithEnv returns a new Command with an additional environment override
func (c Command) WithEnv(key, value string) Command {
	newEnv := c.Env()
	newEnv[key] = value

	return Command{
		executable: c.executable,
		args:       append([]string(nil), c.args...),
		workingDir: c.workingDir,
		env:        newEnv,
	}
}

// WithWorkingDir returns a new Command with a different working directory
func (c Command) WithWorkingDir(workingDir string) Command {
	if workingDir != "" && !filepath.IsAbs(workingDir) {
		if absDir, err := filepath.Abs(workingDir); err == nil {
			workingDir = absDir
		}
	}

	return Command{
		executable: c.executable,
		args:       append([]string(nil), c.args...),
		workingDir: workingDir,
		env:        c.Env(),
	}
}

// IsValid validates the command structure
func (c Command) IsValid() error {
	if c.executable == "" {
		return fmt.Errorf("executable cannot be empty")
	}

	if c.workingDir != "" {
		if stat, err := os.Stat(c.workingDir); err != nil || !stat.IsDir() {
			return fmt.Errorf("working directory does not exist: %s", c.workingDir)
		}
	}

	return nil
}
