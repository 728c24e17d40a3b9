package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Options controls logger construction
type Options struct {
	Name   string
	Level  string
	Debug  bool
	JSON   bool
	Output io.Writer
}

// NewLogger creates the process-wide logger. Output defaults to stderr so that
// child stdout forwarded to the terminal is never interleaved with log lines.
func NewLogger(opts Options) hclog.Logger {
	level := ParseLevel(opts.Level)
	if opts.Debug {
		level = hclog.Debug
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	name := opts.Name
	if name == "" {
		name = "procorch"
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     output,
		JSONFormat: opts.JSON,
	})
}

// NewSilentLogger discards everything
func NewSilentLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Level:  hclog.Off,
		Output: io.Discard,
	})
}

// ParseLevel maps a config string to an hclog level, defaulting to warn
func ParseLevel(level string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return hclog.Warn
	case "off", "none", "silent":
		return hclog.Off
	}

	parsed := hclog.LevelFromString(level)
	if parsed == hclog.NoLevel {
		return hclog.Warn
	}
	return parsed
}
