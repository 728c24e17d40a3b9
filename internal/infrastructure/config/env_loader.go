package configinfra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvLoader applies PROCORCH_* variables from the process environment or a .env file
type EnvLoader struct {
	lookup func(string) (string, bool)
}

func NewEnvLoader() *EnvLoader { return &EnvLoader{lookup: os.LookupEnv} }

// NewEnvLoaderWithLookup reads variables through lookup instead of os.LookupEnv
func NewEnvLoaderWithLookup(lookup func(string) (string, bool)) *EnvLoader {
	return &EnvLoader{lookup: lookup}
}

var envKeys = []string{
	"PROCORCH_LOG_LEVEL",
	"PROCORCH_LOG_JSON",
	"PROCORCH_DEBUG",
	"PROCORCH_DEFAULT_TIMEOUT",
	"PROCORCH_KILL_GRACE",
	"PROCORCH_MAX_OUTPUT",
	"PROCORCH_POLL_INTERVAL",
	"PROCORCH_WAIT_DELAY",
}

// LoadEnv applies variables from the environment
func (l *EnvLoader) LoadEnv(cfg *Config) error {
	for _, key := range envKeys {
		if value, ok := l.lookup(key); ok && value != "" {
			if err := apply(cfg, key, value, "env:"+key); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadDotEnv applies PROCORCH_* assignments from a .env file, ignoring other keys
func (l *EnvLoader) LoadDotEnv(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if !strings.HasPrefix(key, "PROCORCH_") || value == "" {
			continue
		}
		if err := apply(cfg, key, value, fmt.Sprintf("%s:%s", path, key)); err != nil {
			return err
		}
	}

	return nil
}

func apply(cfg *Config, key, value, source string) error {
	var field string
	var err error

	switch key {
	case "PROCORCH_LOG_LEVEL":
		field = "log_level"
		cfg.LogLevel = value
	case "PROCORCH_LOG_JSON":
		field = "log_json"
		cfg.LogJSON, err = strconv.ParseBool(value)
	case "PROCORCH_DEBUG":
		field = "debug"
		cfg.Debug, err = strconv.ParseBool(value)
	case "PROCORCH_DEFAULT_TIMEOUT":
		field = "default_timeout"
		err = (*timeDuration)(&cfg.DefaultTimeout).parse(value)
	case "PROCORCH_KILL_GRACE":
		field = "kill_grace"
		err = (*timeDuration)(&cfg.KillGrace).parse(value)
	case "PROCORCH_MAX_OUTPUT":
		field = "max_output_bytes"
		cfg.MaxOutputBytes, err = ParseSize(value)
	case "PROCORCH_POLL_INTERVAL":
		field = "poll_interval"
		err = (*timeDuration)(&cfg.PollInterval).parse(value)
	case "PROCORCH_WAIT_DELAY":
		field = "wait_delay"
		err = (*timeDuration)(&cfg.WaitDelay).parse(value)
	default:
		return nil
	}

	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	cfg.Sources[field] = source
	return nil
}

type timeDuration time.Duration

func (d *timeDuration) parse(s string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = timeDuration(parsed)
	return nil
}
