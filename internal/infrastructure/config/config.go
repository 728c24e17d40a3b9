package configinfra

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the orchestrator's runtime settings
type Config struct {
	LogLevel       string        `json:"log_level" yaml:"log_level"`
	LogJSON        bool          `json:"log_json" yaml:"log_json"`
	Debug          bool          `json:"debug" yaml:"debug"`
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`
	KillGrace      time.Duration `json:"kill_grace" yaml:"kill_grace"`
	MaxOutputBytes int64         `json:"max_output_bytes" yaml:"max_output_bytes"`
	PollInterval   time.Duration `json:"poll_interval" yaml:"poll_interval"`
	WaitDelay      time.Duration `json:"wait_delay" yaml:"wait_delay"`

	// Sources records where each field's value came from
	Sources map[string]string `json:"-" yaml:"-"`
	// Path is the config file that was read, if any
	Path string `json:"-" yaml:"-"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel:       "warn",
		DefaultTimeout: 0,
		KillGrace:      5 * time.Second,
		MaxOutputBytes: 64 * 1024 * 1024,
		PollInterval:   100 * time.Millisecond,
		WaitDelay:      2 * time.Second,
		Sources: map[string]string{
			"log_level":        "default",
			"log_json":         "default",
			"debug":            "default",
			"default_timeout":  "default",
			"kill_grace":       "default",
			"max_output_bytes": "default",
			"poll_interval":    "default",
			"wait_delay":       "default",
		},
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("default_timeout cannot be negative")
	}
	if c.KillGrace < 0 {
		return fmt.Errorf("kill_grace cannot be negative")
	}
	if c.MaxOutputBytes < 0 {
		return fmt.Errorf("max_output_bytes cannot be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.WaitDelay < 0 {
		return fmt.Errorf("wait_delay cannot be negative")
	}
	return nil
}

// Load builds the configuration from defaults, then a config file, then a .env file
// in the working directory, then PROCORCH_* environment variables. Later sources win.
//
// configPath may be empty, in which case PROCORCH_CONFIG is consulted and then
// procorch.yaml, procorch.yml and procorch.json in the working directory.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = os.Getenv("PROCORCH_CONFIG")
	}
	if configPath == "" {
		configPath = discoverConfigFile()
	}

	if configPath != "" {
		if err := NewFileLoader().LoadInto(configPath, cfg); err != nil {
			return nil, err
		}
		cfg.Path = configPath
	}

	if workDir, err := os.Getwd(); err == nil {
		envPath := filepath.Join(workDir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := NewEnvLoader().LoadDotEnv(envPath, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := NewEnvLoader().LoadEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func discoverConfigFile() string {
	workDir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for _, name := range []string{"procorch.yaml", "procorch.yml", "procorch.json"} {
		candidate := filepath.Join(workDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
