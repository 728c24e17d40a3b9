package configinfra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"kilometers.ai/procorch/internal/core/domain/batch"
)

// fileConfig mirrors Config with string-typed sizes and durations as written in files
type fileConfig struct {
	LogLevel       *string     `json:"log_level" yaml:"log_level"`
	LogJSON        *bool       `json:"log_json" yaml:"log_json"`
	Debug          *bool       `json:"debug" yaml:"debug"`
	DefaultTimeout *string     `json:"default_timeout" yaml:"default_timeout"`
	KillGrace      *string     `json:"kill_grace" yaml:"kill_grace"`
	MaxOutputBytes interface{} `json:"max_output_bytes" yaml:"max_output_bytes"`
	PollInterval   *string     `json:"poll_interval" yaml:"poll_interval"`
	WaitDelay      *string     `json:"wait_delay" yaml:"wait_delay"`
}

// FileLoader reads configuration and plan files in JSON or YAML
type FileLoader struct{}

func NewFileLoader() *FileLoader { return &FileLoader{} }

// LoadInto applies the settings present in the file at path onto cfg
func (l *FileLoader) LoadInto(path string, cfg *Config) error {
	var raw fileConfig
	if err := decodeFile(path, &raw); err != nil {
		return err
	}

	source := "file:" + path
	set := func(field string) { cfg.Sources[field] = source }

	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
		set("log_level")
	}
	if raw.LogJSON != nil {
		cfg.LogJSON = *raw.LogJSON
		set("log_json")
	}
	if raw.Debug != nil {
		cfg.Debug = *raw.Debug
		set("debug")
	}

	durations := []struct {
		field  string
		value  *string
		target *timeDuration
	}{
		{"default_timeout", raw.DefaultTimeout, (*timeDuration)(&cfg.DefaultTimeout)},
		{"kill_grace", raw.KillGrace, (*timeDuration)(&cfg.KillGrace)},
		{"poll_interval", raw.PollInterval, (*timeDuration)(&cfg.PollInterval)},
		{"wait_delay", raw.WaitDelay, (*timeDuration)(&cfg.WaitDelay)},
	}
	for _, d := range durations {
		if d.value == nil {
			continue
		}
		if err := d.target.parse(*d.value); err != nil {
			return fmt.Errorf("%s in %s: %w", d.field, path, err)
		}
		set(d.field)
	}

	if raw.MaxOutputBytes != nil {
		size, err := sizeFromValue(raw.MaxOutputBytes)
		if err != nil {
			return fmt.Errorf("max_output_bytes in %s: %w", path, err)
		}
		cfg.MaxOutputBytes = size
		set("max_output_bytes")
	}

	return nil
}

// LoadPlan reads, normalises and validates a batch plan
func (l *FileLoader) LoadPlan(path string) (*batch.Plan, error) {
	var plan batch.Plan
	if err := decodeFile(path, &plan); err != nil {
		return nil, err
	}

	plan.Normalize()
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return &plan, nil
}

// decodeFile parses path based on its extension, trying JSON then YAML otherwise
func decodeFile(path string, into interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, into); err != nil {
			return fmt.Errorf("failed to parse JSON %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, into); err != nil {
			return fmt.Errorf("failed to parse YAML %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, into); err != nil {
			if err := yaml.Unmarshal(data, into); err != nil {
				return fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	return nil
}

func sizeFromValue(v interface{}) (int64, error) {
	switch t := v.(type) {
	case string:
		return ParseSize(t)
	case float64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	default:
		return 0, fmt.Errorf("unsupported size value %v", v)
	}
}
