package batch

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"kilometers.ai/procorch/internal/core/domain/process"
)

// Duration is a time.Duration that decodes from strings like "1.5s" in JSON and YAML
type Duration time.Duration

// Std returns the standard library duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalYAML accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw interface{}) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	case int:
		*d = Duration(time.Duration(v))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Stage is one command in a pipeline
type Stage struct {
	Command []string          `json:"command" yaml:"command"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Job is either a single command or a pipeline of stages whose stdout feeds the
// next stage's stdin
type Job struct {
	Name     string            `json:"name" yaml:"name"`
	Command  []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Pipeline []Stage           `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Input    *string           `json:"input,omitempty" yaml:"input,omitempty"`
	Env      map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir      string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Timeout  Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Stages normalises a job into its pipeline stages
func (j Job) Stages() []Stage {
	if len(j.Pipeline) > 0 {
		return j.Pipeline
	}
	return []Stage{{Command: j.Command}}
}

// StageCommands builds the process commands for each stage
func (j Job) StageCommands() ([]process.Command, error) {
	stages := j.Stages()
	cmds := make([]process.Command, 0, len(stages))
	for i, stage := range stages {
		cmd, err := process.ParseArgv(stage.Command)
		if err != nil {
			return nil, fmt.Errorf("job %q stage %d: %w", j.Name, i, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Plan is a set of jobs launched together
type Plan struct {
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Jobs    []Job    `json:"jobs" yaml:"jobs"`
}

// JobTimeout returns the job's own timeout, falling back to the plan default
func (p *Plan) JobTimeout(j Job) time.Duration {
	if j.Timeout > 0 {
		return j.Timeout.Std()
	}
	return p.Timeout.Std()
}

// Normalize fills in missing job names
func (p *Plan) Normalize() {
	for i := range p.Jobs {
		if p.Jobs[i].Name == "" {
			p.Jobs[i].Name = fmt.Sprintf("job-%d", i+1)
		}
	}
}

// Validate checks the plan's structure
func (p *Plan) Validate() error {
	if len(p.Jobs) == 0 {
		return fmt.Errorf("plan has no jobs")
	}
	if p.Timeout < 0 {
		return fmt.Errorf("plan timeout cannot be negative")
	}

	seen := make(map[string]bool, len(p.Jobs))
	for i, job := range p.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job %d has no name", i+1)
		}
		if seen[job.Name] {
			return fmt.Errorf("duplicate job name %q", job.Name)
		}
		seen[job.Name] = true

		hasCommand := len(job.Command) > 0
		hasPipeline := len(job.Pipeline) > 0
		if hasCommand == hasPipeline {
			return fmt.Errorf("job %q must set exactly one of command or pipeline", job.Name)
		}
		if job.Timeout < 0 {
			return fmt.Errorf("job %q timeout cannot be negative", job.Name)
		}
		if _, err := job.StageCommands(); err != nil {
			return err
		}
	}

	return nil
}
