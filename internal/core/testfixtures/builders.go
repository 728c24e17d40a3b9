package testfixtures

import (
	"fmt"
	"time"

	"kilometers.ai/procorch/internal/core/domain/batch"
	"kilometers.ai/procorch/internal/core/domain/process"
)

// PlanBuilder provides a builder pattern for creating test plans
type PlanBuilder struct {
	name    string
	timeout time.Duration
	jobs    []batch.Job
}

// NewPlanBuilder creates a new PlanBuilder with sensible defaults
func NewPlanBuilder() *PlanBuilder {
	return &PlanBuilder{name: "test-plan"}
}

// WithName sets the plan name
func (b *PlanBuilder) WithName(name string) *PlanBuilder {
	b.name = name
	return b
}

// WithTimeout sets the default job timeout
func (b *PlanBuilder) WithTimeout(timeout time.Duration) *PlanBuilder {
	b.timeout = timeout
	return b
}

// WithJob appends a job built by a JobBuilder
func (b *PlanBuilder) WithJob(job *JobBuilder) *PlanBuilder {
	b.jobs = append(b.jobs, job.Build())
	return b
}

// WithCommand appends a single-command job
func (b *PlanBuilder) WithCommand(name string, argv ...string) *PlanBuilder {
	return b.WithJob(NewJobBuilder(name).WithCommand(argv...))
}

// WithShell appends a job that runs script through sh -c
func (b *PlanBuilder) WithShell(name, script string) *PlanBuilder {
	return b.WithCommand(name, "sh", "-c", script)
}

// WithSleepers appends n jobs that each sleep for d
func (b *PlanBuilder) WithSleepers(n int, d time.Duration) *PlanBuilder {
	for i := 0; i < n; i++ {
		b.WithCommand(fmt.Sprintf("sleep-%d", i+1), "sleep", fmt.Sprintf("%.3f", d.Seconds()))
	}
	return b
}

// Build creates the plan without validating it
func (b *PlanBuilder) Build() *batch.Plan {
	jobs := make([]batch.Job, len(b.jobs))
	copy(jobs, b.jobs)
	return &batch.Plan{Name: b.name, Timeout: batch.Duration(b.timeout), Jobs: jobs}
}

// MustBuild creates the plan and panics if it is invalid (for test convenience)
func (b *PlanBuilder) MustBuild() *batch.Plan {
	plan := b.Build()
	plan.Normalize()
	if err := plan.Validate(); err != nil {
		panic(err)
	}
	return plan
}

// JobBuilder provides a builder pattern for creating test jobs
type JobBuilder struct {
	job batch.Job
}

// NewJobBuilder creates a job with the given name
func NewJobBuilder(name string) *JobBuilder {
	return &JobBuilder{job: batch.Job{Name: name}}
}

// WithCommand sets a single command
func (b *JobBuilder) WithCommand(argv ...string) *JobBuilder {
	b.job.Command = argv
	return b
}

// WithStage appends a pipeline stage
func (b *JobBuilder) WithStage(argv ...string) *JobBuilder {
	b.job.Pipeline = append(b.job.Pipeline, batch.Stage{Command: argv})
	return b
}

// WithInput sets the text written to the first stage
func (b *JobBuilder) WithInput(input string) *JobBuilder {
	b.job.Input = &input
	return b
}

// WithEnv adds an environment override
func (b *JobBuilder) WithEnv(key, value string) *JobBuilder {
	if b.job.Env == nil {
		b.job.Env = make(map[string]string)
	}
	b.job.Env[key] = value
	return b
}

// WithTimeout sets the job's own timeout
func (b *JobBuilder) WithTimeout(timeout time.Duration) *JobBuilder {
	b.job.Timeout = batch.Duration(timeout)
	return b
}

// Build creates the job
func (b *JobBuilder) Build() batch.Job {
	return b.job
}

// CaptureOptions returns launch options that capture stdout and stderr
func CaptureOptions() process.Options {
	opts := process.DefaultOptions()
	opts.CaptureOutput = true
	opts.CaptureStderr = true
	return opts
}

// Shell builds a command that runs script through sh -c
func Shell(script string) process.Command {
	return process.MustParseArgv("sh", "-c", script)
}
