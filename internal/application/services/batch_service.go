package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"kilometers.ai/procorch/internal/core/domain/batch"
	"kilometers.ai/procorch/internal/core/domain/process"
	procp "kilometers.ai/procorch/internal/core/ports/process"
)

// BatchService runs every job of a plan in parallel and collects the results
type BatchService struct {
	orchestrator procp.Orchestrator
	logger       hclog.Logger
	killGrace    time.Duration
}

// NewBatchService creates a new batch service
func NewBatchService(
	orchestrator procp.Orchestrator,
	logger hclog.Logger,
	killGrace time.Duration,
) *BatchService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &BatchService{
		orchestrator: orchestrator,
		logger:       logger.Named("batch"),
		killGrace:    killGrace,
	}
}

// JobRun is a launched job: one process per pipeline stage
type JobRun struct {
	Job       batch.Job
	Stages    []procp.Process
	Timeout   time.Duration
	StartedAt time.Time
	// LaunchErr is set when any stage failed to launch; no stage is left running
	LaunchErr error
}

// Last returns the final pipeline stage, or nil when launching failed
func (r *JobRun) Last() procp.Process {
	if len(r.Stages) == 0 {
		return nil
	}
	return r.Stages[len(r.Stages)-1]
}

// State reports the job's state as the state of its final stage
func (r *JobRun) State() process.State {
	last := r.Last()
	if last == nil || r.LaunchErr != nil {
		return process.StateCompleted
	}
	for _, stage := range r.Stages {
		if stage.State().IsAlive() {
			return last.State()
		}
	}
	return process.StateCompleted
}

// Execution is a plan whose jobs have all been launched
type Execution struct {
	Plan      *batch.Plan
	Runs      []*JobRun
	StartedAt time.Time
}

// Start launches every job without waiting for any of them
func (s *BatchService) Start(ctx context.Context, plan *batch.Plan) (*Execution, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	execution := &Execution{Plan: plan, StartedAt: time.Now()}
	for _, job := range plan.Jobs {
		run := s.launchJob(ctx, job, plan.JobTimeout(job))
		execution.Runs = append(execution.Runs, run)
	}

	s.logger.Info("batch started", "plan", plan.Name, "jobs", len(execution.Runs))
	return execution, nil
}

func (s *BatchService) launchJob(ctx context.Context, job batch.Job, timeout time.Duration) *JobRun {
	run := &JobRun{Job: job, Timeout: timeout, StartedAt: time.Now()}

	cmds, err := job.StageCommands()
	if err != nil {
		run.LaunchErr = err
		return run
	}
	stages := job.Stages()

	for i, cmd := range cmds {
		opts := process.Options{
			Env:           mergeEnv(job.Env, stages[i].Env),
			CaptureOutput: true,
			CaptureStderr: true,
			Dir:           job.Dir,
		}

		var p procp.Process
		if i == 0 {
			if job.Input != nil {
				opts.Input = process.InputBytes([]byte(*job.Input))
			}
			p, err = s.orchestrator.Launch(ctx, cmd, opts)
		} else {
			p, err = s.orchestrator.Chain(ctx, run.Stages[i-1], cmd, opts)
		}

		if err != nil {
			run.LaunchErr = fmt.Errorf("stage %d (%s): %w", i, cmd.Executable(), err)
			s.logger.Warn("job failed to launch", "job", job.Name, "error", run.LaunchErr)
			s.abandon(run)
			return run
		}
		run.Stages = append(run.Stages, p)
	}

	return run
}

// abandon stops stages that were launched before a later stage failed
func (s *BatchService) abandon(run *JobRun) {
	for _, p := range run.Stages {
		if _, err := s.orchestrator.Stop(context.Background(), p, s.killGrace); err != nil {
			s.logger.Warn("failed to stop abandoned stage", "job", run.Job.Name, "error", err)
		}
	}
}

// Collect waits for every job in plan order and gathers the results. Jobs that
// exceed their timeout are terminated, then killed after the grace period.
func (s *BatchService) Collect(ctx context.Context, execution *Execution) ([]batch.JobResult, error) {
	results := make([]batch.JobResult, 0, len(execution.Runs))
	for _, run := range execution.Runs {
		result, err := s.collectJob(ctx, run)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *BatchService) collectJob(ctx context.Context, run *JobRun) (batch.JobResult, error) {
	result := batch.JobResult{Name: run.Job.Name, Stages: len(run.Job.Stages())}
	if run.LaunchErr != nil {
		result.Err = run.LaunchErr
		return result, nil
	}

	var deadline time.Time
	if run.Timeout > 0 {
		deadline = run.StartedAt.Add(run.Timeout)
	}

	statuses := make([]process.ExitStatus, len(run.Stages))

	// Wait from the last stage backwards so its output is drained before upstream
	// stages are waited on.
	for i := len(run.Stages) - 1; i >= 0; i-- {
		p := run.Stages[i]

		var remaining time.Duration
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				remaining = time.Nanosecond
			}
		}

		status, err := s.orchestrator.Wait(ctx, p, remaining)
		if errors.Is(err, process.ErrTimeout) {
			result.TimedOut = true
			s.logger.Warn("job timed out", "job", run.Job.Name, "timeout", run.Timeout)
			if err := s.stopAll(ctx, run); err != nil {
				return result, err
			}
			status, _ = p.Poll()
		} else if err != nil {
			return result, err
		}
		statuses[i] = status
	}

	for i, p := range run.Stages {
		if status, ok := p.Poll(); ok {
			statuses[i] = status
		}
	}
	result.Status = pipelineStatus(statuses)

	last := run.Last()
	out, err := last.Stdout().ReadAll()
	if err != nil {
		return result, fmt.Errorf("failed to read output of job %s: %w", run.Job.Name, err)
	}
	result.Output = out
	result.Truncated = last.Stdout().Truncated()

	var stderr bytes.Buffer
	for _, p := range run.Stages {
		stderr.Write(p.Stderr())
	}
	result.Stderr = stderr.Bytes()
	result.Duration = last.Duration()

	s.logger.Debug("job finished", "job", run.Job.Name, "status", result.Status.String(), "duration", result.Duration)
	return result, nil
}

func (s *BatchService) stopAll(ctx context.Context, run *JobRun) error {
	for _, p := range run.Stages {
		if _, err := s.orchestrator.Stop(ctx, p, s.killGrace); err != nil {
			return fmt.Errorf("failed to stop job %s: %w", run.Job.Name, err)
		}
	}
	return nil
}

// Run starts the plan and waits for all of its jobs
func (s *BatchService) Run(ctx context.Context, plan *batch.Plan) ([]batch.JobResult, batch.Summary, error) {
	execution, err := s.Start(ctx, plan)
	if err != nil {
		return nil, batch.Summary{}, err
	}

	results, err := s.Collect(ctx, execution)
	summary := batch.Summarize(results, time.Since(execution.StartedAt))
	if err != nil {
		return results, summary, err
	}

	s.logger.Info("batch finished", "plan", plan.Name, "succeeded", summary.Succeeded, "failed", summary.Failed, "elapsed", summary.Elapsed)
	return results, summary, nil
}

// pipelineStatus reports the last stage's status unless it succeeded and an earlier
// stage failed, in which case the first failing stage wins
func pipelineStatus(statuses []process.ExitStatus) process.ExitStatus {
	if len(statuses) == 0 {
		return process.Exited(-1)
	}
	last := statuses[len(statuses)-1]
	if !last.Success() {
		return last
	}
	for _, status := range statuses {
		if !status.Success() {
			return status
		}
	}
	return last
}

func mergeEnv(maps ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}
