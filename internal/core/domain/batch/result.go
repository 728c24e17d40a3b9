package batch

import (
	"time"

	"kilometers.ai/procorch/internal/core/domain/process"
)

// JobResult is the outcome of one job
type JobResult struct {
	Name     string
	Stages   int
	Status   process.ExitStatus
	Output   []byte
	Stderr   []byte
	TimedOut bool
	// Truncated is set when captured output exceeded the buffering limit
	Truncated bool
	Duration  time.Duration
	// Err holds a launch or chain failure; the job never ran to completion
	Err error
}

// Failed reports whether the job did not finish with exit status 0
func (r JobResult) Failed() bool {
	return r.Err != nil || r.TimedOut || !r.Status.Success()
}

// Summary counts outcomes across a batch
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	TimedOut  int
	Elapsed   time.Duration
}

// Summarize aggregates job results
func Summarize(results []JobResult, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Elapsed: elapsed}
	for _, r := range results {
		switch {
		case r.TimedOut:
			s.TimedOut++
			s.Failed++
		case r.Failed():
			s.Failed++
		default:
			s.Succeeded++
		}
	}
	return s
}
