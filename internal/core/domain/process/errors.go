package process

import (
	"errors"
	"fmt"
	"time"
)

// Orchestration errors
var (
	ErrSpawn        = errors.New("failed to spawn process")
	ErrTimeout      = errors.New("wait deadline exceeded")
	ErrInvalidChain = errors.New("invalid chain source")
	ErrNotStarted   = errors.New("process not started")
)

// SpawnError is returned when the executable cannot be found or the OS refuses to
// create the process
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// TimeoutExceeded is returned by a bounded wait whose deadline elapsed before exit.
// The process is left running.
type TimeoutExceeded struct {
	ProcessID string
	Timeout   time.Duration
}

func (e *TimeoutExceeded) Error() string {
	return fmt.Sprintf("process %s still running after %s", e.ProcessID, e.Timeout)
}

func (e *TimeoutExceeded) Is(target error) bool { return target == ErrTimeout }

// InvalidChainError is returned when an upstream output stream cannot be connected to
// a downstream process
type InvalidChainError struct {
	ProcessID string
	Reason    string
}

func (e *InvalidChainError) Error() string {
	return fmt.Sprintf("cannot chain from process %s: %s", e.ProcessID, e.Reason)
}

func (e *InvalidChainError) Is(target error) bool { return target == ErrInvalidChain }
