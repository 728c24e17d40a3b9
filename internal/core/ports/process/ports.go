package process

import (
	"context"
	"io"
	"time"

	"kilometers.ai/procorch/internal/core/domain/process"
)

// Output is the captured stdout of a child process. Reads are single-pass: once the
// stream has been drained, further reads return no data.
type Output interface {
	io.Reader
	process.Stream

	// ReadAll blocks until the stream is exhausted and returns the unread remainder
	ReadAll() ([]byte, error)

	// Captured reports whether stdout was piped at launch
	Captured() bool

	// Truncated reports whether bytes were dropped because of the buffering limit
	Truncated() bool
}

// Process represents a launched child process
type Process interface {
	// ID returns the orchestrator-assigned identifier
	ID() string

	// PID returns the OS process ID, or -1 before launch
	PID() int

	// Command returns the launched command
	Command() process.Command

	// State returns the current lifecycle state
	State() process.State

	// Stdout returns the captured output stream
	Stdout() Output

	// Stderr returns captured stderr bytes so far
	Stderr() []byte

	// Poll returns the exit status and true once the process has exited, without blocking
	Poll() (process.ExitStatus, bool)

	// Wait blocks until exit or until timeout elapses; timeout <= 0 waits forever
	Wait(ctx context.Context, timeout time.Duration) (process.ExitStatus, error)

	// Terminate requests termination; a no-op once the process has exited
	Terminate() error

	// Kill forcefully terminates the process; a no-op once the process has exited
	Kill() error

	// Done is closed when the process has exited
	Done() <-chan struct{}

	// Duration returns the time since launch, or the total runtime once completed
	Duration() time.Duration
}

// Orchestrator launches and supervises child processes
type Orchestrator interface {
	Launch(ctx context.Context, cmd process.Command, opts process.Options) (Process, error)
	Chain(ctx context.Context, upstream Process, cmd process.Command, opts process.Options) (Process, error)
	Poll(p Process) (process.ExitStatus, bool)
	Wait(ctx context.Context, p Process, timeout time.Duration) (process.ExitStatus, error)
	Terminate(p Process) error
	Kill(p Process) error
	Stop(ctx context.Context, p Process, grace time.Duration) (process.ExitStatus, error)
	Communicate(ctx context.Context, p Process, timeout time.Duration) ([]byte, []byte, process.ExitStatus, error)
	WaitAll(ctx context.Context, procs []Process, timeout time.Duration) ([]process.ExitStatus, error)
}
