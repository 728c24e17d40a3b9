package process

import (
	"fmt"
	"syscall"
)

// State is the lifecycle state of a child process
type State int

const (
	StateNotStarted State = iota
	StateRunning
	// StateTimedOut means a bounded wait expired while the OS process was still alive.
	// The process is not killed implicitly and still counts as running.
	StateTimedOut
	StateCompleted
)

// String returns a lowercase name for the state
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateTimedOut:
		return "timed-out"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// IsAlive reports whether the OS process may still be executing
func (s State) IsAlive() bool {
	return s == StateRunning || s == StateTimedOut
}

// ExitKind tags how a child process ended
type ExitKind int

const (
	ExitKindExited ExitKind = iota
	ExitKindKilled
)

// ExitStatus is the final status of a completed child: Exited(code) or Killed(signal)
type ExitStatus struct {
	Kind   ExitKind
	Code   int
	Signal syscall.Signal
}

// Exited builds the status of a process that returned from main
func Exited(code int) ExitStatus {
	return ExitStatus{Kind: ExitKindExited, Code: code}
}

// Killed builds the status of a process ended by a signal
func Killed(sig syscall.Signal) ExitStatus {
	return ExitStatus{Kind: ExitKindKilled, Code: -int(sig), Signal: sig}
}

// Success reports Exited(0)
func (s ExitStatus) Success() bool {
	return s.Kind == ExitKindExited && s.Code == 0
}

// WasKilled reports whether the child ended by a signal
func (s ExitStatus) WasKilled() bool {
	return s.Kind == ExitKindKilled
}

// ReturnCode mirrors the negative-signal convention: the exit code for normal exits,
// minus the signal number for killed processes.
func (s ExitStatus) ReturnCode() int {
	if s.Kind == ExitKindKilled {
		return -int(s.Signal)
	}
	return s.Code
}

func (s ExitStatus) String() string {
	if s.Kind == ExitKindKilled {
		return fmt.Sprintf("killed(%s)", s.Signal)
	}
	return fmt.Sprintf("exited(%d)", s.Code)
}
