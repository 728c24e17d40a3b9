package process

import (
	"os"
	"syscall"
)

// ProcessSignal represents signals the orchestrator can deliver to a child
type ProcessSignal int

const (
	SignalTerminate ProcessSignal = iota // SIGTERM
	SignalInterrupt                      // SIGINT
	SignalKill                           // SIGKILL
)

// String returns the conventional signal name
func (s ProcessSignal) String() string {
	switch s {
	case SignalTerminate:
		return "SIGTERM"
	case SignalInterrupt:
		return "SIGINT"
	case SignalKill:
		return "SIGKILL"
	default:
		return "UNKNOWN"
	}
}

// OSSignal converts ProcessSignal to os.Signal
func (s ProcessSignal) OSSignal() os.Signal {
	switch s {
	case SignalTerminate:
		return syscall.SIGTERM
	case SignalInterrupt:
		return syscall.SIGINT
	case SignalKill:
		return syscall.SIGKILL
	default:
		return syscall.SIGTERM
	}
}
