package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"kilometers.ai/procorch/internal/core/domain/process"
	procp "kilometers.ai/procorch/internal/core/ports/process"
)

// ChildProcess is a launched OS process owned by the orchestrator
type ChildProcess struct {
	id      string
	command process.Command
	cmd     *exec.Cmd
	stdout  *Output
	stderr  *syncBuffer
	logger  hclog.Logger

	// how long captured stdout is still pumped after exit; 0 waits for EOF
	waitDelay time.Duration

	// closed after cmd.Wait returns
	closers []io.Closer

	mu        sync.RWMutex
	state     process.State
	status    process.ExitStatus
	signalled process.ProcessSignal
	signalSet bool
	startedAt time.Time
	endedAt   time.Time
	done      chan struct{}
}

// ID returns the orchestrator-assigned identifier
func (p *ChildProcess) ID() string {
	return p.id
}

// PID returns the process ID
func (p *ChildProcess) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Command returns the launched command
func (p *ChildProcess) Command() process.Command {
	return p.command
}

// State returns the current lifecycle state
func (p *ChildProcess) State() process.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Stdout returns the captured output stream
func (p *ChildProcess) Stdout() procp.Output {
	return p.stdout
}

// Stderr returns captured stderr so far, nil when stderr was inherited
func (p *ChildProcess) Stderr() []byte {
	if p.stderr == nil {
		return nil
	}
	return p.stderr.Bytes()
}

// Done is closed when the process has exited
func (p *ChildProcess) Done() <-chan struct{} {
	return p.done
}

// Duration returns the time since launch, or the total runtime once completed
func (p *ChildProcess) Duration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.startedAt.IsZero() {
		return 0
	}
	if p.endedAt.IsZero() {
		return time.Since(p.startedAt)
	}
	return p.endedAt.Sub(p.startedAt)
}

// Poll returns the exit status and true if the process has exited
func (p *ChildProcess) Poll() (process.ExitStatus, bool) {
	select {
	case <-p.done:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.status, true
	default:
		return process.ExitStatus{}, false
	}
}

// Wait blocks until the process exits, the timeout elapses, or ctx is cancelled.
// Captured stdout is drained into memory while waiting so the child can never stall
// on a full pipe.
func (p *ChildProcess) Wait(ctx context.Context, timeout time.Duration) (process.ExitStatus, error) {
	if p.State() == process.StateNotStarted {
		return process.ExitStatus{}, process.ErrNotStarted
	}

	p.stdout.startPump()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-p.done:
		status, _ := p.Poll()
		return status, nil
	case <-deadline:
		if status, ok := p.Poll(); ok {
			return status, nil
		}
		p.mu.Lock()
		if p.state == process.StateRunning {
			p.state = process.StateTimedOut
		}
		p.mu.Unlock()
		p.logger.Debug("wait deadline exceeded", "timeout", timeout)
		return process.ExitStatus{}, &process.TimeoutExceeded{ProcessID: p.id, Timeout: timeout}
	case <-ctx.Done():
		return process.ExitStatus{}, ctx.Err()
	}
}

// Terminate sends SIGTERM. On Windows, where SIGTERM cannot be delivered, the process
// is killed instead.
func (p *ChildProcess) Terminate() error {
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.signal(process.SignalTerminate)
}

// Kill forcefully terminates the process
func (p *ChildProcess) Kill() error {
	return p.signal(process.SignalKill)
}

func (p *ChildProcess) signal(sig process.ProcessSignal) error {
	if !p.State().IsAlive() {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}

	p.mu.Lock()
	p.signalled = sig
	p.signalSet = true
	p.mu.Unlock()

	var err error
	if sig == process.SignalKill {
		err = p.cmd.Process.Kill()
	} else {
		err = p.cmd.Process.Signal(sig.OSSignal())
	}
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to send %s to process %s: %w", sig, p.id, err)
	}

	p.logger.Debug("signal sent", "signal", sig.String())
	return nil
}

func (p *ChildProcess) monitor() {
	err := p.cmd.Wait()

	for _, c := range p.closers {
		c.Close()
	}

	p.mu.Lock()
	p.status = p.exitStatus(err)
	p.state = process.StateCompleted
	p.endedAt = time.Now()
	status := p.status
	duration := p.endedAt.Sub(p.startedAt)
	p.mu.Unlock()

	close(p.done)

	if p.waitDelay > 0 {
		time.AfterFunc(p.waitDelay, p.stdout.expire)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.logger.Warn("wait reported an error", "error", err)
	}
	p.logger.Debug("process exited", "status", status.String(), "duration", duration)
}

// exitStatus must be called with p.mu held
func (p *ChildProcess) exitStatus(waitErr error) process.ExitStatus {
	state := p.cmd.ProcessState
	if state == nil {
		return process.Exited(-1)
	}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return process.Killed(ws.Signal())
	}

	// Windows has no signal exit status; report the kill we requested.
	if runtime.GOOS == "windows" && p.signalSet {
		if sig, ok := p.signalled.OSSignal().(syscall.Signal); ok {
			return process.Killed(sig)
		}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return process.Exited(exitErr.ExitCode())
	}
	return process.Exited(state.ExitCode())
}

var _ procp.Process = (*ChildProcess)(nil)
