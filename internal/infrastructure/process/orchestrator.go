package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"kilometers.ai/procorch/internal/core/domain/process"
	procp "kilometers.ai/procorch/internal/core/ports/process"
)

// Settings tunes an Orchestrator
type Settings struct {
	// MaxOutputBytes bounds the in-memory copy of captured stdout; 0 means unbounded
	MaxOutputBytes int64
	// WaitDelay bounds how long output is still collected after a child exits, for
	// pipes held open by processes the child left behind. It covers stdin and
	// captured stderr through exec, and captured stdout through the pump. 0 waits
	// for the writers to close.
	WaitDelay time.Duration
	// Stdout receives the output of children that do not capture it
	Stdout io.Writer
	// Stderr receives stderr of children that do not capture it
	Stderr io.Writer
	// BaseEnv is the environment children inherit before overrides
	BaseEnv []string
}

// DefaultSettings inherits the orchestrator's own stdio and environment
func DefaultSettings() Settings {
	return Settings{
		MaxOutputBytes: 64 * 1024 * 1024,
		WaitDelay:      2 * time.Second,
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
		BaseEnv:        os.Environ(),
	}
}

// Orchestrator launches external commands as child processes and supervises them
type Orchestrator struct {
	settings Settings
	logger   hclog.Logger
}

// NewOrchestrator creates an orchestrator with default settings
func NewOrchestrator(logger hclog.Logger) *Orchestrator {
	return NewOrchestratorWithSettings(logger, DefaultSettings())
}

// NewOrchestratorWithSettings creates an orchestrator with custom settings
func NewOrchestratorWithSettings(logger hclog.Logger, settings Settings) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if settings.BaseEnv == nil {
		settings.BaseEnv = os.Environ()
	}

	return &Orchestrator{
		settings: settings,
		logger:   logger.Named("orchestrator"),
	}
}

// Launch starts cmd as a child process and returns without waiting for it
func (o *Orchestrator) Launch(ctx context.Context, cmd process.Command, opts process.Options) (procp.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	child, err := o.launch(cmd, opts)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// Chain launches cmd with its stdin connected directly to upstream's captured stdout.
// The upstream stream can be chained only once and only before it has been read.
func (o *Orchestrator) Chain(ctx context.Context, upstream procp.Process, cmd process.Command, opts process.Options) (procp.Process, error) {
	if upstream == nil {
		return nil, &process.InvalidChainError{ProcessID: "<nil>", Reason: "no upstream process"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts.Input = process.InputFrom(upstream.Stdout())
	child, err := o.launch(cmd, opts)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("chained process", "upstream", shortID(upstream.ID()), "downstream", shortID(child.ID()))
	return child, nil
}

func (o *Orchestrator) launch(cmd process.Command, opts process.Options) (*ChildProcess, error) {
	if opts.Dir != "" {
		cmd = cmd.WithWorkingDir(opts.Dir)
	}
	if err := cmd.IsValid(); err != nil {
		return nil, &process.SpawnError{Command: cmd.String(), Err: err}
	}

	id := uuid.NewString()
	logger := o.logger.With("id", shortID(id), "command", cmd.Executable())

	execCmd := exec.Command(cmd.Executable(), cmd.Args()...)
	// exec resolves the executable at construction; fail before touching any upstream
	if execCmd.Err != nil {
		return nil, &process.SpawnError{Command: cmd.String(), Err: execCmd.Err}
	}

	execCmd.Dir = cmd.WorkingDir()
	execCmd.Env = o.buildEnvironment(cmd.Env(), opts.Env)
	execCmd.WaitDelay = o.settings.WaitDelay

	child := &ChildProcess{
		id:        id,
		command:   cmd,
		cmd:       execCmd,
		logger:    logger,
		waitDelay: o.settings.WaitDelay,
		state:     process.StateNotStarted,
		done:      make(chan struct{}),
	}

	// Files the parent must close once the child holds its own copy
	var parentCopies []*os.File

	// A claimed upstream stream goes back to its owner if the child never starts
	var claimed io.ReadCloser
	var claimedFrom process.Stream

	if data, ok := opts.Input.Bytes(); ok {
		// exec feeds the buffer from its own goroutine and closes stdin afterwards,
		// so a large input cannot block against an undrained stdout.
		execCmd.Stdin = bytes.NewReader(data)
	} else if upstream, ok := opts.Input.Upstream(); ok {
		if upstream == nil {
			return nil, &process.InvalidChainError{ProcessID: "<nil>", Reason: "no upstream stream"}
		}
		rc, err := upstream.Claim()
		if err != nil {
			return nil, err
		}
		execCmd.Stdin = rc
		claimed, claimedFrom = rc, upstream
	}

	releaseUpstream := func() {
		if claimedFrom != nil {
			claimedFrom.Release(claimed)
		}
	}

	var stdoutRead *os.File
	if opts.CaptureOutput {
		r, w, err := os.Pipe()
		if err != nil {
			releaseUpstream()
			return nil, &process.SpawnError{Command: cmd.String(), Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
		}
		execCmd.Stdout = w
		stdoutRead = r
		parentCopies = append(parentCopies, w)
	} else {
		execCmd.Stdout = o.settings.Stdout
	}
	child.stdout = newOutput(id, stdoutRead, o.settings.MaxOutputBytes)

	if opts.CaptureStderr {
		child.stderr = &syncBuffer{}
		execCmd.Stderr = child.stderr
	} else {
		execCmd.Stderr = o.settings.Stderr
	}

	if err := execCmd.Start(); err != nil {
		closeFiles(parentCopies)
		child.stdout.closeUnclaimed()
		releaseUpstream()
		logger.Debug("spawn failed", "error", err)
		return nil, &process.SpawnError{Command: cmd.String(), Err: err}
	}

	closeFiles(parentCopies)
	if claimed != nil {
		// the child holds its own descriptor for a pipe; anything else is copied by exec
		if f, isFile := claimed.(*os.File); isFile {
			f.Close()
		} else {
			child.closers = append(child.closers, claimed)
		}
	}

	child.mu.Lock()
	child.state = process.StateRunning
	child.startedAt = time.Now()
	child.mu.Unlock()

	go child.monitor()

	logger.Debug("launched process", "pid", child.PID(), "capture", opts.CaptureOutput)
	return child, nil
}

// buildEnvironment appends overrides after the inherited environment; exec keeps the
// last value for duplicate keys
func (o *Orchestrator) buildEnvironment(envs ...map[string]string) []string {
	env := append([]string(nil), o.settings.BaseEnv...)

	for _, overrides := range envs {
		keys := make([]string, 0, len(overrides))
		for key := range overrides {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			env = append(env, fmt.Sprintf("%s=%s", key, overrides[key]))
		}
	}

	return env
}

// Poll reports the exit status without blocking
func (o *Orchestrator) Poll(p procp.Process) (process.ExitStatus, bool) {
	return p.Poll()
}

// Wait blocks until p exits or timeout elapses; timeout <= 0 waits forever.
// On timeout the process is left running and the caller decides whether to terminate.
func (o *Orchestrator) Wait(ctx context.Context, p procp.Process, timeout time.Duration) (process.ExitStatus, error) {
	status, err := p.Wait(ctx, timeout)
	if errors.Is(err, process.ErrTimeout) {
		o.logger.Info("process timed out", "id", shortID(p.ID()), "timeout", timeout)
	}
	return status, err
}

// Terminate requests termination of p; it is a no-op once p has exited
func (o *Orchestrator) Terminate(p procp.Process) error {
	return p.Terminate()
}

// Kill forcefully terminates p; it is a no-op once p has exited
func (o *Orchestrator) Kill(p procp.Process) error {
	return p.Kill()
}

// Stop terminates p, waits up to grace for it to exit, then kills it and waits again
func (o *Orchestrator) Stop(ctx context.Context, p procp.Process, grace time.Duration) (process.ExitStatus, error) {
	if status, ok := p.Poll(); ok {
		return status, nil
	}

	if err := p.Terminate(); err != nil {
		return process.ExitStatus{}, err
	}

	status, err := p.Wait(ctx, grace)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, process.ErrTimeout) {
		return process.ExitStatus{}, err
	}

	o.logger.Warn("process ignored termination, killing", "id", shortID(p.ID()), "grace", grace)
	if err := p.Kill(); err != nil {
		return process.ExitStatus{}, err
	}
	return p.Wait(ctx, 0)
}

// Communicate waits for p and returns its captured stdout and stderr
func (o *Orchestrator) Communicate(ctx context.Context, p procp.Process, timeout time.Duration) ([]byte, []byte, process.ExitStatus, error) {
	status, err := o.Wait(ctx, p, timeout)
	if err != nil {
		return nil, nil, process.ExitStatus{}, err
	}

	stdout, err := p.Stdout().ReadAll()
	if err != nil {
		return nil, nil, status, fmt.Errorf("failed to read output of process %s: %w", shortID(p.ID()), err)
	}

	return stdout, p.Stderr(), status, nil
}

// WaitAll waits on each process in order, applying timeout to each wait.
// Children run in parallel, so the total is roughly the slowest child.
func (o *Orchestrator) WaitAll(ctx context.Context, procs []procp.Process, timeout time.Duration) ([]process.ExitStatus, error) {
	statuses := make([]process.ExitStatus, 0, len(procs))
	for _, p := range procs {
		status, err := o.Wait(ctx, p, timeout)
		if err != nil {
			return statuses, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var _ procp.Orchestrator = (*Orchestrator)(nil)
