package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"kilometers.ai/procorch/internal/core/domain/process"
	procp "kilometers.ai/procorch/internal/core/ports/process"
	"kilometers.ai/procorch/internal/core/testfixtures"
)

// requireTools skips the test unless the POSIX utilities it drives are available
func requireTools(t testing.TB, tools ...string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests rely on POSIX utilities")
	}
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not found on PATH", tool)
		}
	}
}

func newTestOrchestrator(t testing.TB) *Orchestrator {
	t.Helper()
	settings := DefaultSettings()
	settings.Stdout = io.Discard
	settings.Stderr = io.Discard
	settings.MaxOutputBytes = 0
	settings.WaitDelay = time.Second
	return NewOrchestratorWithSettings(hclog.NewNullLogger(), settings)
}

// cleanup makes sure a test never leaks a child
func cleanup(t testing.TB, o *Orchestrator, p procp.Process) {
	t.Cleanup(func() {
		_, _ = o.Stop(context.Background(), p, 100*time.Millisecond)
	})
}

func TestLaunch_MissingExecutable_ReturnsSpawnError(t *testing.T) {
	o := newTestOrchestrator(t)

	p, err := o.Launch(context.Background(), process.MustParseArgv("procorch-definitely-not-a-binary"), testfixtures.CaptureOptions())

	require.Error(t, err)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, process.ErrSpawn), "missing executable should be a spawn error")

	var spawnErr *process.SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Contains(t, spawnErr.Command, "procorch-definitely-not-a-binary")
}

func TestLaunch_MissingWorkingDir_ReturnsSpawnError(t *testing.T) {
	requireTools(t, "true")
	o := newTestOrchestrator(t)

	opts := testfixtures.CaptureOptions()
	opts.Dir = "/procorch/does/not/exist"
	_, err := o.Launch(context.Background(), process.MustParseArgv("true"), opts)

	assert.ErrorIs(t, err, process.ErrSpawn)
}

func TestLaunch_CancelledContext_DoesNotSpawn(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := o.Launch(ctx, process.MustParseArgv("true"), testfixtures.CaptureOptions())

	assert.Nil(t, p)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLaunch_ReturnsRunningProcessWithoutBlocking(t *testing.T) {
	requireTools(t, "sleep")
	o := newTestOrchestrator(t)

	start := time.Now()
	p, err := o.Launch(context.Background(), process.MustParseArgv("sleep", "2"), process.Options{})
	require.NoError(t, err)
	cleanup(t, o, p)

	assert.Less(t, time.Since(start), time.Second, "launch should not wait for the child")
	assert.Equal(t, process.StateRunning, p.State())
	assert.Greater(t, p.PID(), 0)
	assert.NotEmpty(t, p.ID())
}

func TestWait_NonZeroExit_IsReportedAsData(t *testing.T) {
	requireTools(t, "sh")
	o := newTestOrchestrator(t)

	p, err := o.Launch(context.Background(), testfixtures.Shell("exit 3"), process.Options{})
	require.NoError(t, err)

	status, err := o.Wait(context.Background(), p, 0)

	require.NoError(t, err)
	assert.Equal(t, process.Exited(3), status)
	assert.False(t, status.Success())
	assert.Equal(t, process.StateCompleted, p.State())
}

func TestPoll_IsNonBlockingAndIdempotent(t *testing.T) {
	requireTools(t, "sleep")
	o := newTestOrchestrator(t)

	p, err := o.Launch(context.Background(), process.MustParseArgv("sleep", "0.3"), process.Options{})
	require.NoError(t, err)

	_, done := o.Poll(p)
	assert.False(t, done, "child should still be working")

	polls := 0
	for {
		if _, done := o.Poll(p); done {
			break
		}
		polls++
		time.Sleep(10 * time.Millisecond)
	}
	assert.Greater(t, polls, 0)

	first, ok := o.Poll(p)
	require.True(t, ok)
	second, ok := o.Poll(p)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.True(t, first.Success())
}

func TestWaitAll_ChildrenRunInParallel(t *testing.T) {
	requireTools(t, "sleep")
	o := newTestOrchestrator(t)

	const n = 8
	const d = 400 * time.Millisecond

	start := time.Now()
	procs := make([]procp.Process, 0, n)
	for i := 0; i < n; i++ {
		p, err := o.Launch(context.Background(), process.MustParseArgv("sleep", "0.4"), process.Options{})
		require.NoError(t, err)
		procs = append(procs, p)
	}

	statuses, err := o.WaitAll(context.Background(), procs, 0)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, statuses, n)
	for _, status := range statuses {
		assert.True(t, status.Success())
	}
	assert.GreaterOrEqual(t, elapsed, d)
	assert.Less(t, elapsed, 3*d, "parallel children should take about one child's duration, took %s", elapsed)
}

func TestPipe_RoundTripPreservesBytes(t *testing.T) {
	requireTools(t, "cat")
	o := newTestOrchestrator(t)

	tests := []struct {
		name string
		size int
	}{
		{name: "Empty_ShouldRoundTrip", size: 0},
		{name: "Small_ShouldRoundTrip", size: 10},
		{name: "LargerThanPipeBuffer_ShouldRoundTrip", size: 1 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			rand.New(rand.NewSource(int64(tt.size))).Read(data)

			opts := testfixtures.CaptureOptions()
			opts.Input = process.InputBytes(data)
			p, err := o.Launch(context.Background(), process.MustParseArgv("cat"), opts)
			require.NoError(t, err)

			stdout, _, status, err := o.Communicate(context.Background(), p, 10*time.Second)
			require.NoError(t, err)
			assert.True(t, status.Success())
			assert.True(t, bytes.Equal(data, stdout), "output should equal input byte for byte")
		})
	}
}

func TestPipe_PropertyBased_RoundTrip(t *testing.T) {
	requireTools(t, "cat")
	o := newTestOrchestrator(t)

	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(0, 256*1024).Draw(rt, "size")
		seed := rapid.Int64().Draw(rt, "seed")
		data := make([]byte, size)
		rand.New(rand.NewSource(seed)).Read(data)

		opts := testfixtures.CaptureOptions()
		opts.Input = process.InputBytes(data)
		p, err := o.Launch(context.Background(), process.MustParseArgv("cat"), opts)
		require.NoError(rt, err)

		// Read before waiting: the caller drains while the child runs
		stdout, err := p.Stdout().ReadAll()
		require.NoError(rt, err)
		status, err := o.Wait(context.Background(), p, 10*time.Second)
		require.NoError(rt, err)

		assert.True(rt, status.Success())
		assert.True(rt, bytes.Equal(data, stdout), "round trip of %d bytes should be lossless", size)
	})
}

func TestWait_LargeOutputWithoutReader_DoesNotDeadlock(t *testing.T) {
	requireTools(t, "sh", "head")
	o := newTestOrchestrator(t)

	// 4MB is far beyond any pipe buffer; waiting must drain it
	p, err := o.Launch(context.Background(), testfixtures.Shell("head -c 4194304 /dev/zero"), testfixtures.CaptureOptions())
	require.NoError(t, err)
	cleanup(t, o, p)

	status, err := o.Wait(context.Background(), p, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, status.Success())

	out, err := p.Stdout().ReadAll()
	require.NoError(t, err)
	assert.Len(t, out, 4194304)
}

func TestWait_Timeout_LeavesProcessRunning(t *testing.T) {
	requireTools(t, "sleep")
	o := newTestOrchestrator(t)

	p, err := o.Launch(context.Background(), process.MustParseArgv("sleep", "10"), process.Options{})
	require.NoError(t, err)
	cleanup(t, o, p)

	const timeout = 200 * time.Millisecond
	start := time.Now()
	_, err = o.Wait(context.Background(), p, timeout)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, process.ErrTimeout)
	var timeoutErr *process.TimeoutExceeded
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, timeout, timeoutErr.Timeout)

	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)

	_, done := o.Poll(p)
	assert.False(t, done, "a timed out wait must not kill the child")
	assert.Equal(t, process.StateTimedOut, p.State())
	assert.True(t, p.State().IsAlive())

	require.NoError(t, o.Terminate(p))
	status, err := o.Wait(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, process.Killed(syscall.SIGTERM), status)
	assert.Equal(t, -int(syscall.SIGTERM), status.ReturnCode())
	assert.Equal(t, process.StateCompleted, p.State())
}

func TestWait_ContextCancelled_ReturnsContextError(t *testing.T) {
	requireTools(t, "sleep")
	o := newTestOrchestrator(t)

	p, err := o.Launch(context.Background(), process.MustParseArgv("sleep", "10"), process.Options{})
	require.NoError(t, err)
	cleanup(t, o, p)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = o.Wait(ctx, p, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, process.StateRunning, p.State())
}

func TestTerminate_IsIdempotent(t *testing.T) {
	requireTools(t, "sleep", "true")
	o := newTestOrchestrator(t)

	t.Run("TwiceWhileRunning_ShouldNotError", func(t *testing.T) {
		p, err := o.Launch(context.Background(), process.MustParseArgv("sleep", "10"), process.Options{})
		require.NoError(t, err)

		require.NoError(t, o.Terminate(p))
		require.NoError(t, o.Terminate(p))

		status, err := o.Wait(context.Background(), p, 5*time.Second)
		require.NoError(t, err)
		assert.True(t, status.WasKilled())

		require.NoError(t, o.Terminate(p))
		again, ok := o.Poll(p)
		require.True(t, ok)
		assert.Equal(t, status, again)
	})

	t.Run("AfterNaturalExit_ShouldKeepStatus", func(t *testing.T) {
		p, err := o.Launch(context.Background(), process.MustParseArgv("true"), process.Options{})
		require.NoError(t, err)

		status, err := o.Wait(context.Background(), p, 5*time.Second)
		require.NoError(t, err)

		require.NoError(t, o.Terminate(p))
		require.NoError(t, o.Kill(p))

		again, ok := o.Poll(p)
		require.True(t, ok)
		assert.Equal(t, process.Exited(0), again)
		assert.Equal(t, status, again)
	})
}

func TestStop_EscalatesToKill(t *testing.T) {
	requireTools(t, "sh", "sleep")
	o := newTestOrchestrator(t)

	// The ignored SIGTERM disposition survives exec
	p, err := o.Launch(context.Background(), testfixtures.Shell("trap '' TERM; exec sleep 10"), process.Options{})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	status, err := o.Stop(context.Background(), p, 200*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, process.Killed(syscall.SIGKILL), status)
}

func TestChain_ConnectsUpstreamOutputToDownstreamInput(t *testing.T) {
	requireTools(t, "cat")
	o := newTestOrchestrator(t)

	data := make([]byte, 300*1024)
	rand.New(rand.NewSource(7)).Read(data)

	upOpts := testfixtures.CaptureOptions()
	upOpts.Input = process.InputBytes(data)
	upstream, err := o.Launch(context.Background(), process.MustParseArgv("cat"), upOpts)
	require.NoError(t, err)

	downstream, err := o.Chain(context.Background(), upstream, process.MustParseArgv("cat"), testfixtures.CaptureOptions())
	require.NoError(t, err)

	upStatus, err := o.Wait(context.Background(), upstream, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, upStatus.Success())

	out, _, status, err := o.Communicate(context.Background(), downstream, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, status.Success())
	assert.True(t, bytes.Equal(data, out), "chained identity transform should reproduce upstream bytes")

	// Upstream output now belongs to the downstream process
	rest, err := upstream.Stdout().ReadAll()
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestChain_InvalidUpstream_ReturnsInvalidChainError(t *testing.T) {
	requireTools(t, "sh", "cat")
	o := newTestOrchestrator(t)

	tests := []struct {
		name    string
		prepare func(t *testing.T) procp.Process
	}{
		{
			name: "NotCaptured_ShouldFail",
			prepare: func(t *testing.T) procp.Process {
				p, err := o.Launch(context.Background(), testfixtures.Shell("echo hi"), process.Options{})
				require.NoError(t, err)
				return p
			},
		},
		{
			name: "AlreadyChained_ShouldFail",
			prepare: func(t *testing.T) procp.Process {
				p, err := o.Launch(context.Background(), testfixtures.Shell("echo hi"), testfixtures.CaptureOptions())
				require.NoError(t, err)
				down, err := o.Chain(context.Background(), p, process.MustParseArgv("cat"), process.Options{})
				require.NoError(t, err)
				_, err = o.Wait(context.Background(), down, 5*time.Second)
				require.NoError(t, err)
				return p
			},
		},
		{
			name: "AlreadyRead_ShouldFail",
			prepare: func(t *testing.T) procp.Process {
				p, err := o.Launch(context.Background(), testfixtures.Shell("echo hi"), testfixtures.CaptureOptions())
				require.NoError(t, err)
				_, err = p.Stdout().ReadAll()
				require.NoError(t, err)
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := tt.prepare(t)
			_, err := o.Wait(context.Background(), upstream, 5*time.Second)
			require.NoError(t, err)

			down, err := o.Chain(context.Background(), upstream, process.MustParseArgv("cat"), testfixtures.CaptureOptions())

			assert.Nil(t, down, "no process should be launched")
			require.Error(t, err)
			assert.ErrorIs(t, err, process.ErrInvalidChain)
			var chainErr *process.InvalidChainError
			require.True(t, errors.As(err, &chainErr))
			assert.Equal(t, upstream.ID(), chainErr.ProcessID)
		})
	}
}

func TestChain_NilUpstream_ReturnsInvalidChainError(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Chain(context.Background(), nil, process.MustParseArgv("cat"), testfixtures.CaptureOptions())

	assert.ErrorIs(t, err, process.ErrInvalidChain)
}

func TestOutput_SecondReadIsEmpty(t *testing.T) {
	requireTools(t, "sh")
	o := newTestOrchestrator(t)

	p, err := o.Launch(context.Background(), testfixtures.Shell("printf 'Hello from the child!'"), testfixtures.CaptureOptions())
	require.NoError(t, err)

	first, err := p.Stdout().ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "Hello from the child!", string(first))

	second, err := p.Stdout().ReadAll()
	require.NoError(t, err)
	assert.Empty(t, second)

	n, err := p.Stdout().Read(make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOutput_TruncatesBeyondLimit(t *testing.T) {
	requireTools(t, "sh", "head")
	settings := DefaultSettings()
	settings.Stdout = io.Discard
	settings.Stderr = io.Discard
	settings.MaxOutputBytes = 1024
	o := NewOrchestratorWithSettings(hclog.NewNullLogger(), settings)

	p, err := o.Launch(context.Background(), testfixtures.Shell("head -c 100000 /dev/zero"), testfixtures.CaptureOptions())
	require.NoError(t, err)

	out, _, status, err := o.Communicate(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, status.Success(), "the child must not block once the limit is reached")
	assert.Len(t, out, 1024)
	assert.True(t, p.Stdout().Truncated())
}

func TestLaunch_EnvironmentOverridesAreMerged(t *testing.T) {
	requireTools(t, "sh")
	o := NewOrchestratorWithSettings(hclog.NewNullLogger(), Settings{
		BaseEnv: []string{"PATH=/usr/bin:/bin", "KEEP=inherited", "PASSWORD=old"},
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	})

	opts := testfixtures.CaptureOptions()
	opts.Env = map[string]string{"PASSWORD": "secret"}
	p, err := o.Launch(context.Background(), testfixtures.Shell(`printf '%s:%s' "$KEEP" "$PASSWORD"`), opts)
	require.NoError(t, err)

	out, _, _, err := o.Communicate(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "inherited:secret", string(out))
}

func TestLaunch_CaptureStderr(t *testing.T) {
	requireTools(t, "sh")
	o := newTestOrchestrator(t)

	opts := testfixtures.CaptureOptions()
	p, err := o.Launch(context.Background(), testfixtures.Shell("echo out; echo oops >&2"), opts)
	require.NoError(t, err)

	stdout, stderr, status, err := o.Communicate(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, status.Success())
	assert.Equal(t, "out\n", string(stdout))
	assert.Equal(t, "oops\n", string(stderr))
}

func TestLaunch_UncapturedOutputGoesToConfiguredWriter(t *testing.T) {
	requireTools(t, "sh")
	var sink bytes.Buffer
	settings := DefaultSettings()
	settings.Stdout = &sink
	settings.Stderr = io.Discard
	o := NewOrchestratorWithSettings(hclog.NewNullLogger(), settings)

	p, err := o.Launch(context.Background(), testfixtures.Shell("printf inherited"), process.Options{})
	require.NoError(t, err)

	_, err = o.Wait(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "inherited", sink.String())
	assert.False(t, p.Stdout().Captured())
}

func TestOutput_ActiveReaderReceivesEverythingBeyondLimit(t *testing.T) {
	requireTools(t, "sh", "head")
	settings := DefaultSettings()
	settings.Stdout = io.Discard
	settings.Stderr = io.Discard
	settings.MaxOutputBytes = 1024
	o := NewOrchestratorWithSettings(hclog.NewNullLogger(), settings)

	p, err := o.Launch(context.Background(), testfixtures.Shell("head -c 100000 /dev/zero"), testfixtures.CaptureOptions())
	require.NoError(t, err)
	defer cleanup(t, o, p)

	total := 0
	chunk := make([]byte, 512)
	for {
		n, err := p.Stdout().Read(chunk)
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}

	status, err := o.Wait(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, status.Success())
	assert.Equal(t, 100000, total, "a reader that keeps up must see every byte")
	assert.False(t, p.Stdout().Truncated())
}

func TestChain_FailedSpawnLeavesUpstreamChainable(t *testing.T) {
	requireTools(t, "sh", "cat")
	o := newTestOrchestrator(t)

	upstream, err := o.Launch(context.Background(), testfixtures.Shell("printf 'still here'"), testfixtures.CaptureOptions())
	require.NoError(t, err)
	defer cleanup(t, o, upstream)

	// A path with a separator skips the executable lookup and fails at start
	_, err = o.Chain(context.Background(), upstream, process.MustParseArgv("/procorch/no/such/bin"), testfixtures.CaptureOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, process.ErrSpawn)

	downstream, err := o.Chain(context.Background(), upstream, process.MustParseArgv("cat"), testfixtures.CaptureOptions())
	require.NoError(t, err)

	out, _, status, err := o.Communicate(context.Background(), downstream, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, status.Success())
	assert.Equal(t, "still here", string(out))
}

func TestCommunicate_BackgroundGrandchildDoesNotHoldOutput(t *testing.T) {
	requireTools(t, "sh", "sleep")
	settings := DefaultSettings()
	settings.Stdout = io.Discard
	settings.Stderr = io.Discard
	settings.WaitDelay = 200 * time.Millisecond
	o := NewOrchestratorWithSettings(hclog.NewNullLogger(), settings)

	p, err := o.Launch(context.Background(), testfixtures.Shell("(sleep 5) & printf hi"), process.Options{CaptureOutput: true})
	require.NoError(t, err)

	start := time.Now()
	out, _, status, err := o.Communicate(context.Background(), p, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, status.Success())
	assert.Equal(t, "hi", string(out))
	assert.Less(t, time.Since(start), 3*time.Second, "output collection should end after the wait delay")
}

func TestMonitor_ExitCodesAreNotReportedAsWaitErrors(t *testing.T) {
	requireTools(t, "sh")
	var logs bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &logs, Level: hclog.Warn})
	settings := DefaultSettings()
	settings.Stdout = io.Discard
	settings.Stderr = io.Discard
	o := NewOrchestratorWithSettings(logger, settings)

	p, err := o.Launch(context.Background(), testfixtures.Shell("exit 3"), process.Options{})
	require.NoError(t, err)

	status, err := o.Wait(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, process.Exited(3), status)
	assert.NotContains(t, logs.String(), "wait reported an error")
}
