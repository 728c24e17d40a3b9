package cli

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilometers.ai/procorch/internal/application/services"
	configinfra "kilometers.ai/procorch/internal/infrastructure/config"
	procinfra "kilometers.ai/procorch/internal/infrastructure/process"
	"kilometers.ai/procorch/internal/logging"
)

func requireTools(t *testing.T, tools ...string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX tools required")
	}
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not found on PATH", tool)
		}
	}
}

func newTestContainer(t *testing.T) *CLIContainer {
	t.Helper()
	cfg := configinfra.Default()
	cfg.KillGrace = 500 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond

	logger := logging.NewSilentLogger()
	orchestrator := procinfra.NewOrchestrator(logger)
	return &CLIContainer{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orchestrator,
		BatchService: services.NewBatchService(orchestrator, logger, cfg.KillGrace),
		FileLoader:   configinfra.NewFileLoader(),
	}
}

// execute runs the root command and returns stdout, stderr and the exit code
func execute(t *testing.T, container *CLIContainer, args ...string) (string, string, int) {
	t.Helper()
	return executeContext(t, context.Background(), container, args...)
}

func executeContext(t *testing.T, ctx context.Context, container *CLIContainer, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand(container)
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	code := run(ctx, root, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestRunCommand(t *testing.T) {
	requireTools(t, "sh", "cat", "sleep")

	t.Run("forwards captured output", func(t *testing.T) {
		stdout, stderr, code := execute(t, newTestContainer(t), "run", "--", "sh", "-c", "echo Hello from the child!")
		assert.Equal(t, 0, code, stderr)
		assert.Equal(t, "Hello from the child!\n", stdout)
		assert.Contains(t, stderr, "exited(0)")
	})

	t.Run("non-zero exit becomes the exit code", func(t *testing.T) {
		_, stderr, code := execute(t, newTestContainer(t), "run", "--", "sh", "-c", "exit 3")
		assert.Equal(t, 3, code)
		assert.Contains(t, stderr, "exited(3)")
	})

	t.Run("input and environment", func(t *testing.T) {
		stdout, stderr, code := execute(t, newTestContainer(t),
			"run", "--input", "data", "--env", "GREETING=hi", "--", "sh", "-c", `printf "%s " "$GREETING"; cat`)
		assert.Equal(t, 0, code, stderr)
		assert.Equal(t, "hi data", stdout)
	})

	t.Run("input file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "in.txt")
		require.NoError(t, os.WriteFile(path, []byte("from file"), 0644))

		stdout, stderr, code := execute(t, newTestContainer(t), "run", "--input-file", path, "--", "cat")
		assert.Equal(t, 0, code, stderr)
		assert.Equal(t, "from file", stdout)
	})

	t.Run("timeout terminates the child", func(t *testing.T) {
		start := time.Now()
		_, stderr, code := execute(t, newTestContainer(t), "run", "--timeout", "200ms", "--", "sleep", "10")
		assert.Equal(t, 124, code)
		assert.Contains(t, stderr, "timed out")
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("poll mode reports progress", func(t *testing.T) {
		_, stderr, code := execute(t, newTestContainer(t), "run", "--poll", "--", "sleep", "0.2")
		assert.Equal(t, 0, code, stderr)
		assert.Contains(t, stderr, "is working")
	})

	t.Run("missing executable", func(t *testing.T) {
		_, stderr, code := execute(t, newTestContainer(t), "run", "--", "procorch-no-such-binary")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "Error:")
	})

	t.Run("rejects several commands", func(t *testing.T) {
		_, _, code := execute(t, newTestContainer(t), "run", "--", "true", ":::", "true")
		assert.Equal(t, 1, code)
	})
}

func TestParallelCommand(t *testing.T) {
	requireTools(t, "sleep")

	start := time.Now()
	_, stderr, code := execute(t, newTestContainer(t),
		"parallel", "--", "sleep", "0.4", ":::", "sleep", "0.4", ":::", "sleep", "0.4", ":::", "sleep", "0.4")
	elapsed := time.Since(start)

	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "4 jobs: 4 succeeded")
	assert.Less(t, elapsed, 1200*time.Millisecond, "children should run concurrently")
}

func TestPipeCommand(t *testing.T) {
	requireTools(t, "cat", "tr")

	stdout, stderr, code := execute(t, newTestContainer(t),
		"pipe", "--input", "hello pipes", "--", "cat", ":::", "tr", "a-z", "A-Z")
	assert.Equal(t, 0, code, stderr)
	assert.Equal(t, "HELLO PIPES", stdout)
	assert.Contains(t, stderr, "1 succeeded")
}

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestBatchCommand(t *testing.T) {
	requireTools(t, "sh", "cat", "tr", "sleep")

	path := writePlan(t, `
name: demo
jobs:
  - name: hello
    command: [sh, -c, "echo hello"]
  - name: upper
    input: "abc"
    pipeline:
      - command: [cat]
      - command: [tr, a-z, A-Z]
  - name: slow
    timeout: 200ms
    command: [sleep, "10"]
`)

	stdout, stderr, code := execute(t, newTestContainer(t), "batch", "--show-output", path)
	assert.Equal(t, 1, code, stderr)
	assert.Contains(t, stdout, "hello\n")
	assert.Contains(t, stdout, "ABC")
	assert.Contains(t, stdout, "3 jobs: 2 succeeded, 1 failed (1 timed out)")
}

func TestBatchCommand_InvalidPlan(t *testing.T) {
	path := writePlan(t, "name: empty\njobs: []\n")

	_, stderr, code := execute(t, newTestContainer(t), "batch", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}

func TestValidateCommand(t *testing.T) {
	requireTools(t, "sh")

	t.Run("all executables found", func(t *testing.T) {
		path := writePlan(t, "jobs:\n  - command: [sh, -c, 'true']\n")
		stdout, stderr, code := execute(t, newTestContainer(t), "validate", path)
		assert.Equal(t, 0, code, stderr)
		assert.Contains(t, stdout, "ok (1 jobs)")
	})

	t.Run("missing executable", func(t *testing.T) {
		path := writePlan(t, "jobs:\n  - name: ghost\n    command: [procorch-no-such-binary]\n")
		stdout, stderr, code := execute(t, newTestContainer(t), "validate", path)
		assert.Equal(t, 1, code)
		assert.Contains(t, stdout, "ghost")
		assert.Contains(t, stderr, "1 executable(s) not found")
	})
}

func TestConfigCommand(t *testing.T) {
	container := newTestContainer(t)

	stdout, _, code := execute(t, container, "config", "show")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "kill_grace:")
	assert.Contains(t, stdout, "(default)")
	assert.Contains(t, stdout, "64.0M")

	stdout, _, code = execute(t, container, "config", "path")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "using defaults")
}

func TestVersionFlag(t *testing.T) {
	stdout, _, code := execute(t, newTestContainer(t), "--version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "procorch version "+Version)
}

func TestRunCommand_StopsChildWhenWaitFails(t *testing.T) {
	requireTools(t, "sleep")
	container := newTestContainer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, stderr, code := executeContext(t, ctx, container, "run", "--timeout", "0", "--", "sleep", "10")

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "deadline exceeded")
	// run only returns once the output copy ends, which needs the child gone
	assert.Less(t, time.Since(start), 5*time.Second)
}
