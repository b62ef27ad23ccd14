package execution_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envmatrix/envmatrix/internal/execution"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test commands use /bin/sh")
	}
}

func TestExecuteCommandSuccess(t *testing.T) {
	requireUnix(t)

	executor := execution.NewLocalExecutor(0)
	result, err := executor.ExecuteCommand(context.Background(), &execution.CommandSpec{
		Argv: []string{"sh", "-c", "echo 3 passed"},
		Dir:  t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "3 passed")
	assert.False(t, result.TimedOut)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestExecuteCommandNonZeroExit(t *testing.T) {
	requireUnix(t)

	executor := execution.NewLocalExecutor(0)
	result, err := executor.ExecuteCommand(context.Background(), &execution.CommandSpec{
		Argv: []string{"sh", "-c", "echo boom >&2; exit 3"},
	})

	// Non-zero exit is a result, not an error.
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Output, "boom")
}

func TestExecuteCommandStartFailure(t *testing.T) {
	executor := execution.NewLocalExecutor(0)
	_, err := executor.ExecuteCommand(context.Background(), &execution.CommandSpec{
		Argv: []string{"definitely-not-a-real-binary-1f9b"},
	})
	require.Error(t, err)
}

func TestExecuteCommandEmptyArgv(t *testing.T) {
	executor := execution.NewLocalExecutor(0)
	_, err := executor.ExecuteCommand(context.Background(), &execution.CommandSpec{})
	require.Error(t, err)
}

func TestExecuteCommandTimeout(t *testing.T) {
	requireUnix(t)

	executor := execution.NewLocalExecutor(0)
	result, err := executor.ExecuteCommand(context.Background(), &execution.CommandSpec{
		Argv:    []string{"sleep", "5"},
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.NotEqual(t, 0, result.ExitCode)
}

func TestExecuteCommandCanceled(t *testing.T) {
	requireUnix(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	executor := execution.NewLocalExecutor(0)
	_, err := executor.ExecuteCommand(ctx, &execution.CommandSpec{
		Argv: []string{"sleep", "5"},
	})

	// Cancellation is an infrastructure error, not a command failure.
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteCommandEnvAndDir(t *testing.T) {
	requireUnix(t)

	dir := t.TempDir()
	executor := execution.NewLocalExecutor(0)
	result, err := executor.ExecuteCommand(context.Background(), &execution.CommandSpec{
		Argv: []string{"sh", "-c", "echo $GREETING $(pwd)"},
		Dir:  dir,
		Env:  []string{"PATH=/usr/bin:/bin", "GREETING=hello"},
	})
	require.NoError(t, err)

	assert.Contains(t, result.Output, "hello")
	assert.Contains(t, result.Output, dir)
}

func TestExecuteCommandOutputTail(t *testing.T) {
	requireUnix(t)

	// Only the last maxTail bytes of output are retained.
	executor := execution.NewLocalExecutor(64)
	result, err := executor.ExecuteCommand(context.Background(), &execution.CommandSpec{
		Argv: []string{"sh", "-c", "for i in $(seq 1 100); do echo line-$i; done"},
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(result.Output), 64)
	assert.Contains(t, result.Output, "line-100")
	assert.NotContains(t, result.Output, "line-1\n")
}

func TestRunQuiet(t *testing.T) {
	requireUnix(t)

	out, err := execution.RunQuiet(context.Background(), "sh", "-c", "echo ok")
	require.NoError(t, err)
	assert.Contains(t, string(out), "ok")

	out, err = execution.RunQuiet(context.Background(), "sh", "-c", "echo bad >&2; exit 1")
	require.Error(t, err)
	// Failure errors carry the command line and its output.
	assert.Contains(t, err.Error(), "bad")
	assert.Contains(t, string(out), "bad")
}
