// Package execution runs a single configured command and reports its
// outcome. Commands are never passed through a shell: the resolved
// argv is executed directly.
package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/theblitlabs/gologger"
)

// DefaultOutputTail is how much combined output a result retains.
const DefaultOutputTail = 32 * 1024

// CommandSpec describes one command invocation.
type CommandSpec struct {
	Argv    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// CommandResult is the outcome of a finished command. A non-zero
// ExitCode is a regular result, not an error: errors are reserved for
// failures to start or observe the process.
type CommandResult struct {
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
}

// CommandExecutor runs one command to completion.
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, spec *CommandSpec) (*CommandResult, error)
}

// LocalExecutor runs commands as host processes.
type LocalExecutor struct {
	maxTail int
}

// NewLocalExecutor creates an executor retaining up to maxTail bytes
// of combined output per command. Zero selects DefaultOutputTail.
func NewLocalExecutor(maxTail int) *LocalExecutor {
	if maxTail <= 0 {
		maxTail = DefaultOutputTail
	}
	return &LocalExecutor{maxTail: maxTail}
}

func (e *LocalExecutor) ExecuteCommand(ctx context.Context, spec *CommandSpec) (*CommandResult, error) {
	log := gologger.WithComponent("execution")

	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	tail := newTailBuffer(e.maxTail)
	sink := io.MultiWriter(tail, &lineLogger{log: log})
	cmd.Stdout = sink
	cmd.Stderr = sink

	log.Debug().
		Strs("argv", spec.Argv).
		Str("dir", spec.Dir).
		Dur("timeout", spec.Timeout).
		Msg("Executing command")

	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Output:   tail.String(),
		Duration: time.Since(start),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		// Cancellation is an interrupted run, not a command failure.
		if ctx.Err() != nil && !result.TimedOut {
			return nil, fmt.Errorf("command %s interrupted: %w", spec.Argv[0], ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			log.Debug().
				Strs("argv", spec.Argv).
				Int("exit_code", result.ExitCode).
				Bool("timed_out", result.TimedOut).
				Msg("Command exited non-zero")
			return result, nil
		}
		return nil, fmt.Errorf("failed to run %s: %w", spec.Argv[0], err)
	}

	log.Debug().
		Strs("argv", spec.Argv).
		Dur("duration", result.Duration).
		Msg("Command completed")
	return result, nil
}

// RunQuiet executes a short housekeeping command (interpreter probing,
// venv creation, docker calls) returning combined output. The command
// line and output are folded into the error for debuggability.
func RunQuiet(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		cmdStr := fmt.Sprintf("%s %s", name, strings.Join(args, " "))
		return output, fmt.Errorf("command failed: %s\noutput: %s\nerror: %w", cmdStr, string(output), err)
	}
	return output, nil
}
