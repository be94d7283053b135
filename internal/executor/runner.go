package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tyemirov/boshpulse/internal/failure"
)

// ProcessRunner starts an invocation and waits for it.
// A non-zero exit is reported through Result.ExitCode, not as an error.
type ProcessRunner interface {
	Run(ctx context.Context, invocation Invocation) (Result, error)
}

// OperatingSystemRunner runs invocations as child processes of the current process.
type OperatingSystemRunner struct{}

// NewOperatingSystemRunner constructs an OperatingSystemRunner.
func NewOperatingSystemRunner() OperatingSystemRunner {
	return OperatingSystemRunner{}
}

// Run starts the process in its own process group, drains both pipes
// concurrently and kills the group when the timeout or ctx expires.
func (runner OperatingSystemRunner) Run(ctx context.Context, invocation Invocation) (Result, error) {
	executable := invocation.Executable()
	if executable == "" {
		return Result{}, failure.New(failure.KindSpawn, invocation.Command, "empty argument vector")
	}
	runContext := ctx
	cancel := context.CancelFunc(func() {})
	if invocation.Timeout > 0 {
		runContext, cancel = context.WithTimeout(ctx, invocation.Timeout)
	}
	defer cancel()

	command := exec.Command(executable, invocation.Arguments[1:]...)
	command.Env = append(os.Environ(), invocation.Environment...)
	configureProcessGroup(command)

	stdoutPipe, err := command.StdoutPipe()
	if err != nil {
		return Result{}, failure.Wrap(failure.KindSpawn, invocation.Command, "open stdout pipe", err)
	}
	stderrPipe, err := command.StderrPipe()
	if err != nil {
		return Result{}, failure.Wrap(failure.KindSpawn, invocation.Command, "open stderr pipe", err)
	}
	if startErr := command.Start(); startErr != nil {
		return Result{}, failure.Wrap(failure.KindSpawn, invocation.Command, fmt.Sprintf("start %s", executable), startErr)
	}

	var stdoutBuffer, stderrBuffer bytes.Buffer
	var drainGroup errgroup.Group
	drainGroup.Go(func() error {
		_, copyErr := io.Copy(&stdoutBuffer, stdoutPipe)
		return copyErr
	})
	drainGroup.Go(func() error {
		_, copyErr := io.Copy(&stderrBuffer, stderrPipe)
		return copyErr
	})

	waitResult := make(chan error, 1)
	go func() {
		_ = drainGroup.Wait()
		waitResult <- command.Wait()
	}()

	select {
	case waitErr := <-waitResult:
		result := Result{Stdout: stdoutBuffer.Bytes(), Stderr: stderrBuffer.Bytes(), ExitCode: 0}
		if waitErr == nil {
			return result, nil
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, failure.Wrap(failure.KindSpawn, invocation.Command, "wait for process", waitErr)
	case <-runContext.Done():
		terminateProcessGroup(command)
		<-waitResult
		if ctx.Err() != nil {
			return Result{Stdout: stdoutBuffer.Bytes(), Stderr: stderrBuffer.Bytes(), ExitCode: -1},
				failure.Wrap(failure.KindInterrupted, invocation.Command, "interrupted", ctx.Err())
		}
		return Result{Stdout: stdoutBuffer.Bytes(), Stderr: stderrBuffer.Bytes(), ExitCode: -1},
			failure.New(failure.KindTimeout, invocation.Command, fmt.Sprintf("timeout after %s", invocation.Timeout.Round(time.Millisecond)))
	}
}
