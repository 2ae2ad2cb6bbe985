package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"go.uber.org/zap"
)

// Foreground runs payload commands attached to the caller's terminal.
type Foreground struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Dir    string
	// GracePeriod is how long an interrupted payload gets before it is killed.
	GracePeriod time.Duration
	Logger      *zap.Logger
}

// NewForeground wires the payload to this process's standard streams.
func NewForeground(grace time.Duration, logger *zap.Logger) *Foreground {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Foreground{
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		GracePeriod: grace,
		Logger:      logger,
	}
}

// Run blocks until the payload exits and returns its exit code. A payload
// killed by a signal reports 128+signal, as a shell would. When ctx is
// cancelled the payload is interrupted, then killed after the grace period.
func (f *Foreground) Run(ctx context.Context, command lib.Command) (int, error) {
	if command.IsEmpty() {
		return 0, fmt.Errorf("%w: command is required", ErrPayloadStart)
	}

	name, args := command.Resolve()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = f.Stdin
	cmd.Stdout = f.Stdout
	cmd.Stderr = f.Stderr
	cmd.Dir = f.Dir
	cmd.Cancel = func() error {
		f.Logger.Debug("interrupting payload", zap.Int("pid", cmd.Process.Pid))
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = f.GracePeriod

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrPayloadStart, command, err)
	}

	err := cmd.Wait()
	if cmd.ProcessState == nil {
		return 0, err
	}

	code := exitCodeOf(cmd.ProcessState)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, ctx.Err()) && !errors.Is(err, exec.ErrWaitDelay) {
		return code, err
	}
	return code, nil
}

func exitCodeOf(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
