// Package orchestrator runs a command against a dependency server: launch the
// server, wait until it accepts connections, run the payload, tear the server
// down. Teardown happens on every path, including interruption.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"github.com/brashline/with-server/pkg/lib/readiness"
	"github.com/brashline/with-server/pkg/lib/runner"
	"go.uber.org/zap"
)

// ErrInterrupted is recorded on outcomes cut short by cancellation.
var ErrInterrupted = errors.New("interrupted")

// outputDrainTimeout bounds how long teardown waits for forwarded server output.
const outputDrainTimeout = time.Second

// DefaultInterruptWindow is how long a finished payload waits for a
// cancellation that may still be on its way.
const DefaultInterruptWindow = 100 * time.Millisecond

// PayloadRunner runs the payload in the foreground and returns its exit code.
type PayloadRunner interface {
	Run(ctx context.Context, command lib.Command) (int, error)
}

// ProberFactory builds the readiness check for a spec.
type ProberFactory func(spec lib.LaunchSpec) (readiness.Prober, error)

// Orchestrator owns the dependency process for the duration of one Run.
type Orchestrator struct {
	controller   runner.Controller
	payload      PayloadRunner
	proberFor    ProberFactory
	logger       *zap.Logger
	serverOutput io.Writer
	console      io.Writer
	outputTail   int

	interruptWindow time.Duration
}

type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithProberFactory(f ProberFactory) Option {
	return func(o *Orchestrator) { o.proberFor = f }
}

// WithServerOutput streams the dependency's output to w as it is produced.
func WithServerOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.serverOutput = w }
}

// WithConsole prints separators around the payload's own output.
func WithConsole(w io.Writer) Option {
	return func(o *Orchestrator) { o.console = w }
}

// WithOutputTail sets how many lines of server output are logged when the
// server never becomes ready.
func WithOutputTail(n int) Option {
	return func(o *Orchestrator) { o.outputTail = n }
}

// WithInterruptWindow sets how long Run keeps watching ctx after the payload
// returns. Zero checks ctx once.
func WithInterruptWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.interruptWindow = d }
}

func New(controller runner.Controller, payload PayloadRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		controller: controller,
		payload:    payload,
		proberFor:  readiness.ForSpec,
		logger:     zap.NewNop(),
		outputTail: lib.DefaultOutputTail,

		interruptWindow: DefaultInterruptWindow,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one orchestration. It never returns before the dependency has
// been torn down (or abandoned after SIGKILL), and never blocks longer than
// the configured timeouts plus the payload's own runtime.
func (o *Orchestrator) Run(ctx context.Context, spec lib.LaunchSpec) (outcome lib.RunOutcome) {
	started := time.Now()
	outcome.RunID = lib.NewID()
	logger := o.logger.With(zap.String("run", outcome.RunID))
	defer func() { outcome.Elapsed = time.Since(started) }()

	if err := spec.Validate(); err != nil {
		outcome.Fail(lib.ErrorKindSpawnFailed, err)
		return outcome
	}
	prober, err := o.proberFor(spec)
	if err != nil {
		outcome.Fail(lib.ErrorKindSpawnFailed, fmt.Errorf("%w: %w", lib.ErrInvalidSpec, err))
		return outcome
	}

	logger.Info("starting server", zap.Stringer("command", spec.Server))
	proc, err := o.controller.Launch(outcome.RunID, spec.Server)
	if err != nil {
		logger.Error("server failed to start", zap.Error(err))
		outcome.Fail(lib.ErrorKindSpawnFailed, err)
		return outcome
	}
	outcome.ServerPID = proc.PID()

	var forwarded <-chan struct{}
	if o.serverOutput != nil {
		forwarded = proc.Output().Forward(o.serverOutput, "[server] ")
	}

	defer func() {
		outcome.ServerStopped = o.teardown(logger, proc, spec, forwarded)
	}()

	logger.Info("waiting for server",
		zap.String("address", spec.Address()),
		zap.String("probe", string(spec.Probe)),
		zap.Duration("timeout", spec.ReadyTimeout))

	waiter := readiness.Waiter{Interval: spec.PollInterval, Timeout: spec.ReadyTimeout, Logger: logger}
	waitStarted := time.Now()
	attempts, err := waiter.WaitReady(ctx, prober)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(logger, outcome, "waiting for server")
		}
		o.logNotReady(logger, proc, spec, err)
		outcome.Fail(lib.ErrorKindReadyTimeout, err)
		return outcome
	}
	outcome.ReadyAfter = time.Since(waitStarted)
	proc.SetState(lib.ProcessStateReady)
	logger.Info("server ready",
		zap.String("address", spec.Address()),
		zap.Int("attempts", attempts),
		zap.Duration("after", outcome.ReadyAfter))

	// An open socket does not mean the application finished initialising.
	if !sleepCtx(ctx, spec.SettleDelay) {
		return interrupted(logger, outcome, "settling")
	}

	proc.SetState(lib.ProcessStateRunning)
	logger.Info("running payload", zap.Stringer("command", spec.Payload))
	o.separator()
	code, err := o.payload.Run(ctx, spec.Payload)
	o.separator()
	outcome.PayloadRan = err == nil || !errors.Is(err, runner.ErrPayloadStart)
	outcome.PayloadExitCode = code

	// A terminal Ctrl-C reaches the payload and this process together. A
	// payload that handles SIGINT can exit before ctx is cancelled.
	cancelled := ctx.Err() != nil
	if !cancelled && !errors.Is(err, runner.ErrPayloadStart) {
		cancelled = !sleepCtx(ctx, o.interruptWindow)
	}

	switch {
	case cancelled:
		return interrupted(logger, outcome, "running payload")
	case errors.Is(err, runner.ErrPayloadStart):
		logger.Error("payload failed to start", zap.Error(err))
		outcome.Fail(lib.ErrorKindPayloadStartFailed, err)
	case err != nil:
		if outcome.PayloadExitCode == 0 {
			outcome.PayloadExitCode = lib.ExitCodeFailure
		}
		logger.Error("payload failed", zap.Error(err))
		outcome.Fail(lib.ErrorKindPayloadFailure, err)
	case code != 0:
		logger.Warn("payload failed", zap.Int("exit_code", code))
		outcome.Fail(lib.ErrorKindPayloadFailure, fmt.Errorf("payload exited with code %d", code))
	default:
		logger.Info("payload completed successfully")
	}
	return outcome
}

func (o *Orchestrator) teardown(logger *zap.Logger, proc runner.Process, spec lib.LaunchSpec, forwarded <-chan struct{}) bool {
	logger.Info("stopping server", zap.Int("pid", proc.PID()))
	res := proc.Terminate(spec.GracePeriod, spec.KillWait)
	switch {
	case !res.Stopped:
		logger.Error("server could not be stopped", zap.Int("pid", proc.PID()), zap.Error(res.Err))
	case res.Err != nil:
		logger.Warn("server stopped with errors", zap.Bool("forced", res.Forced), zap.Error(res.Err))
	case res.AlreadyExited:
		logger.Info("server had already exited")
	case res.Forced:
		logger.Warn("server killed after grace period", zap.Duration("grace", spec.GracePeriod))
	default:
		logger.Info("server stopped")
	}

	if forwarded != nil {
		timer := time.NewTimer(outputDrainTimeout)
		defer timer.Stop()
		select {
		case <-forwarded:
		case <-timer.C:
		}
	}
	return res.Stopped
}

func (o *Orchestrator) logNotReady(logger *zap.Logger, proc runner.Process, spec lib.LaunchSpec, err error) {
	fields := []zap.Field{zap.String("address", spec.Address()), zap.Duration("timeout", spec.ReadyTimeout), zap.Error(err)}
	if code, exited := proc.ExitCode(); exited {
		fields = append(fields, zap.Int("server_exit_code", code))
	}
	logger.Error("server failed to become ready", fields...)

	// With live forwarding on, the output has already been shown.
	if o.serverOutput != nil || o.outputTail <= 0 {
		return
	}
	if tail := proc.Output().Tail(o.outputTail); len(tail) > 0 {
		logger.Error("last server output:\n  " + strings.Join(tail, "\n  "))
	}
}

func (o *Orchestrator) separator() {
	if o.console != nil {
		_, _ = fmt.Fprintln(o.console, strings.Repeat("=", 60))
	}
}

func interrupted(logger *zap.Logger, outcome lib.RunOutcome, during string) lib.RunOutcome {
	logger.Warn("interrupted", zap.String("during", during))
	outcome.Fail(lib.ErrorKindInterrupted, fmt.Errorf("%w while %s", ErrInterrupted, during))
	return outcome
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
