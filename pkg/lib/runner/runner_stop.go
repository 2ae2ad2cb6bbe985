package runner

import (
	"errors"
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"go.uber.org/zap"
)

// groupPollInterval is how often group liveness is rechecked while waiting.
const groupPollInterval = 25 * time.Millisecond

// TerminateResult describes how teardown went.
type TerminateResult struct {
	// Stopped is true when neither the process nor any member of its group is left.
	Stopped bool
	// AlreadyExited is true when there was nothing left to signal.
	AlreadyExited bool
	// Forced is true when the group had to be killed.
	Forced bool
	Err    error
}

// Terminate asks the whole process group to exit with SIGTERM, waits up to
// grace, then kills what is left and waits up to killWait. It never blocks
// longer than grace+killWait. Only the first call does any work; later calls
// return the same result.
func (p *ManagedProcess) Terminate(grace, killWait time.Duration) TerminateResult {
	p.terminateOnce.Do(func() {
		p.terminateResult = p.terminate(grace, killWait)
		cleanupCgroup(p.cgroup)
		p.logger.Debug("terminate finished",
			zap.Bool("stopped", p.terminateResult.Stopped),
			zap.Bool("forced", p.terminateResult.Forced),
			zap.Bool("already_exited", p.terminateResult.AlreadyExited),
			zap.Error(p.terminateResult.Err))
	})
	return p.terminateResult
}

func (p *ManagedProcess) terminate(grace, killWait time.Duration) TerminateResult {
	if p.gone() {
		return TerminateResult{Stopped: true, AlreadyExited: true}
	}

	p.SetState(lib.ProcessStateTerminating)

	var errs []error
	if err := terminateGroup(p); err != nil {
		p.logger.Debug("graceful signal failed", zap.Error(err))
		errs = append(errs, err)
	}
	if p.waitGone(grace) {
		return TerminateResult{Stopped: true, Err: errors.Join(errs...)}
	}

	p.logger.Debug("process group still alive after grace period, killing", zap.Duration("grace", grace))
	if err := killGroup(p); err != nil {
		errs = append(errs, err)
	}
	if p.waitGone(killWait) {
		return TerminateResult{Stopped: true, Forced: true, Err: errors.Join(errs...)}
	}

	errs = append([]error{ErrStopTimeout}, errs...)
	return TerminateResult{Forced: true, Err: errors.Join(errs...)}
}

// gone reports whether the leader has been reaped and no group member remains.
func (p *ManagedProcess) gone() bool {
	if !p.Exited() {
		return false
	}
	reapGroup(p)
	return !groupAlive(p)
}

func (p *ManagedProcess) waitGone(d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()

	done := p.Done()
	for {
		if p.gone() {
			return true
		}
		select {
		case <-deadline.C:
			return p.gone()
		case <-done:
			done = nil
		case <-ticker.C:
		}
	}
}
