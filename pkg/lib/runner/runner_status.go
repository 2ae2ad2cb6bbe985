package runner

import (
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"github.com/brashline/with-server/pkg/lib/output_storage"
)

// Status is a point-in-time snapshot of a ManagedProcess.
type Status struct {
	State     lib.ProcessState
	PID       int
	PGID      int
	ExitCode  *int
	StartTime time.Time
	EndTime   *time.Time
	Err       error
}

// Status returns the current state, exit code and timestamps.
func (p *ManagedProcess) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Status{State: p.state, PID: p.pid, PGID: p.pgid, StartTime: p.start, Err: p.waitErr}
	if p.exitCode != nil {
		code := *p.exitCode
		st.ExitCode = &code
	}
	if p.end != nil {
		t := *p.end
		st.EndTime = &t
	}
	return st
}

func (p *ManagedProcess) State() lib.ProcessState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetState records an orchestration-level transition (Ready, Running).
// A process that has already been reaped stays Terminated.
func (p *ManagedProcess) SetState(state lib.ProcessState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == lib.ProcessStateTerminated {
		return
	}
	p.state = state
}

// Exited reports whether the process has been reaped.
func (p *ManagedProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Output is the merged stdout/stderr of the process.
func (p *ManagedProcess) Output() *output_storage.OutputStorage {
	return p.output
}

// ExitCode returns the exit code once the process has been reaped.
func (p *ManagedProcess) ExitCode() (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.exitCode == nil {
		return 0, false
	}
	return *p.exitCode, true
}
