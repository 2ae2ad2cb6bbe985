// Package runner starts dependency processes in their own process group and
// tears the whole group down again.
package runner

import (
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"github.com/brashline/with-server/pkg/lib/output_storage"
	"go.uber.org/zap"
)

var (
	// ErrSpawnFailed wraps any error that prevented the process from starting.
	ErrSpawnFailed = errors.New("process failed to start")

	// ErrStopTimeout is reported when the group survived both termination phases.
	ErrStopTimeout = errors.New("process group did not exit after SIGKILL")

	// ErrPayloadStart wraps errors starting a foreground payload command.
	ErrPayloadStart = errors.New("payload failed to start")
)

// defaultWaitDelay bounds how long Wait keeps reading output after the
// process exits, in case a descendant still holds the pipe open.
const defaultWaitDelay = time.Second

// Process is what the orchestrator needs from a running dependency.
type Process interface {
	PID() int
	Done() <-chan struct{}
	ExitCode() (int, bool)
	SetState(lib.ProcessState)
	Output() *output_storage.OutputStorage
	Terminate(grace, killWait time.Duration) TerminateResult
}

// Controller launches dependency processes.
type Controller interface {
	Launch(id string, command lib.Command) (Process, error)
}

// Runner launches processes for this library.
type Runner struct {
	logger    *zap.Logger
	waitDelay time.Duration
	cgroup    cgroupConfig
}

// cgroupConfig says where per-process cgroups are created and how to tell
// whether that location is a cgroup v2 hierarchy.
type cgroupConfig struct {
	Root      string
	Supported func(dir string) bool
}

type Option func(*Runner)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) { r.waitDelay = d }
}

// NewRunner creates a new Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{logger: zap.NewNop(), waitDelay: defaultWaitDelay, cgroup: defaultCgroup()}
	for _, opt := range opts {
		opt(r)
	}
	becomeSubreaper(r.logger)
	return r
}

// Launch implements Controller.
func (runner *Runner) Launch(id string, command lib.Command) (Process, error) {
	p, err := runner.Start(id, command)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ManagedProcess is a dependency started by Runner. It is owned by a single
// caller; only its status accessors are safe for concurrent use.
type ManagedProcess struct {
	cmd     *exec.Cmd
	pid     int
	pgid    int
	cgroup  string
	logger  *zap.Logger
	output  *output_storage.OutputStorage
	done    chan struct{}

	// status fields
	mu       sync.RWMutex
	state    lib.ProcessState
	exitCode *int
	waitErr  error
	start    time.Time
	end      *time.Time

	terminateOnce   sync.Once
	terminateResult TerminateResult
}

func (p *ManagedProcess) PID() int  { return p.pid }
func (p *ManagedProcess) PGID() int { return p.pgid }

// Done is closed once the process has been reaped.
func (p *ManagedProcess) Done() <-chan struct{} { return p.done }
