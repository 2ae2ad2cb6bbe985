package lib

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ProcessState tracks the dependency process through one orchestration run.
type ProcessState int

const (
	ProcessStateStarting ProcessState = iota
	ProcessStateReady
	ProcessStateRunning
	ProcessStateTerminating
	ProcessStateTerminated
)

func (s ProcessState) String() string {
	switch s {
	case ProcessStateStarting:
		return "Starting"
	case ProcessStateReady:
		return "Ready"
	case ProcessStateRunning:
		return "Running"
	case ProcessStateTerminating:
		return "Terminating"
	case ProcessStateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// CommandKind distinguishes argv commands from raw shell lines.
type CommandKind int

const (
	CommandKindExec CommandKind = iota
	CommandKindShell
)

// Command captures a command to run. Exec commands keep argument boundaries
// exactly as given; shell commands are handed to the platform shell verbatim.
type Command struct {
	Kind CommandKind
	Argv []string
	Line string
}

// ExecCommand builds a command that is executed without a shell.
func ExecCommand(argv ...string) Command {
	return Command{Kind: CommandKindExec, Argv: append([]string(nil), argv...)}
}

// ShellCommand builds a command that is interpreted by the platform shell.
func ShellCommand(line string) Command {
	return Command{Kind: CommandKindShell, Line: line}
}

// CommandFromTokens treats a single token as a shell line and anything longer
// as an argv, so `-- "npm test && npm run lint"` and `-- npx playwright test`
// both behave the way they read.
func CommandFromTokens(tokens []string) Command {
	if len(tokens) == 1 {
		return ShellCommand(tokens[0])
	}
	return ExecCommand(tokens...)
}

// IsEmpty reports whether there is nothing to run.
func (c Command) IsEmpty() bool {
	if c.Kind == CommandKindShell {
		return strings.TrimSpace(c.Line) == ""
	}
	return len(c.Argv) == 0 || c.Argv[0] == ""
}

// Resolve returns the program and arguments to pass to exec.
func (c Command) Resolve() (string, []string) {
	if c.Kind == CommandKindShell {
		if runtime.GOOS == "windows" {
			return "cmd", []string{"/C", c.Line}
		}
		return "/bin/sh", []string{"-c", c.Line}
	}
	if len(c.Argv) == 0 {
		return "", nil
	}
	return c.Argv[0], append([]string(nil), c.Argv[1:]...)
}

func (c Command) String() string {
	if c.Kind == CommandKindShell {
		return c.Line
	}
	return strings.Join(c.Argv, " ")
}

// ProbeKind selects how readiness of the dependency is detected.
type ProbeKind string

const (
	ProbeTCP  ProbeKind = "tcp"
	ProbeGRPC ProbeKind = "grpc"
)

// Defaults applied by NewLaunchSpec and the CLI.
const (
	DefaultHost         = "localhost"
	DefaultReadyTimeout = 60 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultSettleDelay  = time.Second
	DefaultGracePeriod  = 5 * time.Second
	DefaultKillWait     = 2 * time.Second
	DefaultDialTimeout  = time.Second
	DefaultOutputTail   = 20
	DefaultProbeKind    = ProbeTCP

	maxPort = 65535
)

// ErrInvalidSpec is returned by LaunchSpec.Validate.
var ErrInvalidSpec = errors.New("invalid launch spec")

// LaunchSpec is the immutable input of one orchestration run.
type LaunchSpec struct {
	Server       Command
	Host         string
	Port         int
	ReadyTimeout time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration
	GracePeriod  time.Duration
	KillWait     time.Duration
	Probe        ProbeKind
	GRPCService  string
	Payload      Command
}

// NewLaunchSpec fills the optional fields with their defaults.
func NewLaunchSpec(server Command, port int, payload Command) LaunchSpec {
	return LaunchSpec{
		Server:       server,
		Host:         DefaultHost,
		Port:         port,
		ReadyTimeout: DefaultReadyTimeout,
		PollInterval: DefaultPollInterval,
		SettleDelay:  DefaultSettleDelay,
		GracePeriod:  DefaultGracePeriod,
		KillWait:     DefaultKillWait,
		Probe:        DefaultProbeKind,
		Payload:      payload,
	}
}

// Address returns host:port for dialing.
func (s LaunchSpec) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s LaunchSpec) Validate() error {
	if s.Server.IsEmpty() {
		return fmt.Errorf("%w: server command is required", ErrInvalidSpec)
	}
	if s.Payload.IsEmpty() {
		return fmt.Errorf("%w: payload command is required; use -- to separate it from flags", ErrInvalidSpec)
	}
	if s.Port < 1 || s.Port > maxPort {
		return fmt.Errorf("%w: port %d out of range [1,%d]", ErrInvalidSpec, s.Port, maxPort)
	}
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidSpec)
	}
	if s.ReadyTimeout <= 0 {
		return fmt.Errorf("%w: ready timeout must be positive", ErrInvalidSpec)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidSpec)
	}
	if s.SettleDelay < 0 {
		return fmt.Errorf("%w: settle delay must not be negative", ErrInvalidSpec)
	}
	if s.GracePeriod <= 0 {
		return fmt.Errorf("%w: grace period must be positive", ErrInvalidSpec)
	}
	if s.KillWait < 0 {
		return fmt.Errorf("%w: kill wait must not be negative", ErrInvalidSpec)
	}
	switch s.Probe {
	case ProbeTCP, ProbeGRPC:
	default:
		return fmt.Errorf("%w: unknown probe %q (want tcp or grpc)", ErrInvalidSpec, s.Probe)
	}
	return nil
}

// ErrorKind classifies why a run did not simply pass the payload result through.
type ErrorKind int

const (
	ErrorKindSpawnFailed ErrorKind = iota + 1
	ErrorKindReadyTimeout
	ErrorKindPayloadFailure
	ErrorKindPayloadStartFailed
	ErrorKindInterrupted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindSpawnFailed:
		return "SpawnFailed"
	case ErrorKindReadyTimeout:
		return "ReadyTimeout"
	case ErrorKindPayloadFailure:
		return "PayloadFailure"
	case ErrorKindPayloadStartFailed:
		return "PayloadStartFailed"
	case ErrorKindInterrupted:
		return "Interrupted"
	default:
		return "Unknown"
	}
}

// Exit codes used when the payload's own code does not apply.
const (
	ExitCodeFailure       = 1
	ExitCodeCommandFailed = 127
	ExitCodeInterrupted   = 130
)

// RunOutcome is produced once per orchestration run.
type RunOutcome struct {
	RunID           string
	ServerPID       int
	PayloadExitCode int
	PayloadRan      bool
	ServerStopped   bool
	FailureReason   *ErrorKind
	Err             error
	ReadyAfter      time.Duration
	Elapsed         time.Duration
}

// Failed reports whether the outcome carries the given failure kind.
func (o RunOutcome) Failed(kind ErrorKind) bool {
	return o.FailureReason != nil && *o.FailureReason == kind
}

// ExitCode is the status the orchestrating process should exit with.
func (o RunOutcome) ExitCode() int {
	if o.FailureReason == nil {
		return o.PayloadExitCode
	}
	switch *o.FailureReason {
	case ErrorKindInterrupted:
		return ExitCodeInterrupted
	case ErrorKindPayloadFailure:
		return o.PayloadExitCode
	case ErrorKindPayloadStartFailed:
		return ExitCodeCommandFailed
	default:
		return ExitCodeFailure
	}
}

// Fail sets the failure reason.
func (o *RunOutcome) Fail(kind ErrorKind, err error) {
	o.FailureReason = &kind
	o.Err = err
}
