package runner

import (
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"github.com/brashline/with-server/pkg/lib/output_storage"
	"go.uber.org/zap"
)

// Start spawns command in a new process group with stdout and stderr merged
// into one in-memory stream. Stdin is /dev/null. The process keeps running
// until it exits on its own or Terminate is called.
func (runner *Runner) Start(id string, command lib.Command) (*ManagedProcess, error) {
	if command.IsEmpty() {
		return nil, fmt.Errorf("%w: command is required", ErrSpawnFailed)
	}
	if id == "" {
		id = lib.NewID()
	}
	logger := runner.logger.With(zap.String("process", id))

	// The same writer for both streams makes exec use a single pipe, so
	// ordering between stdout and stderr is preserved.
	output := output_storage.RunNewOutputStorage(logger)

	logger.Debug("starting process", zap.Stringer("command", command))
	attr := newSysProcAttr(runner.cgroup, id, logger)
	cmd := runner.command(command, attr, output)
	err := cmd.Start()
	if attr.File != nil {
		_ = attr.File.Close()
	}
	if err != nil && attr.CgroupPath != "" {
		// Some kernels and hybrid hierarchies refuse clone into a cgroup even
		// though the directory was created. An exec.Cmd starts only once.
		cleanupCgroup(attr.CgroupPath)
		logger.Debug("start in cgroup failed, retrying with the process group only", zap.Error(err))
		attr = sysProcAttr{Raw: processGroupAttr()}
		cmd = runner.command(command, attr, output)
		err = cmd.Start()
	}
	if err != nil {
		output.Stop()
		cleanupCgroup(attr.CgroupPath)
		logger.Debug("failed to start process", zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, command, err)
	}

	p := &ManagedProcess{
		cmd:    cmd,
		cgroup: attr.CgroupPath,
		logger: logger,
		output: output,
		done:   make(chan struct{}),
		state:  lib.ProcessStateStarting,
		start:  time.Now(),
	}
	p.pid = cmd.Process.Pid
	p.pgid = processGroupOf(p.pid)
	logger.Debug("process started", zap.Int("pid", p.pid), zap.Int("pgid", p.pgid))

	go p.wait()

	return p, nil
}

func (runner *Runner) command(command lib.Command, attr sysProcAttr, output *output_storage.OutputStorage) *exec.Cmd {
	name, args := command.Resolve()
	cmd := exec.Command(name, args...)
	cmd.WaitDelay = runner.waitDelay
	cmd.SysProcAttr = attr.Raw
	cmd.Stdout = output
	cmd.Stderr = output
	return cmd
}

// wait reaps the process and records how it ended.
func (p *ManagedProcess) wait() {
	err := p.cmd.Wait()
	p.output.Stop()

	p.mu.Lock()
	state := p.cmd.ProcessState
	if state != nil {
		code := state.ExitCode()
		p.exitCode = &code
	}
	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			p.waitErr = err
		}
	}
	now := time.Now()
	p.end = &now
	p.state = lib.ProcessStateTerminated
	p.mu.Unlock()

	if err != nil {
		p.logger.Debug("process exited", zap.Error(err))
	} else {
		p.logger.Debug("process exited cleanly")
	}

	close(p.done)
}
