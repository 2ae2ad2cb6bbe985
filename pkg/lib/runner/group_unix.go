//go:build !windows

package runner

import (
	"errors"

	"golang.org/x/sys/unix"
)

func processGroupOf(pid int) int {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// Setpgid makes the child its own group leader.
		return pid
	}
	return pgid
}

// signalGroup delivers sig to every member of the group. Should the child
// somehow share our own group, only the child itself is signalled.
func signalGroup(p *ManagedProcess, sig unix.Signal) error {
	target := -p.pgid
	if p.pgid <= 0 || p.pgid == unix.Getpgrp() {
		target = p.pid
	}
	err := unix.Kill(target, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func terminateGroup(p *ManagedProcess) error {
	return signalGroup(p, unix.SIGTERM)
}

func killGroup(p *ManagedProcess) error {
	var errs []error
	if p.cgroup != "" {
		if err := killCgroup(p.cgroup); err != nil {
			errs = append(errs, err)
		}
	}
	if err := signalGroup(p, unix.SIGKILL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func groupAlive(p *ManagedProcess) bool {
	if p.pgid <= 0 || p.pgid == unix.Getpgrp() {
		return !p.Exited()
	}
	err := unix.Kill(-p.pgid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
