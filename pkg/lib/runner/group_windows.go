//go:build windows

package runner

import (
	"os/exec"
	"strconv"
)

func processGroupOf(pid int) int { return pid }

// terminateGroup asks the process tree to close; without /F console servers
// may ignore it, which is what the kill phase is for.
func terminateGroup(p *ManagedProcess) error {
	return taskkill(p.pid, false)
}

func killGroup(p *ManagedProcess) error {
	return taskkill(p.pid, true)
}

func groupAlive(p *ManagedProcess) bool {
	return !p.Exited()
}

func taskkill(pid int, force bool) error {
	args := []string{"/T", "/PID", strconv.Itoa(pid)}
	if force {
		args = append([]string{"/F"}, args...)
	}
	// taskkill fails when the tree is already gone, which is not an error here.
	_ = exec.Command("taskkill", args...).Run()
	return nil
}
