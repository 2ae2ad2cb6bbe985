//go:build !linux && !windows

package runner

import (
	"os"
	"syscall"

	"go.uber.org/zap"
)

type sysProcAttr struct {
	Raw        *syscall.SysProcAttr
	File       *os.File
	CgroupPath string
}

func defaultCgroup() cgroupConfig { return cgroupConfig{} }

func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func newSysProcAttr(_ cgroupConfig, _ string, _ *zap.Logger) sysProcAttr {
	return sysProcAttr{Raw: processGroupAttr()}
}

func killCgroup(string) error { return nil }

func cleanupCgroup(string) {}

func becomeSubreaper(*zap.Logger) {}

func reapGroup(*ManagedProcess) {}
