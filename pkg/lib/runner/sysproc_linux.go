//go:build linux

package runner

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const defaultCgroupRoot = "/sys/fs/cgroup/with-server"

var (
	subreaperOnce sync.Once
	subreaper     bool
)

func defaultCgroup() cgroupConfig {
	return cgroupConfig{Root: defaultCgroupRoot, Supported: isCgroup2}
}

// isCgroup2 reports whether dir is on a cgroup v2 mount. A hybrid layout
// has a writable tmpfs at /sys/fs/cgroup where a plain directory would be
// created instead of a cgroup.
func isCgroup2(dir string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return false
	}
	return st.Type == unix.CGROUP2_SUPER_MAGIC
}

// becomeSubreaper makes orphaned descendants of our dependencies reparent to
// this process instead of init, so reapGroup can collect them and group
// liveness checks are not fooled by zombies nobody waits for.
func becomeSubreaper(logger *zap.Logger) {
	subreaperOnce.Do(func() {
		if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
			logger.Debug("cannot become child subreaper", zap.Error(err))
			return
		}
		subreaper = true
	})
}

// reapGroup collects exited members of the group. It must only run after the
// leader itself was reaped by exec.Cmd.Wait.
func reapGroup(p *ManagedProcess) {
	if !subreaper || p.pgid <= 0 {
		return
	}
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-p.pgid, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
	}
}

// sysProcAttr bundles the attributes for a new process with the cgroup
// directory it was placed in, if any. File must be closed after Start.
type sysProcAttr struct {
	Raw        *syscall.SysProcAttr
	File       *os.File
	CgroupPath string
}

func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// newSysProcAttr always puts the child in a new process group. As root, on a
// cgroup v2 mount, it also starts the child inside a dedicated cgroup, so
// descendants that left the group (setsid, daemonizing dev servers) can
// still be killed. Setup failures here fall back to the process group alone;
// Start retries without the cgroup if the kernel rejects it.
func newSysProcAttr(cg cgroupConfig, id string, logger *zap.Logger) sysProcAttr {
	attr := sysProcAttr{Raw: processGroupAttr()}
	if os.Geteuid() != 0 || cg.Root == "" {
		return attr
	}
	if cg.Supported == nil || !cg.Supported(filepath.Dir(cg.Root)) {
		logger.Debug("no cgroup v2 mount, using the process group only", zap.String("root", cg.Root))
		return attr
	}
	if err := os.MkdirAll(cg.Root, 0o755); err != nil {
		logger.Debug("cgroup root unavailable", zap.Error(err))
		return attr
	}

	path := filepath.Join(cg.Root, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		logger.Debug("cgroup setup failed", zap.Error(err))
		return attr
	}
	f, err := os.Open(path)
	if err != nil {
		_ = os.Remove(path)
		logger.Debug("cgroup open failed", zap.Error(err))
		return attr
	}

	attr.Raw.UseCgroupFD = true
	attr.Raw.CgroupFD = int(f.Fd())
	attr.File = f
	attr.CgroupPath = path
	return attr
}

func killCgroup(path string) error {
	err := os.WriteFile(filepath.Join(path, "cgroup.kill"), []byte("1"), 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// cleanupCgroup removes the cgroup directory; it only succeeds once empty.
func cleanupCgroup(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
