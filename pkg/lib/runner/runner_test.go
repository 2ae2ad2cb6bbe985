//go:build !windows

package runner

import (
	"errors"
	"testing"
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func waitExited(t *testing.T, p *ManagedProcess) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d did not exit in time", p.PID())
	}
}

func groupGone(pgid int) bool {
	return errors.Is(unix.Kill(-pgid, 0), unix.ESRCH)
}

func TestStartCapturesMergedOutput(t *testing.T) {
	r := NewRunner()

	p, err := r.Start("merged", lib.ShellCommand("echo out; echo err 1>&2"))
	require.NoError(t, err)
	assert.Equal(t, p.PID(), p.PGID(), "child should lead its own process group")

	waitExited(t, p)

	assert.Equal(t, "out\nerr\n", p.Output().String())
	st := p.Status()
	assert.Equal(t, lib.ProcessStateTerminated, st.State)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 0, *st.ExitCode)
	assert.NotNil(t, st.EndTime)
}

func TestStartSpawnFailure(t *testing.T) {
	r := NewRunner()

	_, err := r.Start("missing", lib.ExecCommand("/definitely/not/a/binary"))
	assert.ErrorIs(t, err, ErrSpawnFailed)

	_, err = r.Start("empty", lib.ExecCommand())
	assert.ErrorIs(t, err, ErrSpawnFailed)
}

func TestLaunchReturnsNilProcessOnFailure(t *testing.T) {
	var c Controller = NewRunner()

	p, err := c.Launch("missing", lib.ExecCommand("/definitely/not/a/binary"))
	require.Error(t, err)
	assert.Nil(t, p)
}

func TestSetStateDoesNotResurrectExitedProcess(t *testing.T) {
	p, err := NewRunner().Start("short", lib.ExecCommand("true"))
	require.NoError(t, err)
	waitExited(t, p)

	p.SetState(lib.ProcessStateRunning)
	assert.Equal(t, lib.ProcessStateTerminated, p.State())
}

func TestTerminateStopsWholeGroup(t *testing.T) {
	r := NewRunner()

	// The backgrounded sleep is a grandchild that only a group signal reaches.
	p, err := r.Start("group", lib.ShellCommand("sleep 30 & sleep 30; wait"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	res := p.Terminate(2*time.Second, time.Second)

	assert.True(t, res.Stopped)
	assert.False(t, res.Forced)
	assert.False(t, res.AlreadyExited)
	assert.NoError(t, res.Err)
	assert.True(t, p.Exited())
	assert.True(t, groupGone(p.PGID()))
	assert.Equal(t, lib.ProcessStateTerminated, p.State())
}

func TestTerminateEscalatesToKill(t *testing.T) {
	r := NewRunner()

	// Ignored signals survive exec, so the sleep ignores SIGTERM as well.
	p, err := r.Start("stubborn", lib.ShellCommand("trap '' TERM; sleep 30"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	res := p.Terminate(200*time.Millisecond, 2*time.Second)

	assert.True(t, res.Stopped)
	assert.True(t, res.Forced)
	assert.Less(t, time.Since(start), 2200*time.Millisecond)
	assert.True(t, groupGone(p.PGID()))
}

func TestTerminateIsIdempotent(t *testing.T) {
	p, err := NewRunner().Start("quick", lib.ExecCommand("true"))
	require.NoError(t, err)
	waitExited(t, p)

	first := p.Terminate(time.Second, time.Second)
	second := p.Terminate(time.Second, time.Second)

	assert.True(t, first.Stopped)
	assert.True(t, first.AlreadyExited)
	assert.NoError(t, first.Err)
	assert.Equal(t, first, second)
}

func TestTerminateSweepsOrphanedGroupMembers(t *testing.T) {
	r := NewRunner(WithWaitDelay(100 * time.Millisecond))

	// The shell exits at once, leaving its background sleep in the group.
	p, err := r.Start("orphan", lib.ShellCommand("sleep 30 &"))
	require.NoError(t, err)
	waitExited(t, p)
	require.False(t, groupGone(p.PGID()), "background member should still be running")

	res := p.Terminate(2*time.Second, time.Second)

	assert.True(t, res.Stopped)
	assert.False(t, res.AlreadyExited)
	assert.True(t, groupGone(p.PGID()))
}
