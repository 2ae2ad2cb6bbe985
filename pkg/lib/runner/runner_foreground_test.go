//go:build !windows

package runner

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestForeground(stdout *bytes.Buffer) *Foreground {
	f := NewForeground(time.Second, nil)
	f.Stdin = nil
	f.Stdout = stdout
	f.Stderr = stdout
	return f
}

func TestForegroundPassesExitCodeThrough(t *testing.T) {
	for _, code := range []int{0, 1, 42} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			var out bytes.Buffer
			got, err := newTestForeground(&out).Run(context.Background(), lib.ShellCommand(fmt.Sprintf("exit %d", code)))
			require.NoError(t, err)
			assert.Equal(t, code, got)
		})
	}
}

func TestProperty_ForegroundExitCodePassthrough(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		code := rapid.IntRange(0, 125).Draw(t, "code")
		var out bytes.Buffer
		got, err := newTestForeground(&out).Run(context.Background(), lib.ExecCommand("sh", "-c", fmt.Sprintf("exit %d", code)))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if got != code {
			t.Fatalf("exit code: got %d want %d", got, code)
		}
	})
}

func TestForegroundKeepsArgumentBoundaries(t *testing.T) {
	var out bytes.Buffer
	code, err := newTestForeground(&out).Run(context.Background(),
		lib.ExecCommand("sh", "-c", `printf '%s|' "$@"`, "sh", "a b", "c"))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "a b|c|", out.String())
}

func TestForegroundStartFailure(t *testing.T) {
	var out bytes.Buffer
	_, err := newTestForeground(&out).Run(context.Background(), lib.ExecCommand("/definitely/not/a/binary"))
	assert.ErrorIs(t, err, ErrPayloadStart)
}

func TestForegroundInterruptedOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	var out bytes.Buffer
	start := time.Now()
	code, err := newTestForeground(&out).Run(ctx, lib.ExecCommand("sleep", "30"))

	require.NoError(t, err)
	assert.Equal(t, 130, code, "SIGINT should surface as 128+2")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestForegroundKillsPayloadIgnoringInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	var out bytes.Buffer
	f := newTestForeground(&out)
	f.GracePeriod = 200 * time.Millisecond
	code, err := f.Run(ctx, lib.ShellCommand("trap '' INT; exec sleep 30"))

	require.NoError(t, err)
	assert.Equal(t, 137, code, "SIGKILL should surface as 128+9")
}
