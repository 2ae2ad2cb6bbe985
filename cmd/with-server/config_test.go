package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"github.com/brashline/with-server/pkg/lib/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*Config, []string) {
	t.Helper()
	root := NewRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, root.ParseFlags(args))
	configPath, err := root.Flags().GetString("config")
	require.NoError(t, err)
	cfg, err := LoadConfig(root.Flags(), configPath)
	require.NoError(t, err)
	return cfg, root.Flags().Args()
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, _ := parse(t, "--server", "npm run dev", "--port", "5173")

	assert.Equal(t, "npm run dev", cfg.Server)
	assert.Equal(t, 5173, cfg.Port)
	assert.Equal(t, lib.DefaultHost, cfg.Host)
	assert.Equal(t, 60, cfg.Timeout)
	assert.Equal(t, "tcp", cfg.Probe)
	assert.Equal(t, lib.DefaultSettleDelay, cfg.Settle)
	assert.Equal(t, lib.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, lib.DefaultGracePeriod, cfg.GracePeriod)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.ServerOutput)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	file := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server: from-file
port: 1111
timeout: 5
host: file-host
grace_period: 3s
log:
  level: debug
`), 0o600))
	t.Setenv("WITH_SERVER_PORT", "2222")
	t.Setenv("WITH_SERVER_HOST", "env-host")
	t.Setenv("WITH_SERVER_GRACE_PERIOD", "4s")

	cfg, _ := parse(t, "--config", file, "--port", "3333")

	assert.Equal(t, 3333, cfg.Port, "flag beats env")
	assert.Equal(t, "env-host", cfg.Host, "env beats file")
	assert.Equal(t, 4*time.Second, cfg.GracePeriod)
	assert.Equal(t, "from-file", cfg.Server, "file beats default")
	assert.Equal(t, 5, cfg.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_LogRotation(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	file := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
log:
  file: with-server.log
  max_size: 20
  compress: true
`), 0o600))
	t.Setenv("WITH_SERVER_LOG_MAX_BACKUPS", "9")

	cfg, _ := parse(t, "--config", file)
	logCfg := cfg.Logging()

	assert.Equal(t, "with-server.log", logCfg.File)
	assert.Equal(t, 20, logCfg.MaxSizeMB)
	assert.Equal(t, 9, logCfg.MaxBackups)
	assert.Equal(t, logging.DefaultMaxAgeDays, logCfg.MaxAgeDays)
	assert.True(t, logCfg.Compress)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	root := NewRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, root.ParseFlags(nil))
	_, err := LoadConfig(root.Flags(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_PayloadStopsFlagParsing(t *testing.T) {
	chdir(t, t.TempDir())
	_, args := parse(t, "--server", "srv", "--port", "1", "npx", "playwright", "test", "--headed")
	assert.Equal(t, []string{"npx", "playwright", "test", "--headed"}, args)

	_, args = parse(t, "--server", "srv", "--port", "1", "--", "echo", "--port", "2")
	assert.Equal(t, []string{"echo", "--port", "2"}, args)
}

func TestConfig_LaunchSpec(t *testing.T) {
	base := Config{
		Server:       "npm run dev",
		Host:         "127.0.0.1",
		Port:         5173,
		Timeout:      2,
		Probe:        "TCP",
		Settle:       time.Second,
		PollInterval: 100 * time.Millisecond,
		GracePeriod:  time.Second,
		KillWait:     time.Second,
	}

	t.Run("argv payload", func(t *testing.T) {
		cfg := base
		spec, err := cfg.LaunchSpec([]string{"npx", "playwright", "test"})
		require.NoError(t, err)
		assert.Equal(t, lib.ShellCommand("npm run dev"), spec.Server)
		assert.Equal(t, lib.ExecCommand("npx", "playwright", "test"), spec.Payload)
		assert.Equal(t, 2*time.Second, spec.ReadyTimeout)
		assert.Equal(t, lib.ProbeTCP, spec.Probe)
		assert.Equal(t, "127.0.0.1:5173", spec.Address())
	})

	t.Run("single token runs through the shell", func(t *testing.T) {
		cfg := base
		spec, err := cfg.LaunchSpec([]string{"pytest -x && echo done"})
		require.NoError(t, err)
		assert.Equal(t, lib.ShellCommand("pytest -x && echo done"), spec.Payload)
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		payload []string
	}{
		{"no payload", func(*Config) {}, nil},
		{"no server", func(c *Config) { c.Server = " " }, []string{"true"}},
		{"no port", func(c *Config) { c.Port = 0 }, []string{"true"}},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, []string{"true"}},
		{"unknown probe", func(c *Config) { c.Probe = "http" }, []string{"true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := cfg.LaunchSpec(tt.payload)
			assert.ErrorIs(t, err, lib.ErrInvalidSpec)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 42, exitCode(&exitError{code: 42}))
	assert.Equal(t, 130, exitCode(&exitError{code: 130}))
	assert.Equal(t, 1, exitCode(lib.ErrInvalidSpec))
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
