package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brashline/with-server/pkg/lib"
	"github.com/brashline/with-server/pkg/lib/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. WITH_SERVER_PORT.
const envPrefix = "WITH_SERVER"

// Config is the resolved command-line configuration.
type Config struct {
	Server       string        `mapstructure:"server"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Timeout      int           `mapstructure:"timeout"`
	Probe        string        `mapstructure:"probe"`
	GRPCService  string        `mapstructure:"grpc_service"`
	Settle       time.Duration `mapstructure:"settle"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	KillWait     time.Duration `mapstructure:"kill_wait"`
	ServerOutput bool          `mapstructure:"server_output"`
	Summary      bool          `mapstructure:"summary"`
	Log          LogConfig     `mapstructure:"log"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"server":        "server",
	"host":          "host",
	"port":          "port",
	"timeout":       "timeout",
	"probe":         "probe",
	"grpc-service":  "grpc_service",
	"settle":        "settle",
	"poll-interval": "poll_interval",
	"grace-period":  "grace_period",
	"kill-wait":     "kill_wait",
	"server-output": "server_output",
	"summary":       "summary",
	"log-level":     "log.level",
	"log-file":      "log.file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", lib.DefaultHost)
	v.SetDefault("timeout", int(lib.DefaultReadyTimeout/time.Second))
	v.SetDefault("probe", string(lib.DefaultProbeKind))
	v.SetDefault("settle", lib.DefaultSettleDelay)
	v.SetDefault("poll_interval", lib.DefaultPollInterval)
	v.SetDefault("grace_period", lib.DefaultGracePeriod)
	v.SetDefault("kill_wait", lib.DefaultKillWait)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size", logging.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logging.DefaultMaxBackups)
	v.SetDefault("log.max_age", logging.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
}

// LoadConfig resolves configuration with the precedence flag, environment,
// config file, default. A missing config file is only an error when it was
// named explicitly.
func LoadConfig(flags *pflag.FlagSet, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for flag, key := range flagKeys {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv(envPrefix + "_CONFIG")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(".with-server")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LaunchSpec turns the configuration and the payload tokens into a spec.
func (c *Config) LaunchSpec(payload []string) (lib.LaunchSpec, error) {
	if strings.TrimSpace(c.Server) == "" {
		return lib.LaunchSpec{}, fmt.Errorf("%w: --server is required", lib.ErrInvalidSpec)
	}
	if c.Timeout <= 0 {
		return lib.LaunchSpec{}, fmt.Errorf("%w: --timeout must be positive, got %d", lib.ErrInvalidSpec, c.Timeout)
	}

	spec := lib.NewLaunchSpec(lib.ShellCommand(c.Server), c.Port, lib.CommandFromTokens(payload))
	spec.Host = c.Host
	spec.ReadyTimeout = time.Duration(c.Timeout) * time.Second
	spec.Probe = lib.ProbeKind(strings.ToLower(c.Probe))
	spec.GRPCService = c.GRPCService
	spec.SettleDelay = c.Settle
	spec.PollInterval = c.PollInterval
	spec.GracePeriod = c.GracePeriod
	spec.KillWait = c.KillWait

	if err := spec.Validate(); err != nil {
		return lib.LaunchSpec{}, err
	}
	return spec, nil
}

func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAge,
		Compress:   c.Log.Compress,
	}
}
