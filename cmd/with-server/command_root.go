package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/brashline/with-server/pkg/lib"
	"github.com/brashline/with-server/pkg/lib/logging"
	"github.com/brashline/with-server/pkg/lib/orchestrator"
	"github.com/brashline/with-server/pkg/lib/runner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// exitError carries the process exit status out of cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps an Execute error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return lib.ExitCodeFailure
}

func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "with-server --server <command> --port <port> [flags] -- <command> [args...]",
		Short: "Run a command against a server that is started and stopped around it",
		Long: `with-server starts a server in its own process group, waits until its port
accepts connections, runs the given command, and always stops the server
afterwards. The exit status is the command's exit status, 1 if the server
could not be started or never became ready, or 130 when interrupted.`,
		Example: `  with-server --server "npm run dev" --port 5173 -- npx playwright test
  with-server --server "./api --listen :9090" --port 9090 --probe grpc -- go test ./e2e/...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(cmd.Flags(), configPath)
			if err != nil {
				return err
			}
			spec, err := cfg.LaunchSpec(args)
			if err != nil {
				return err
			}

			logger, sync, err := logging.New(cfg.Logging())
			if err != nil {
				return err
			}
			defer sync()

			outcome := run(cmd.Context(), cfg, spec, logger, stderr)
			if cfg.Summary {
				printSummary(stdout, spec, outcome)
			}
			if code := outcome.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.Flags()
	// Everything from the first positional argument on belongs to the payload.
	flags.SetInterspersed(false)
	flags.StringVar(&configPath, "config", "", "config file (default .with-server.yaml in the working directory, if present)")
	flags.String("server", "", "command that starts the server, run through the shell (e.g. 'npm run dev')")
	flags.Int("port", 0, "port to wait for")
	flags.String("host", lib.DefaultHost, "host to check")
	flags.Int("timeout", int(lib.DefaultReadyTimeout.Seconds()), "seconds to wait for the server to become ready")
	flags.String("probe", string(lib.DefaultProbeKind), "readiness check: tcp or grpc (standard health service)")
	flags.String("grpc-service", "", "service name for the grpc health check; empty means the whole server")
	flags.Duration("settle", lib.DefaultSettleDelay, "delay between readiness and running the command")
	flags.Duration("poll-interval", lib.DefaultPollInterval, "delay between readiness attempts")
	flags.Duration("grace-period", lib.DefaultGracePeriod, "how long the server gets to exit after SIGTERM before it is killed")
	flags.Duration("kill-wait", lib.DefaultKillWait, "how long to wait for the server to disappear after SIGKILL")
	flags.Bool("server-output", false, "stream the server's output to stderr, prefixed with [server]")
	flags.Bool("summary", false, "print a summary table when done")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-file", "", "also write JSON logs to this file, with rotation")

	return root
}

func run(ctx context.Context, cfg *Config, spec lib.LaunchSpec, logger *zap.Logger, stderr io.Writer) lib.RunOutcome {
	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithConsole(stderr),
	}
	if cfg.ServerOutput {
		opts = append(opts, orchestrator.WithServerOutput(stderr))
	}

	o := orchestrator.New(
		runner.NewRunner(runner.WithLogger(logger)),
		runner.NewForeground(spec.GracePeriod, logger),
		opts...,
	)
	return o.Run(ctx, spec)
}
