// Command server is a small gRPC server with a health service, used as the
// dependency in with-server's end-to-end tests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/brashline/with-server/pkg/lib/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var (
		fixture    Fixture
		ignoreTerm bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Serve the gRPC health service, optionally after a delay",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, sync, err := logging.New(logging.Config{Level: logLevel, Console: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer sync()
			fixture.Logger = logger

			signals := []os.Signal{os.Interrupt, syscall.SIGTERM}
			if ignoreTerm {
				signal.Ignore(syscall.SIGTERM)
				signals = signals[:1]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), signals...)
			defer stop()

			return fixture.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&fixture.Addr, "addr", defaultAddress, "address to listen on")
	flags.DurationVar(&fixture.Delay, "delay", 0, "wait this long before listening")
	flags.DurationVar(&fixture.NotServingFor, "not-serving-for", 0, "report NOT_SERVING for this long after listening")
	flags.StringSliceVar(&fixture.Services, "service", nil, "service names to report in addition to the overall status")
	flags.BoolVar(&ignoreTerm, "ignore-term", false, "ignore SIGTERM so that only SIGKILL stops the server")
	flags.StringVar(&logLevel, "log-level", "info", "log level")

	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
