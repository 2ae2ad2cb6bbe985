package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Fixture is a stand-in dependency: it starts listening late, reports
// NOT_SERVING for a while, then SERVING until it is told to stop.
type Fixture struct {
	Addr          string
	Delay         time.Duration
	NotServingFor time.Duration
	Services      []string
	Logger        *zap.Logger

	// ready, when set, receives the bound address once listening.
	ready func(addr string)
}

// Run blocks until ctx is cancelled or serving fails.
func (f *Fixture) Run(ctx context.Context) error {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if f.Delay > 0 {
		logger.Info("delaying startup", zap.Duration("delay", f.Delay))
		if !sleepCtx(ctx, f.Delay) {
			return nil
		}
	}

	srv, err := NewGRPCServer(f.Addr, logger)
	if err != nil {
		return err
	}
	logger.Info("listening", zap.Stringer("addr", srv.Addr()))
	// Plain stdout line so the orchestrator's captured output shows it.
	fmt.Printf("listening on %s\n", srv.Addr())
	if f.ready != nil {
		f.ready(srv.Addr().String())
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	var healthy <-chan time.Time
	if f.NotServingFor > 0 {
		timer := time.NewTimer(f.NotServingFor)
		defer timer.Stop()
		healthy = timer.C
	} else {
		srv.SetServing(true, f.Services...)
	}

	for {
		select {
		case <-healthy:
			srv.SetServing(true, f.Services...)
			healthy = nil
		case err := <-serveErr:
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return err
		case <-ctx.Done():
			logger.Info("shutting down")
			srv.Stop()
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
