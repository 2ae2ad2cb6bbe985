// Package readiness decides when a dependency is ready to be used.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is returned by WaitReady when the dependency never became ready.
var ErrTimeout = errors.New("dependency not ready before timeout")

// Prober performs a single readiness check.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// TCPProber is ready once a TCP connection to Address is accepted.
type TCPProber struct {
	Address     string
	DialTimeout time.Duration
}

func (p TCPProber) Probe(ctx context.Context) error {
	d := net.Dialer{Timeout: p.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Waiter polls a Prober until it succeeds.
type Waiter struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *zap.Logger
}

// WaitReady probes until success, sleeping Interval after each failure.
// The whole wait, including an attempt in flight, is bounded by Timeout.
// It returns the number of attempts made and ErrTimeout or ctx.Err() on
// failure; the last probe error is wrapped in the timeout error.
func (w Waiter) WaitReady(ctx context.Context, prober Prober) (int, error) {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	waitCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	attempts := 0
	for {
		attempts++
		err := prober.Probe(waitCtx)
		if err == nil {
			return attempts, nil
		}
		logger.Debug("dependency not ready", zap.Int("attempt", attempts), zap.Error(err))

		timer.Reset(w.Interval)
		select {
		case <-waitCtx.Done():
			if ctxErr := ctx.Err(); ctxErr != nil {
				return attempts, ctxErr
			}
			return attempts, fmt.Errorf("%w after %s (%d attempts): %w", ErrTimeout, w.Timeout, attempts, err)
		case <-timer.C:
		}
	}
}
