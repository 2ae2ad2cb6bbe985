package main

import (
	"context"
	"testing"
	"time"

	"github.com/brashline/with-server/pkg/lib/readiness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFixture(t *testing.T, f *Fixture) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addrs := make(chan string, 1)
	f.Addr = "127.0.0.1:0"
	f.ready = func(addr string) { addrs <- addr }

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	t.Cleanup(cancel)

	select {
	case addr := <-addrs:
		return addr, cancel, done
	case err := <-done:
		t.Fatalf("fixture exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("fixture never listened")
	}
	return "", cancel, done
}

func TestFixture_ServesHealthAfterNotServingWindow(t *testing.T) {
	addr, cancel, done := startFixture(t, &Fixture{NotServingFor: 300 * time.Millisecond, Services: []string{"api"}})

	probe := readiness.GRPCHealthProber{Address: addr, Service: "api"}
	assert.Error(t, probe.Probe(context.Background()), "not serving yet")
	assert.Eventually(t, func() bool { return probe.Probe(context.Background()) == nil }, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("fixture did not stop")
	}
}

func TestFixture_DelayIsInterruptible(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fixture{Addr: "127.0.0.1:0", Delay: time.Minute}

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("delay ignored cancellation")
	}
}
