package output_storage

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrBroadcasterStopped is returned by Subscribe once Stop has been called.
var ErrBroadcasterStopped = errors.New("broadcaster is stopped")

// Broadcaster fans a stream of notifications out to any number of subscribers.
// Slow subscribers never block the publisher: a full subscriber channel has
// its oldest value replaced by the newest one.
type Broadcaster[T any] struct {
	messageReceiver chan T
	logger          *zap.Logger

	// sendMu orders Publish against Stop so nothing is sent on a closed channel.
	sendMu   sync.RWMutex
	stopOnce sync.Once
	closed   bool

	mu          sync.Mutex
	subscribers map[chan T]struct{}
	stopped     bool
}

func RunNewBroadcaster[T any](logger *zap.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	broadcaster := &Broadcaster[T]{
		messageReceiver: make(chan T, 1),
		logger:          logger,
		subscribers:     make(map[chan T]struct{}),
	}

	go broadcaster.start()

	return broadcaster
}

func (broadcaster *Broadcaster[T]) start() {
	for msg := range broadcaster.messageReceiver {
		// Copy the set so the lock is not held while delivering.
		broadcaster.mu.Lock()
		subscribers := make([]chan T, 0, len(broadcaster.subscribers))
		for s := range broadcaster.subscribers {
			subscribers = append(subscribers, s)
		}
		broadcaster.mu.Unlock()

		for _, s := range subscribers {
			deliverLatest(s, msg)
		}
	}

	broadcaster.mu.Lock()
	for subscriber := range broadcaster.subscribers {
		close(subscriber)
	}
	broadcaster.stopped = true
	broadcaster.mu.Unlock()

	broadcaster.logger.Debug("broadcaster stopped")
}

// deliverLatest sends msg without blocking, dropping the oldest queued value if needed.
func deliverLatest[T any](ch chan T, msg T) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

// Stop closes every subscriber channel. It is safe to call more than once.
func (broadcaster *Broadcaster[T]) Stop() {
	broadcaster.stopOnce.Do(func() {
		broadcaster.sendMu.Lock()
		broadcaster.closed = true
		close(broadcaster.messageReceiver)
		broadcaster.sendMu.Unlock()
	})
}

func (broadcaster *Broadcaster[T]) Subscribe() (chan T, error) {
	// A buffer of 1 lets stale notifications be replaced without blocking.
	ch := make(chan T, 1)
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if broadcaster.stopped {
		return nil, ErrBroadcasterStopped
	}
	broadcaster.subscribers[ch] = struct{}{}
	broadcaster.logger.Debug("new subscriber", zap.Int("subscribers", len(broadcaster.subscribers)))
	return ch, nil
}

// Unsubscribe stops deliveries to subscriber. The channel is left open since
// a delivery may already be in flight.
func (broadcaster *Broadcaster[T]) Unsubscribe(subscriber chan T) {
	broadcaster.mu.Lock()
	delete(broadcaster.subscribers, subscriber)
	broadcaster.mu.Unlock()
}

// Publish is a no-op after Stop.
func (broadcaster *Broadcaster[T]) Publish(msg T) {
	broadcaster.sendMu.RLock()
	defer broadcaster.sendMu.RUnlock()
	if broadcaster.closed {
		return
	}
	deliverLatest(broadcaster.messageReceiver, msg)
}
