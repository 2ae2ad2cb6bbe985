// Package output_storage keeps the recent merged stdout/stderr of a
// dependency process in memory so it can be replayed, tailed, and streamed
// live without ever blocking the process that produces it.
package output_storage

import (
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// node is an element of the append-only list. The list starts at an empty
// sentinel so appends never need to special-case the head.
type node struct {
	data []byte
	next atomic.Pointer[node]
}

// DefaultRetention is how many bytes of output are kept for replay and Tail.
const DefaultRetention = 1 << 20

// OutputStorage is an append-only singly linked list of byte slices.
// Appends must come from a single writer (exec.Cmd uses one copying
// goroutine when Stdout and Stderr are the same writer); readers may
// iterate concurrently without locks.
//
// Only the most recent chunks, up to the retention limit, stay reachable
// from head. Subscribers that are already following keep their own position
// and still see every chunk.
type OutputStorage struct {
	head      atomic.Pointer[node]
	tail      *node
	size      atomic.Int64
	retention int64

	logger      *zap.Logger
	broadcaster *Broadcaster[struct{}]
}

type Option func(*OutputStorage)

// WithRetention limits the bytes kept for replay. The newest chunk is always
// kept whole, so the limit can be exceeded by one chunk. Zero or less keeps
// everything.
func WithRetention(bytes int) Option {
	return func(s *OutputStorage) { s.retention = int64(bytes) }
}

// RunNewOutputStorage creates an empty OutputStorage. A nil logger discards.
func RunNewOutputStorage(logger *zap.Logger, opts ...Option) *OutputStorage {
	if logger == nil {
		logger = zap.NewNop()
	}

	sentinel := &node{}
	s := &OutputStorage{
		tail:        sentinel,
		retention:   DefaultRetention,
		logger:      logger,
		broadcaster: RunNewBroadcaster[struct{}](logger),
	}
	s.head.Store(sentinel)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stop marks the end of the stream; live subscribers drain and close.
func (s *OutputStorage) Stop() {
	if s == nil {
		return
	}

	s.broadcaster.Stop()
}

// Append adds data to the end of the list. The slice is stored as-is.
func (s *OutputStorage) Append(data []byte) {
	if s == nil {
		return
	}

	newTail := &node{data: data}
	s.tail.next.Store(newTail)
	s.tail = newTail
	s.size.Add(int64(len(data)))
	s.trim()

	s.broadcaster.Publish(struct{}{})
}

// trim drops the oldest chunks beyond the retention limit. The first retained
// node becomes the new sentinel.
func (s *OutputStorage) trim() {
	if s.retention <= 0 {
		return
	}
	for s.size.Load() > s.retention {
		head := s.head.Load()
		first := head.next.Load()
		if first == nil || first == s.tail {
			return
		}
		s.head.Store(first)
		s.size.Add(-int64(len(first.data)))
	}
}

func (s *OutputStorage) subscribeLive(prev *node, notifier chan struct{}, ch chan []byte) {
	id := uuid.New()
	s.logger.Debug("live subscriber started", zap.Stringer("subscriber", id))

	for {
		current := prev.next.Load()
		if current == nil {
			if _, ok := <-notifier; !ok {
				// The producer is done; flush whatever landed after the last notification.
				for current = prev.next.Load(); current != nil; current = current.next.Load() {
					ch <- current.data
				}
				s.logger.Debug("live subscriber finished", zap.Stringer("subscriber", id))
				close(ch)
				return
			}
			continue
		}
		prev = current

		ch <- current.data
	}
}

func (s *OutputStorage) subscribeStopped(from *node, ch chan []byte) {
	for current := from.next.Load(); current != nil; current = current.next.Load() {
		ch <- current.data
	}
	close(ch)
}

// Subscribe replays the retained output and then follows every new append
// until Stop. The returned channel is closed at the end of the stream.
func (s *OutputStorage) Subscribe(capacity int) <-chan []byte {
	ch := make(chan []byte, capacity)
	notifier, err := s.broadcaster.Subscribe()
	// Pin the position now; trimming may move head before the goroutine runs.
	from := s.head.Load()
	if err == nil {
		go s.subscribeLive(from, notifier, ch)
	} else {
		go s.subscribeStopped(from, ch)
	}

	return ch
}

// ForEach iterates over the retained byte slices in insertion order.
// Returning false from iter stops early.
func (s *OutputStorage) ForEach(iter func([]byte) bool) {
	if s == nil || iter == nil {
		return
	}
	for cur := s.head.Load().next.Load(); cur != nil; cur = cur.next.Load() {
		if !iter(cur.data) {
			return
		}
	}
}

// Bytes concatenates the retained byte slices into a single slice.
func (s *OutputStorage) Bytes() []byte {
	total := 0
	slices := make([][]byte, 0, 16)
	s.ForEach(func(b []byte) bool {
		slices = append(slices, b)
		total += len(b)
		return true
	})
	out := make([]byte, 0, total)
	for _, b := range slices {
		out = append(out, b...)
	}
	return out
}

func (s *OutputStorage) String() string {
	return string(s.Bytes())
}
