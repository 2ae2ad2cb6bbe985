package output_storage

import (
	"bytes"
	"io"
)

// Forward streams the storage to w, one prefixed line at a time, starting
// from the oldest retained byte. The returned channel is closed once the
// storage has been stopped and everything has been written out.
func (s *OutputStorage) Forward(w io.Writer, prefix string) <-chan struct{} {
	done := make(chan struct{})
	ch := s.Subscribe(16)

	go func() {
		defer close(done)

		var pending []byte
		for chunk := range ch {
			pending = append(pending, chunk...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				writeLine(w, prefix, pending[:i+1])
				pending = pending[i+1:]
			}
		}
		if len(pending) > 0 {
			writeLine(w, prefix, append(pending, '\n'))
		}
	}()

	return done
}

// writeLine emits prefix and line in a single Write so lines from concurrent
// writers sharing w do not interleave mid-line. Write errors are ignored.
func writeLine(w io.Writer, prefix string, line []byte) {
	buf := make([]byte, 0, len(prefix)+len(line))
	buf = append(buf, prefix...)
	buf = append(buf, line...)
	_, _ = w.Write(buf)
}
