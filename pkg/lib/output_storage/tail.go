package output_storage

import (
	"bytes"
	"strings"
)

// Tail returns at most n of the last complete or partial lines written,
// without their trailing newlines. Carriage returns from progress bars are
// treated as line breaks.
func (s *OutputStorage) Tail(n int) []string {
	if s == nil || n <= 0 {
		return nil
	}

	data := bytes.ReplaceAll(s.Bytes(), []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
