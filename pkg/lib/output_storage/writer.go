package output_storage

// Write implements io.Writer. It appends a copy of p since callers such as
// exec.Cmd reuse their buffer after Write returns.
//
// A nil receiver swallows the data and reports success, so an unset storage
// can be handed to exec.Cmd without special-casing.
func (s *OutputStorage) Write(p []byte) (int, error) {
	if s == nil {
		return len(p), nil
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.Append(append([]byte(nil), p...))

	return len(p), nil
}
