package vault

import "bytes"

// Secret holds decrypted key material for the duration of one signing call.
type Secret struct {
	b []byte
}

func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes exposes the underlying buffer. Callers must not retain it past Wipe.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Trimmed returns a subslice of the buffer without surrounding whitespace. No copy is made.
func (s *Secret) Trimmed() []byte {
	if s == nil {
		return nil
	}
	return bytes.TrimSpace(s.b)
}

// Wipe zeroes the buffer. Safe to call more than once.
func (s *Secret) Wipe() {
	if s == nil {
		return
	}
	wipe(s.b)
	s.b = nil
}

func (s *Secret) String() string {
	return "[REDACTED]"
}

func (s *Secret) GoString() string {
	return s.String()
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
