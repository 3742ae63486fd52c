package session

// shellScrollback is the per-shell cap on retained terminal output (1 MB).
// Older bytes are trimmed from the front once the cap is exceeded.
const shellScrollback = 1024 * 1024

// Scrollback retains recent terminal output for one shell so that viewers
// joining late can repaint the screen. It is mutated only under the owning
// session's mutex.
type Scrollback struct {
	data   []byte
	maxLen int
}

// NewScrollback creates a scrollback buffer holding at most maxLen bytes.
// A non-positive maxLen selects the default cap.
func NewScrollback(maxLen int) *Scrollback {
	if maxLen <= 0 {
		maxLen = shellScrollback
	}
	return &Scrollback{maxLen: maxLen}
}

// Write appends output, trimming the oldest bytes past the cap. Trimming can
// cut an escape sequence in half; terminal emulators resynchronize on the
// next clear-screen, which the forced resize on reconnect provokes.
func (b *Scrollback) Write(p []byte) {
	b.data = append(b.data, p...)
	if len(b.data) > b.maxLen {
		b.data = b.data[len(b.data)-b.maxLen:]
	}
}

// Snapshot returns a copy of the retained output.
func (b *Scrollback) Snapshot() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the number of retained bytes.
func (b *Scrollback) Len() int {
	return len(b.data)
}
