package lifecycle

import "sync"

// DefaultOutputLimit caps captured stdout and stderr.
const DefaultOutputLimit = 1 << 20

// OutputBuffer is an io.Writer that keeps the last max bytes written. Safe for
// concurrent use.
type OutputBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

// NewOutputBuffer returns a buffer bounded to max bytes (DefaultOutputLimit
// when max <= 0).
func NewOutputBuffer(max int) *OutputBuffer {
	if max <= 0 {
		max = DefaultOutputLimit
	}
	return &OutputBuffer{max: max}
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.max {
		b.buf = append(b.buf[:0], p[n-b.max:]...)
		b.truncated = true
		return n, nil
	}
	if over := len(b.buf) + n - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

// String returns a copy of the retained bytes.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Truncated reports whether earlier output was dropped.
func (b *OutputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
