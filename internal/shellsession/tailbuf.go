package shellsession

import "sync"

// tailBuffer keeps the last max bytes written to it. Both stdout and
// stderr readers feed the session tail, so it carries its own lock.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		// Trim from the front, reallocating so the backing array does
		// not grow without bound.
		trimmed := make([]byte, b.max)
		copy(trimmed, b.data[len(b.data)-b.max:])
		b.data = trimmed
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

func (b *tailBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
