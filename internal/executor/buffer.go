package executor

import (
	"sync"
)

// CaptureBuffer is a fixed-size circular buffer for command output. It keeps
// the most recent bytes, preventing memory exhaustion from commands like
// `yes` or large cat outputs.
type CaptureBuffer struct {
	buf  []byte
	size int
	head int // write position
	tail int // read position
	full bool
	mu   sync.RWMutex
}

// NewCaptureBuffer creates a capture buffer with the given max size.
// Default size is 64KB which captures most command outputs.
func NewCaptureBuffer(size int) *CaptureBuffer {
	if size <= 0 {
		size = 64 * 1024
	}
	return &CaptureBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer. When the buffer is full, the oldest data is
// overwritten.
func (cb *CaptureBuffer) Write(p []byte) (n int, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for _, b := range p {
		if cb.full {
			cb.tail = (cb.tail + 1) % cb.size
		}
		cb.buf[cb.head] = b
		cb.head = (cb.head + 1) % cb.size
		if cb.head == cb.tail {
			cb.full = true
		}
	}
	return len(p), nil
}

// String returns the buffered contents in order, even after wrap-around.
func (cb *CaptureBuffer) String() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if !cb.full && cb.head == cb.tail {
		return ""
	}
	if cb.head > cb.tail {
		return string(cb.buf[cb.tail:cb.head])
	}
	return string(cb.buf[cb.tail:]) + string(cb.buf[:cb.head])
}

// Len returns the number of buffered bytes.
func (cb *CaptureBuffer) Len() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if !cb.full && cb.head == cb.tail {
		return 0
	}
	if cb.full && cb.head == cb.tail {
		return cb.size
	}
	if cb.head > cb.tail {
		return cb.head - cb.tail
	}
	return (cb.size - cb.tail) + cb.head
}

// Reset clears the buffer.
func (cb *CaptureBuffer) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.head = 0
	cb.tail = 0
	cb.full = false
}
