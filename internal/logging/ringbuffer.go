package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RingBuffer keeps the most recent complete log lines within a byte
// budget. Oldest lines are evicted whole, so a dump always starts on a
// record boundary.
type RingBuffer struct {
	mu       sync.Mutex
	capacity int
	lines    [][]byte // oldest first, each ending in '\n'
	size     int
	partial  []byte // bytes written since the last newline
	dropped  int
}

// NewRingBuffer allocates a buffer holding up to capacity bytes of lines.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 4 * 1024 * 1024
	}
	return &RingBuffer{capacity: capacity}
}

// Write implements io.Writer and never fails. A line only becomes visible
// once its newline arrives.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		line := rest[:i+1]
		if len(rb.partial) > 0 {
			line = append(rb.partial, line...)
			rb.partial = nil
		} else {
			line = bytes.Clone(line)
		}
		rb.push(line)
		rest = rest[i+1:]
	}
	if len(rest) > 0 {
		rb.partial = append(rb.partial, rest...)
		if len(rb.partial) > rb.capacity {
			rb.partial = nil
			rb.dropped++
		}
	}
	return len(p), nil
}

func (rb *RingBuffer) push(line []byte) {
	if len(line) > rb.capacity {
		rb.dropped++
		return
	}
	rb.lines = append(rb.lines, line)
	rb.size += len(line)
	for rb.size > rb.capacity {
		rb.size -= len(rb.lines[0])
		rb.lines[0] = nil
		rb.lines = rb.lines[1:]
	}
}

// Len reports how many bytes of complete lines are held.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Dropped counts lines discarded for being larger than the whole buffer.
func (rb *RingBuffer) Dropped() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Bytes returns a copy of the held lines, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]byte, 0, rb.size)
	for _, line := range rb.lines {
		out = append(out, line...)
	}
	return out
}

// DumpToFile writes the held lines to path. The file is replaced in one
// rename, so a reader never sees a half-written dump.
func (rb *RingBuffer) DumpToFile(path string) error {
	data := rb.Bytes()
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("logging: dump: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("logging: dump: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("logging: dump: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("logging: dump: %w", err)
	}
	return nil
}
