// Package transcript reads the tail of append-only agent transcripts and
// reduces it to the few facts the status classifier needs.
package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/logging"
)

const (
	DefaultMaxLines  = 500
	DefaultMaxBytes  = 8 << 20
	DefaultChunkSize = 64 << 10
	DefaultTimeout   = 2 * time.Second
)

// ErrTailTimeout is returned when the context expires mid-read.
var ErrTailTimeout = errors.New("transcript: tail timed out")

// TailOptions bounds a tail read. Zero fields take the defaults.
type TailOptions struct {
	MaxLines  int
	MaxBytes  int64
	ChunkSize int
}

func (o TailOptions) withDefaults() TailOptions {
	if o.MaxLines <= 0 {
		o.MaxLines = DefaultMaxLines
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

// Tail returns up to MaxLines complete, non-blank lines from the end of path
// in file order. Reading goes backwards chunk by chunk and never consumes more
// than MaxBytes, so a huge transcript costs the same as a small one.
func Tail(ctx context.Context, path string, opts TailOptions) ([]string, error) {
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("transcript: stat: %w", err)
	}

	size := info.Size()
	offset := size
	var buf []byte
	newlines := 0

	for offset > 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrTailTimeout, path)
		}
		consumed := size - offset
		if consumed >= opts.MaxBytes {
			break
		}
		n := int64(opts.ChunkSize)
		if n > offset {
			n = offset
		}
		if consumed+n > opts.MaxBytes {
			n = opts.MaxBytes - consumed
		}
		offset -= n

		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("transcript: read: %w", err)
		}
		newlines += bytes.Count(chunk, []byte{'\n'})
		buf = append(chunk, buf...)

		// One extra newline guarantees the oldest kept line is complete.
		if newlines > opts.MaxLines {
			break
		}
	}

	// Stopped mid-file: the first segment is a fragment of a longer line.
	if offset > 0 {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		} else {
			buf = nil
		}
	}

	lines := make([]string, 0, opts.MaxLines)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) > opts.MaxLines {
		lines = lines[len(lines)-opts.MaxLines:]
	}
	return lines, nil
}

// Reader is the fail-soft tail reader used by the poller. A file that
// cannot be read yields no lines; the session then falls back to
// liveness-only classification.
type Reader struct {
	Options TailOptions
	Timeout time.Duration
}

// NewReader returns a Reader with the given bounds.
func NewReader(opts TailOptions, timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Reader{Options: opts, Timeout: timeout}
}

// ReadTail reads the tail of path under the per-file timeout.
func (r *Reader) ReadTail(ctx context.Context, path string) []string {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lines, err := Tail(ctx, path, r.Options)
	if err != nil {
		event := "transcript_read_failed"
		if errors.Is(err, ErrTailTimeout) {
			event = "transcript_read_timeout"
		}
		logging.Aggregate(logging.CompTranscript, event,
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	return lines
}
