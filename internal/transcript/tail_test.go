package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"n":%d}`+"\n", i)
	}
	path := filepath.Join(t.TempDir(), "t.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestTailBoundedToMaxLines(t *testing.T) {
	path := writeLines(t, 600)

	lines, err := Tail(context.Background(), path, TailOptions{})
	require.NoError(t, err)
	require.Len(t, lines, DefaultMaxLines)
	assert.Equal(t, `{"n":100}`, lines[0])
	assert.Equal(t, `{"n":599}`, lines[len(lines)-1])
}

func TestTailSmallChunksKeepLinesWhole(t *testing.T) {
	path := writeLines(t, 50)

	lines, err := Tail(context.Background(), path, TailOptions{MaxLines: 7, ChunkSize: 5})
	require.NoError(t, err)
	require.Len(t, lines, 7)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, 43+i), line)
	}
}

func TestTailShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("a\r\n\n  \nb"), 0o600))

	lines, err := Tail(context.Background(), path, TailOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestTailMaxBytesDropsPartialLine(t *testing.T) {
	path := writeLines(t, 100)

	// Lines near the end are 9 bytes, so 25 bytes starts mid-line.
	lines, err := Tail(context.Background(), path, TailOptions{MaxBytes: 25})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":98}`, `{"n":99}`}, lines)
}

func TestTailEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	lines, err := Tail(context.Background(), path, TailOptions{})
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestTailCancelled(t *testing.T) {
	path := writeLines(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Tail(ctx, path, TailOptions{})
	require.ErrorIs(t, err, ErrTailTimeout)
}

func TestTailMissingFile(t *testing.T) {
	_, err := Tail(context.Background(), filepath.Join(t.TempDir(), "gone.jsonl"), TailOptions{})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReaderFailsSoft(t *testing.T) {
	r := NewReader(TailOptions{}, time.Second)
	assert.Nil(t, r.ReadTail(context.Background(), filepath.Join(t.TempDir(), "gone.jsonl")))

	path := writeLines(t, 3)
	assert.Len(t, r.ReadTail(context.Background(), path), 3)
}
