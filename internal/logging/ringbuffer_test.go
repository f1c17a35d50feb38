package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRingBufferHoldsCompleteLines(t *testing.T) {
	rb := NewRingBuffer(64)
	_, _ = rb.Write([]byte("{\"msg\":\"a\"}\n{\"msg\":"))

	if got := string(rb.Bytes()); got != "{\"msg\":\"a\"}\n" {
		t.Fatalf("partial line leaked: %q", got)
	}
	_, _ = rb.Write([]byte("\"b\"}\n"))
	if got := string(rb.Bytes()); got != "{\"msg\":\"a\"}\n{\"msg\":\"b\"}\n" {
		t.Fatalf("got %q", got)
	}
	if rb.Len() != 24 {
		t.Fatalf("expected len 24, got %d", rb.Len())
	}
}

func TestRingBufferEvictsWholeLines(t *testing.T) {
	rb := NewRingBuffer(10)
	_, _ = rb.Write([]byte("one\ntwo\n"))
	_, _ = rb.Write([]byte("three\n"))

	// "one\n" goes; a byte ring would have kept a torn "ne\n".
	if got := string(rb.Bytes()); got != "two\nthree\n" {
		t.Fatalf("got %q, want two\\nthree\\n", got)
	}
	if rb.Len() != 10 {
		t.Fatalf("expected full buffer, got %d", rb.Len())
	}

	_, _ = rb.Write([]byte("four\n"))
	if got := string(rb.Bytes()); got != "four\n" {
		t.Fatalf("got %q, want four\\n", got)
	}
}

func TestRingBufferDropsOversizedLine(t *testing.T) {
	rb := NewRingBuffer(8)
	_, _ = rb.Write([]byte("ok\n"))
	n, err := rb.Write([]byte("0123456789\n"))
	if err != nil || n != 11 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if got := string(rb.Bytes()); got != "ok\n" {
		t.Fatalf("got %q, want ok\\n", got)
	}
	if rb.Dropped() != 1 {
		t.Fatalf("expected 1 dropped line, got %d", rb.Dropped())
	}

	// An unterminated run past capacity is dropped too.
	_, _ = rb.Write([]byte("abcdefghij"))
	_, _ = rb.Write([]byte("yes\n"))
	if got := string(rb.Bytes()); got != "ok\nyes\n" {
		t.Fatalf("got %q, want ok\\nyes\\n", got)
	}
	if rb.Dropped() != 2 {
		t.Fatalf("expected 2 dropped lines, got %d", rb.Dropped())
	}
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(32)
	_, _ = rb.Write([]byte("line one\nline two\nhalf"))

	dir := t.TempDir()
	path := filepath.Join(dir, "dump.log")
	if err := os.WriteFile(path, []byte("previous dump\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := rb.DumpToFile(path); err != nil {
		t.Fatalf("DumpToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line one\nline two\n" {
		t.Fatalf("unexpected dump %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func TestRingBufferDumpToMissingDir(t *testing.T) {
	rb := NewRingBuffer(32)
	_, _ = rb.Write([]byte("x\n"))
	if err := rb.DumpToFile(filepath.Join(t.TempDir(), "nope", "dump.log")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
