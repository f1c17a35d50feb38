package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return parseRecords(data)
}

func parseRecords(data []byte) []map[string]any {
	var records []map[string]any
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r map[string]any
		if err := json.Unmarshal(line, &r); err == nil {
			records = append(records, r)
		}
	}
	return records
}

func findMsg(records []map[string]any, msg string) map[string]any {
	for _, r := range records {
		if r["msg"] == msg {
			return r
		}
	}
	return nil
}

func TestInitWritesJSONToLogDir(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	Logger().Info("poll_started", "interval", "2s")

	records := readRecords(t, filepath.Join(dir, DefaultFileName))
	rec := findMsg(records, "poll_started")
	if rec == nil {
		t.Fatalf("expected poll_started record, got %v", records)
	}
	if rec["interval"] != "2s" {
		t.Errorf("expected interval=2s, got %v", rec["interval"])
	}
}

func TestInitDisabledDiscards(t *testing.T) {
	Shutdown()
	Init(Config{Disabled: true, LogDir: t.TempDir()})
	defer Shutdown()

	if Logger() == nil {
		t.Fatal("expected non-nil logger when disabled")
	}
	Logger().Info("nowhere")
	if err := DumpRingBuffer(filepath.Join(t.TempDir(), "dump.jsonl")); err != nil {
		t.Fatalf("dump should succeed when disabled: %v", err)
	}
}

func TestConsoleMirror(t *testing.T) {
	Shutdown()
	var console bytes.Buffer
	Init(Config{Console: &console})
	defer Shutdown()

	ForComponent(CompScan).Warn("scan_failed")

	rec := findMsg(parseRecords(console.Bytes()), "scan_failed")
	if rec == nil {
		t.Fatalf("expected console record, got %q", console.String())
	}
	if rec["component"] != CompScan {
		t.Errorf("expected component=%s, got %v", CompScan, rec["component"])
	}
}

func TestForComponentDeclaredBeforeInit(t *testing.T) {
	Shutdown()
	early := ForComponent(CompStore)

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	early.Debug("entry_purged", "id", "abc")

	rec := findMsg(readRecords(t, filepath.Join(dir, DefaultFileName)), "entry_purged")
	if rec == nil {
		t.Fatal("expected record from logger created before Init")
	}
	if rec["component"] != CompStore {
		t.Errorf("expected component=%s, got %v", CompStore, rec["component"])
	}
}

func TestLevelFiltering(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn"})
	defer Shutdown()

	Logger().Info("should_be_filtered")
	Logger().Warn("should_appear")

	records := readRecords(t, filepath.Join(dir, DefaultFileName))
	if findMsg(records, "should_be_filtered") != nil {
		t.Error("info message should have been filtered at warn level")
	}
	if findMsg(records, "should_appear") == nil {
		t.Error("warn message should have appeared")
	}
}

func TestTextFormat(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir, Format: "text"})
	defer Shutdown()

	Logger().Info("text_format_test")

	data, err := os.ReadFile(filepath.Join(dir, DefaultFileName))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("msg=text_format_test")) {
		t.Errorf("expected text handler output, got %q", data)
	}
}

func TestDumpRingBuffer(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir, RingBufferSize: 1024})
	defer Shutdown()

	Logger().Info("ring_test_message")

	dumpPath := filepath.Join(dir, "crash-dump.jsonl")
	if err := DumpRingBuffer(dumpPath); err != nil {
		t.Fatalf("DumpRingBuffer failed: %v", err)
	}
	data, err := os.ReadFile(dumpPath)
	if err != nil {
		t.Fatalf("failed to read dump file: %v", err)
	}
	if findMsg(parseRecords(data), "ring_test_message") == nil {
		t.Errorf("dump missing record: %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "warn": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPprofLogsUnderDebugComponent(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	startPprof("127.0.0.1:0")

	rec := findMsg(readRecords(t, filepath.Join(dir, DefaultFileName)), "pprof_listening")
	if rec == nil {
		t.Fatal("expected pprof_listening record")
	}
	if rec["component"] != CompDebug {
		t.Fatalf("pprof logged under %v, want %s", rec["component"], CompDebug)
	}
}
