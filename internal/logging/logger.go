// Package logging wires log/slog to a rotated log file, an in-memory ring
// buffer for crash dumps, and a batching aggregator for noisy events.
package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names attached to every record from ForComponent loggers.
const (
	CompScan       = "scan"
	CompTranscript = "transcript"
	CompStatus     = "status"
	CompStore      = "store"
	CompPoll       = "poll"
	CompAgent      = "agent"
	CompProject    = "project"
	CompWatch      = "watch"
	CompWeb        = "web"
	CompCLI        = "cli"
	CompDebug      = "debug"
)

// DefaultFileName is the log file created inside Config.LogDir.
const DefaultFileName = "monitor.log"

// Config holds logging configuration.
type Config struct {
	// LogDir is the directory for log files (e.g. ~/.agent-sessions)
	LogDir string

	// FileName overrides DefaultFileName
	FileName string

	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" (default) or "text"
	Format string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// RingBufferSize is the in-memory ring buffer size in bytes (default: 4MB)
	RingBufferSize int

	// AggregateIntervalSecs is the aggregation flush interval (default: 30)
	AggregateIntervalSecs int

	// PprofEnabled starts pprof server on localhost:6060
	PprofEnabled bool

	// Console mirrors every record to this writer (usually os.Stderr).
	Console io.Writer

	// Disabled discards everything. The ring buffer still exists so
	// DumpRingBuffer never fails.
	Disabled bool
}

var (
	globalLogger *slog.Logger
	globalRing   *RingBuffer
	globalAgg    *Aggregator
	globalMu     sync.RWMutex
	fileWriter   *lumberjack.Logger
)

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logging system. Calling it again replaces the
// previous setup.
func Init(cfg Config) {
	shutdownLocked := func() {
		if globalAgg != nil {
			globalAgg.Stop()
			globalAgg = nil
		}
		if fileWriter != nil {
			_ = fileWriter.Close()
			fileWriter = nil
		}
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	shutdownLocked()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = 4 * 1024 * 1024
	}
	if cfg.AggregateIntervalSecs <= 0 {
		cfg.AggregateIntervalSecs = 30
	}
	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}

	if cfg.Disabled || (cfg.LogDir == "" && cfg.Console == nil) {
		globalLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		globalRing = NewRingBuffer(1024)
		globalAgg = NewAggregator(nil, cfg.AggregateIntervalSecs)
		return
	}

	globalRing = NewRingBuffer(cfg.RingBufferSize)
	writers := []io.Writer{globalRing}
	if cfg.LogDir != "" {
		fileWriter = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, cfg.FileName),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
	}
	if cfg.Console != nil {
		writers = append(writers, cfg.Console)
	}
	out := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	globalLogger = slog.New(handler)

	globalAgg = NewAggregator(globalLogger, cfg.AggregateIntervalSecs)
	globalAgg.Start()

	if cfg.PprofEnabled {
		startPprof(pprofAddr)
	}
}

// Logger returns the global logger. Safe to call before Init.
func Logger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return globalLogger
}

// ForComponent returns a logger tagged with component. It resolves the
// global handler on every record, so package-level loggers declared before
// Init still reach the configured outputs.
func ForComponent(name string) *slog.Logger {
	return slog.New(&componentHandler{component: name})
}

type componentHandler struct {
	component string
	attrs     []slog.Attr
	group     string
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	if h.group != "" {
		handler = handler.WithGroup(h.group)
	}
	return handler.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &componentHandler{component: h.component, attrs: merged, group: h.group}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{component: h.component, attrs: h.attrs, group: name}
}

// Aggregate counts a high-frequency event; a summary is logged once per
// aggregation interval instead of one record per occurrence.
func Aggregate(component, event string, fields ...slog.Attr) {
	globalMu.RLock()
	agg := globalAgg
	globalMu.RUnlock()
	if agg != nil {
		agg.Record(component, event, fields...)
	}
}

// DumpRingBuffer writes the recent log history to path.
func DumpRingBuffer(path string) error {
	globalMu.RLock()
	ring := globalRing
	globalMu.RUnlock()
	if ring == nil {
		return nil
	}
	return ring.DumpToFile(path)
}

// Shutdown flushes the aggregator and closes the log file.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalAgg != nil {
		globalAgg.Stop()
		globalAgg = nil
	}
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
	globalLogger = nil
	globalRing = nil
}
