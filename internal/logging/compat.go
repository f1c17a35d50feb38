package logging

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"strings"
)

// BridgeWriter forwards lines written by a standard library *log.Logger into
// slog. It exists for APIs that only accept *log.Logger, such as
// http.Server.ErrorLog.
type BridgeWriter struct {
	component string
	level     slog.Level
}

// NewBridgeWriter returns a writer logging each line at level under component.
func NewBridgeWriter(component string, level slog.Level) *BridgeWriter {
	return &BridgeWriter{component: component, level: level}
}

// Write implements io.Writer. Each call is one record.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := string(bytes.TrimSpace(p))
	if msg == "" {
		return n, nil
	}
	msg = stripLogTimestamp(msg)

	source := ""
	if idx := strings.Index(msg, ": "); idx > 0 && idx < 16 && !strings.Contains(msg[:idx], " ") {
		source = msg[:idx]
		msg = msg[idx+2:]
	}

	attrs := []slog.Attr{slog.String("message", msg)}
	if source != "" {
		attrs = append(attrs, slog.String("source", source))
	}
	ForComponent(bw.component).LogAttrs(context.Background(), bw.level, "stdlib_log", attrs...)
	return n, nil
}

// StdLogger returns a *log.Logger whose output lands in slog.
func StdLogger(component string, level slog.Level) *log.Logger {
	return log.New(NewBridgeWriter(component, level), "", 0)
}

// stripLogTimestamp removes the "2006/01/02 15:04:05 " or "15:04:05 "
// prefix the log package adds when flags are set.
func stripLogTimestamp(s string) string {
	if len(s) > 20 && s[4] == '/' && s[7] == '/' && s[10] == ' ' && s[13] == ':' && s[19] == ' ' {
		s = s[20:]
	}
	if len(s) > 16 && s[2] == ':' && s[5] == ':' && s[8] == '.' && s[15] == ' ' {
		return s[16:]
	}
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}
