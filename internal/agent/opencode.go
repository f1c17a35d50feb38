package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/opencodedb"
	"github.com/asheshgoplani/agent-sessions/internal/process"
	"github.com/asheshgoplani/agent-sessions/internal/session"
	"github.com/asheshgoplani/agent-sessions/internal/transcript"
)

// OpenCodeOptions configures the OpenCode agent.
type OpenCodeOptions struct {
	// DataDir is ~/.local/share/opencode unless overridden.
	DataDir string

	// MessageLimit is how many trailing messages are read. Default: 50
	MessageLimit int

	ActivityWindow time.Duration
	BusyTimeout    time.Duration
	Now            func() time.Time
}

// OpenCode reads OpenCode's sqlite session store.
type OpenCode struct {
	opts OpenCodeOptions
}

// NewOpenCode returns the OpenCode agent.
func NewOpenCode(opts OpenCodeOptions) *OpenCode {
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 50
	}
	if opts.ActivityWindow <= 0 {
		opts.ActivityWindow = 30 * time.Second
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &OpenCode{opts: opts}
}

func (o *OpenCode) Type() session.AgentType { return session.AgentOpenCode }

func (o *OpenCode) MatchProcess(rec process.Record) bool {
	return strings.EqualFold(rec.Name, "opencode") ||
		strings.EqualFold(filepath.Base(rec.Argv0()), "opencode")
}

// LocateTranscript returns the stores that may hold cwd's sessions, the
// project-local database first.
func (o *OpenCode) LocateTranscript(ctx context.Context, cwd string) ([]Source, error) {
	if cwd == "" {
		return nil, nil
	}
	var sources []Source
	local := filepath.Join(cwd, ".opencode", "opencode.db")
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		sources = append(sources, Source{Path: local, ModTime: info.ModTime()})
	}

	projects := filepath.Join(o.opts.DataDir, "project")
	entries, err := os.ReadDir(projects)
	if err != nil {
		if os.IsNotExist(err) {
			return sources, nil
		}
		return sources, fmt.Errorf("agent: opencode: read %s: %w", projects, err)
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return sources, ctx.Err()
		}
		if !e.IsDir() || !strings.Contains(cwd, e.Name()) {
			continue
		}
		db := filepath.Join(projects, e.Name(), "storage", "db.sqlite")
		if info, err := os.Stat(db); err == nil {
			sources = append(sources, Source{Path: db, ModTime: info.ModTime()})
		}
	}
	return sources, nil
}

type openCodePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Data struct {
		Text string `json:"text"`
	} `json:"data"`
}

// ParseRecord parses a message's parts column. Role and timestamps live in
// their own columns and are filled in by the caller.
func (o *OpenCode) ParseRecord(data []byte) (transcript.Record, error) {
	var parts []openCodePart
	if err := json.Unmarshal(data, &parts); err != nil {
		return transcript.Record{}, fmt.Errorf("agent: opencode: parts: %w", err)
	}
	var rec transcript.Record
	for _, p := range parts {
		text := p.Text
		if text == "" {
			text = p.Data.Text
		}
		switch p.Type {
		case "text":
			rec.Content = append(rec.Content, transcript.Block{Type: transcript.BlockText, Text: text})
		case "reasoning":
			rec.Content = append(rec.Content, transcript.Block{Type: transcript.BlockThinking})
		case "tool_call":
			rec.Content = append(rec.Content, transcript.Block{Type: transcript.BlockToolUse})
		case "tool_result":
			rec.Content = append(rec.Content, transcript.Block{Type: transcript.BlockToolResult})
		}
	}
	return rec, nil
}

// Bind resolves each process to the newest session in its store.
// Processes sharing a store resolve to the same id; the poller keeps the
// most recently started one.
func (o *OpenCode) Bind(ctx context.Context, candidates []process.Candidate) []Binding {
	result := make([]Binding, 0, len(candidates))
	for _, cand := range candidates {
		b := Binding{Candidate: cand, ProjectPath: cand.Cwd, ID: livenessID(o.Type(), cand.PID)}

		sources, err := o.LocateTranscript(ctx, cand.Cwd)
		if err != nil {
			logging.Aggregate(logging.CompAgent, "transcript_locate_failed",
				slog.String("agent", string(o.Type())),
				slog.String("cwd", cand.Cwd),
				slog.String("error", err.Error()))
		}
		for _, src := range sources {
			id, err := o.latestSessionID(ctx, src.Path)
			if err != nil {
				if !errors.Is(err, opencodedb.ErrNoSession) {
					logging.Aggregate(logging.CompAgent, "opencode_db_failed",
						slog.String("path", src.Path),
						slog.String("error", err.Error()))
				}
				continue
			}
			src.SessionID = id
			b.Source = &src
			b.ID = id
			break
		}
		result = append(result, b)
	}
	return result
}

func (o *OpenCode) latestSessionID(ctx context.Context, path string) (string, error) {
	db, err := opencodedb.Open(path, o.opts.BusyTimeout)
	if err != nil {
		return "", err
	}
	defer db.Close()
	s, err := db.LatestSession(ctx)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// Read loads the bound session's recent messages.
func (o *OpenCode) Read(ctx context.Context, b Binding) (Observation, error) {
	obs := Observation{Subagents: b.Candidate.ChildAgents}
	if b.Source == nil {
		return obs, nil
	}
	obs.FileModTime = storeModTime(b.Source.Path)

	db, err := opencodedb.Open(b.Source.Path, o.opts.BusyTimeout)
	if err != nil {
		return obs, err
	}
	defer db.Close()

	msgs, err := db.RecentMessages(ctx, b.Source.SessionID, o.opts.MessageLimit)
	if err != nil {
		return obs, err
	}

	records := make([]transcript.Record, 0, len(msgs))
	for _, m := range msgs {
		rec, err := o.ParseRecord(m.Parts)
		if err != nil {
			logging.Aggregate(logging.CompTranscript, "malformed_lines_skipped",
				slog.String("path", b.Source.Path),
				slog.Int("count", 1))
			continue
		}
		rec.Type = m.Role
		rec.Role = m.Role
		rec.SessionID = b.Source.SessionID
		rec.Timestamp = m.CreatedAt
		if m.FinishedAt.After(rec.Timestamp) {
			rec.Timestamp = m.FinishedAt
		}
		rec.Partial = m.Role == "assistant" && m.FinishedAt.IsZero()
		records = append(records, rec)
	}
	obs.Summary = transcript.Summarize(records)

	since := o.opts.Now().Add(-o.opts.ActivityWindow)
	if n, err := db.ActiveChildSessions(ctx, b.Source.SessionID, since); err == nil && n > obs.Subagents {
		obs.Subagents = n
	}
	return obs, nil
}

// storeModTime is the newer of the database and its write-ahead log.
func storeModTime(path string) time.Time {
	var latest time.Time
	for _, p := range []string{path, path + "-wal"} {
		if info, err := os.Stat(p); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}
