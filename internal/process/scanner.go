package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/session"
)

var scanLog = logging.ForComponent(logging.CompScan)

// SelfName marks processes belonging to this tool.
const SelfName = "agent-sessions"

// maxAncestors bounds the walk when detecting the hosting terminal.
const maxAncestors = 8

// Options tune the filter rules.
type Options struct {
	// EmbedderSignatures are fragments of a parent command line that mark an
	// agent launched by an editor integration rather than by the user.
	EmbedderSignatures []string

	// ServiceManagers are process names, besides pid 1, that adopt orphans.
	ServiceManagers []string

	// SelfPID is excluded. Zero means os.Getpid().
	SelfPID int32
}

// Scanner applies the candidate rules to a process table.
type Scanner struct {
	table   Table
	matcher Matcher
	opts    Options
}

// NewScanner returns a Scanner over table.
func NewScanner(table Table, matcher Matcher, opts Options) *Scanner {
	if opts.SelfPID == 0 {
		opts.SelfPID = int32(os.Getpid())
	}
	return &Scanner{table: table, matcher: matcher, opts: opts}
}

// Scan lists the table and returns the candidates in table order.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	records, err := s.table.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("process: scan: %w", err)
	}

	byPID := make(map[int32]*Record, len(records))
	agents := make(map[int32]session.AgentType)
	for i := range records {
		rec := &records[i]
		byPID[rec.PID] = rec
		if typ, ok := s.matcher.Match(*rec); ok {
			agents[rec.PID] = typ
		}
	}

	children := make(map[int32]int)
	var candidates []Candidate
	for i := range records {
		rec := &records[i]
		typ, ok := agents[rec.PID]
		if !ok {
			continue
		}
		if s.isSelf(rec) {
			continue
		}

		parent := byPID[rec.PPID]
		if parent != nil {
			if _, parentIsAgent := agents[parent.PID]; parentIsAgent {
				children[parent.PID]++
				continue
			}
			if s.embedded(parent) {
				scanLog.Debug("embedded_agent_skipped",
					slog.Int("pid", int(rec.PID)),
					slog.Int("parent_pid", int(parent.PID)))
				continue
			}
		}
		if reason := s.orphanReason(rec, byPID); reason != "" {
			logging.Aggregate(logging.CompScan, "orphan_skipped",
				slog.Int("pid", int(rec.PID)),
				slog.String("reason", reason))
			continue
		}

		candidates = append(candidates, Candidate{Record: *rec, Agent: typ})
	}

	for i := range candidates {
		c := &candidates[i]
		c.ChildAgents = children[c.PID]
		c.Terminal = DetectTerminal(ancestors(c.Record, byPID, maxAncestors))
		if err := s.table.Inspect(ctx, &c.Record); err != nil {
			logging.Aggregate(logging.CompScan, "inspect_failed",
				slog.Int("pid", int(c.PID)),
				slog.String("error", err.Error()))
		}
	}

	return Result{Candidates: candidates, Scanned: len(records)}, nil
}

func (s *Scanner) isSelf(rec *Record) bool {
	return rec.PID == s.opts.SelfPID || strings.Contains(rec.Name, SelfName)
}

func (s *Scanner) embedded(parent *Record) bool {
	cmd := parent.CommandLine()
	for _, sig := range s.opts.EmbedderSignatures {
		if sig != "" && strings.Contains(cmd, sig) {
			return true
		}
	}
	return false
}

func (s *Scanner) isServiceManager(rec *Record) bool {
	return rec.PID == 1 || slices.Contains(s.opts.ServiceManagers, rec.Name)
}

// orphanReason reports why rec no longer has a live terminal, or "".
// A healthy chain is agent → shell → terminal; once the terminal exits the
// shell is adopted by the service manager.
func (s *Scanner) orphanReason(rec *Record, byPID map[int32]*Record) string {
	if rec.PPID <= 0 {
		return "no_parent"
	}
	if rec.PPID == 1 {
		return "parent_is_service_manager"
	}
	parent, ok := byPID[rec.PPID]
	if !ok {
		return "parent_missing"
	}
	if s.isServiceManager(parent) {
		return "parent_is_service_manager"
	}
	if parent.PPID == 1 {
		return "grandparent_is_service_manager"
	}
	if gp, ok := byPID[parent.PPID]; ok && s.isServiceManager(gp) {
		return "grandparent_is_service_manager"
	}
	return ""
}

func ancestors(rec Record, byPID map[int32]*Record, limit int) []Record {
	var out []Record
	seen := map[int32]bool{rec.PID: true}
	pid := rec.PPID
	for len(out) < limit && pid > 1 && !seen[pid] {
		p, ok := byPID[pid]
		if !ok {
			break
		}
		seen[pid] = true
		out = append(out, *p)
		pid = p.PPID
	}
	return out
}
