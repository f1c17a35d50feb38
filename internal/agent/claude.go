package agent

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/process"
	"github.com/asheshgoplani/agent-sessions/internal/session"
	"github.com/asheshgoplani/agent-sessions/internal/transcript"
)

var agentLog = logging.ForComponent(logging.CompAgent)

const (
	// subagentPrefix names auxiliary transcripts. They never become sessions.
	subagentPrefix = "agent-"

	// subagentHeadLines is how far into a subagent transcript its parent's
	// session id is looked for.
	subagentHeadLines = 5
)

// ClaudeOptions configures the Claude Code agent.
type ClaudeOptions struct {
	// ProjectsDir is ~/.claude/projects unless overridden.
	ProjectsDir string
	Reader      *transcript.Reader

	// ActivityWindow is how recently a subagent transcript must have been
	// written to count as running.
	ActivityWindow time.Duration
	Now            func() time.Time
}

// Claude reads Claude Code's JSONL transcripts.
type Claude struct {
	opts ClaudeOptions

	mu     sync.Mutex
	sticky map[processKey]string // session id last bound to a process
}

// processKey identifies one process instance; the start time guards
// against pid reuse.
type processKey struct {
	pid     int32
	started int64
}

func keyOf(c process.Candidate) processKey {
	return processKey{pid: c.PID, started: c.StartedAt.UnixNano()}
}

// NewClaude returns the Claude Code agent.
func NewClaude(opts ClaudeOptions) *Claude {
	if opts.Reader == nil {
		opts.Reader = transcript.NewReader(transcript.TailOptions{}, 0)
	}
	if opts.ActivityWindow <= 0 {
		opts.ActivityWindow = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Claude{opts: opts, sticky: make(map[processKey]string)}
}

func (c *Claude) Type() session.AgentType { return session.AgentClaude }

// MatchProcess matches an argv[0] of "claude" or ".../claude". The process
// name is usually "node", so it is not consulted.
func (c *Claude) MatchProcess(rec process.Record) bool {
	a := strings.ToLower(rec.Argv0())
	return a == "claude" || strings.HasSuffix(a, "/claude")
}

func (c *Claude) ParseRecord(data []byte) (transcript.Record, error) {
	return transcript.ParseClaudeLine(data)
}

// LocateTranscript lists the primary transcripts for cwd, newest first.
func (c *Claude) LocateTranscript(ctx context.Context, cwd string) ([]Source, error) {
	if cwd == "" {
		return nil, nil
	}
	dir := filepath.Join(c.opts.ProjectsDir, transcript.EncodeProjectDir(cwd))
	if _, err := os.Stat(dir); err != nil {
		found, lookupErr := c.reverseLookup(cwd)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if found == "" {
			return nil, nil
		}
		dir = found
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("agent: claude: read %s: %w", dir, err)
	}
	var sources []Source
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasPrefix(name, subagentPrefix) {
			continue
		}
		stem := strings.TrimSuffix(name, ".jsonl")
		if _, err := uuid.Parse(stem); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		sources = append(sources, Source{
			Path:      filepath.Join(dir, name),
			ModTime:   info.ModTime(),
			SessionID: stem,
		})
	}
	slices.SortStableFunc(sources, func(a, b Source) int {
		return b.ModTime.Compare(a.ModTime)
	})
	return sources, nil
}

// reverseLookup finds a project directory whose decoded name is cwd. The
// directory encoding is lossy, so the exact name may differ from what
// EncodeProjectDir produces today.
func (c *Claude) reverseLookup(cwd string) (string, error) {
	entries, err := os.ReadDir(c.opts.ProjectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("agent: claude: read projects dir: %w", err)
	}
	clean := filepath.Clean(cwd)
	for _, e := range entries {
		if e.IsDir() && transcript.DecodeProjectDir(e.Name()) == clean {
			return filepath.Join(c.opts.ProjectsDir, e.Name()), nil
		}
	}
	return "", nil
}

// Bind pairs processes with transcripts per working directory. A process
// keeps the transcript it was bound to while that file exists, however
// the two files' mtimes move. Unpaired processes then take the remaining
// transcripts, newest start with newest write. A lone process in its cwd
// always follows the newest transcript, so /clear moves it along.
func (c *Claude) Bind(ctx context.Context, candidates []process.Candidate) []Binding {
	var (
		order  []string
		byCwd  = make(map[string][]process.Candidate)
		result = make([]Binding, 0, len(candidates))
	)
	for _, cand := range candidates {
		if _, seen := byCwd[cand.Cwd]; !seen {
			order = append(order, cand.Cwd)
		}
		byCwd[cand.Cwd] = append(byCwd[cand.Cwd], cand)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[processKey]string, len(candidates))

	for _, cwd := range order {
		group := byCwd[cwd]
		slices.SortStableFunc(group, func(a, b process.Candidate) int {
			return cmp.Or(b.StartedAt.Compare(a.StartedAt), cmp.Compare(a.PID, b.PID))
		})

		sources, err := c.LocateTranscript(ctx, cwd)
		if err != nil {
			logging.Aggregate(logging.CompAgent, "transcript_locate_failed",
				slog.String("agent", string(c.Type())),
				slog.String("cwd", cwd),
				slog.String("error", err.Error()))
			// Keep pairings through a failed listing.
			for _, cand := range group {
				if id, ok := c.sticky[keyOf(cand)]; ok {
					next[keyOf(cand)] = id
				}
			}
		}

		for _, b := range c.pair(group, sources) {
			b.ProjectPath = cwd
			if b.Source != nil {
				next[keyOf(b.Candidate)] = b.ID
			} else {
				b.ID = livenessID(c.Type(), b.Candidate.PID)
			}
			result = append(result, b)
		}
	}
	// Processes not seen this cycle are forgotten.
	c.sticky = next
	return result
}

// pair assigns sources to one cwd's processes, which arrive newest start
// first. Sources arrive newest write first. c.mu must be held.
func (c *Claude) pair(group []process.Candidate, sources []Source) []Binding {
	out := make([]Binding, len(group))
	for i, cand := range group {
		out[i].Candidate = cand
	}
	if len(group) == 1 {
		if len(sources) > 0 {
			src := sources[0]
			out[0].Source, out[0].ID = &src, src.SessionID
		}
		return out
	}

	index := make(map[string]int, len(sources))
	for i, src := range sources {
		index[src.SessionID] = i
	}
	claimed := make([]bool, len(sources))
	for i, cand := range group {
		j, ok := index[c.sticky[keyOf(cand)]]
		if !ok || claimed[j] {
			continue
		}
		claimed[j] = true
		src := sources[j]
		out[i].Source, out[i].ID = &src, src.SessionID
	}

	j := 0
	for i := range out {
		if out[i].Source != nil {
			continue
		}
		for j < len(sources) && claimed[j] {
			j++
		}
		if j == len(sources) {
			break
		}
		claimed[j] = true
		src := sources[j]
		out[i].Source, out[i].ID = &src, src.SessionID
	}
	return out
}

// Read tails and summarizes the bound transcript.
func (c *Claude) Read(ctx context.Context, b Binding) (Observation, error) {
	obs := Observation{Subagents: b.Candidate.ChildAgents}
	if b.Source == nil {
		return obs, nil
	}

	info, err := os.Stat(b.Source.Path)
	if err != nil {
		return obs, fmt.Errorf("agent: claude: stat: %w", err)
	}
	obs.FileModTime = info.ModTime()

	lines := c.opts.Reader.ReadTail(ctx, b.Source.Path)
	records, skipped := transcript.ParseLines(lines, c.ParseRecord)
	if skipped > 0 {
		logging.Aggregate(logging.CompTranscript, "malformed_lines_skipped",
			slog.String("path", b.Source.Path),
			slog.Int("count", skipped))
	}
	obs.Summary = transcript.Summarize(records)

	sessionID := b.Source.SessionID
	if sessionID == "" {
		sessionID = obs.Summary.SessionID
	}
	if n := c.countSubagents(b.Source.Path, sessionID); n > obs.Subagents {
		obs.Subagents = n
	}
	return obs, nil
}

// countSubagents counts recently written subagent transcripts belonging to
// sessionID, either beside the parent transcript or in its subagents dir.
func (c *Claude) countSubagents(transcriptPath, sessionID string) int {
	if sessionID == "" {
		return 0
	}
	dir := filepath.Dir(transcriptPath)
	patterns := []string{
		filepath.Join(dir, subagentPrefix+"*.jsonl"),
		filepath.Join(dir, sessionID, "subagents", subagentPrefix+"*.jsonl"),
	}
	cutoff := c.opts.Now().Add(-c.opts.ActivityWindow)

	count := 0
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			if subagentParent(path) == sessionID {
				count++
			}
		}
	}
	return count
}

// subagentParent returns the sessionId recorded in the first lines of a
// subagent transcript.
func subagentParent(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for i := 0; i < subagentHeadLines && sc.Scan(); i++ {
		var head struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(sc.Bytes(), &head) == nil && head.SessionID != "" {
			return head.SessionID
		}
	}
	if err := sc.Err(); err != nil {
		agentLog.Debug("subagent_head_unreadable", slog.String("path", path), slog.String("error", err.Error()))
	}
	return ""
}
