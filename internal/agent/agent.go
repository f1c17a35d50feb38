// Package agent knows where each supported coding agent keeps its
// transcripts and how to read them.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/process"
	"github.com/asheshgoplani/agent-sessions/internal/session"
	"github.com/asheshgoplani/agent-sessions/internal/transcript"
)

// Source is one transcript store an agent writes to.
type Source struct {
	Path      string
	ModTime   time.Time
	SessionID string
}

// Binding pairs a live process with the transcript it is writing.
type Binding struct {
	// ID is the session identity, stable for as long as the process runs.
	ID          string
	Candidate   process.Candidate
	ProjectPath string

	// Source is nil when no transcript could be found; such sessions are
	// classified from process liveness alone.
	Source *Source
}

// LivenessOnly reports whether the binding has no transcript.
func (b Binding) LivenessOnly() bool { return b.Source == nil }

// Observation is what one read of a session produced.
type Observation struct {
	Summary     transcript.Summary
	FileModTime time.Time
	Subagents   int
}

// Agent is the per-agent capability set.
type Agent interface {
	Type() session.AgentType

	// MatchProcess reports whether rec is this agent's CLI.
	MatchProcess(rec process.Record) bool

	// LocateTranscript lists transcript stores for cwd, newest first.
	LocateTranscript(ctx context.Context, cwd string) ([]Source, error)

	// ParseRecord parses one stored record.
	ParseRecord(data []byte) (transcript.Record, error)

	// Bind assigns session identities to this agent's candidates.
	Bind(ctx context.Context, candidates []process.Candidate) []Binding

	// Read loads the latest state of a bound session.
	Read(ctx context.Context, b Binding) (Observation, error)
}

// Registry holds the enabled agents in match order.
type Registry struct {
	agents []Agent
}

// NewRegistry returns a registry of agents. Earlier agents win when more
// than one matches a process.
func NewRegistry(agents ...Agent) *Registry {
	return &Registry{agents: agents}
}

// Agents returns the registered agents.
func (r *Registry) Agents() []Agent {
	return r.agents
}

// Get returns the agent for t.
func (r *Registry) Get(t session.AgentType) (Agent, bool) {
	for _, a := range r.agents {
		if a.Type() == t {
			return a, true
		}
	}
	return nil, false
}

// Match implements process.Matcher.
func (r *Registry) Match(rec process.Record) (session.AgentType, bool) {
	for _, a := range r.agents {
		if a.MatchProcess(rec) {
			return a.Type(), true
		}
	}
	return "", false
}

// livenessID is the identity of a session with no transcript.
func livenessID(t session.AgentType, pid int32) string {
	return fmt.Sprintf("%s-pid-%d", t, pid)
}
