// Package process finds live, user-initiated agent processes.
//
// Scanning only reads the OS process table. Agent processes are never
// signalled or waited on.
package process

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/session"
)

// Record is one row of the process table. Cwd and CPU are filled lazily by
// Table.Inspect, and only for candidates.
type Record struct {
	PID       int32
	PPID      int32
	Name      string
	Args      []string
	Cwd       string
	StartedAt time.Time

	// CPU is percent of one core over the interval since the previous scan.
	CPU float64
}

// Argv0 returns the first argument, or "".
func (r Record) Argv0() string {
	if len(r.Args) == 0 {
		return ""
	}
	return r.Args[0]
}

// CommandLine joins Args with spaces.
func (r Record) CommandLine() string {
	return strings.Join(r.Args, " ")
}

// BaseName is the executable's base name, from argv[0] when present.
func (r Record) BaseName() string {
	if a := r.Argv0(); a != "" {
		return filepath.Base(a)
	}
	return r.Name
}

// Table is a source of process records.
type Table interface {
	// List returns every process with PID, PPID, Name, Args and StartedAt.
	List(ctx context.Context) ([]Record, error)

	// Inspect fills Cwd and CPU for rec. Failures leave the fields empty.
	Inspect(ctx context.Context, rec *Record) error
}

// Matcher decides whether a record is a supported agent.
type Matcher interface {
	Match(rec Record) (session.AgentType, bool)
}

// Candidate is a process that passed every filter.
type Candidate struct {
	Record
	Agent session.AgentType

	// ChildAgents counts agent processes whose parent is this one.
	ChildAgents int
	Terminal    session.TerminalApp
}

// Result is one scan.
type Result struct {
	Candidates []Candidate

	// Scanned is the size of the process table.
	Scanned int
}
