// Package session defines the session records produced by the monitor and
// the response handed to dashboards.
package session

import (
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// Status is the activity bucket a session is in.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusThinking   Status = "thinking"
	StatusCompacting Status = "compacting"
	StatusIdle       Status = "idle"
)

// AgentType identifies which agent implementation a session belongs to.
type AgentType string

const (
	AgentClaude   AgentType = "claude"
	AgentOpenCode AgentType = "opencode"
)

// TerminalApp is the terminal the session was launched from, when known.
type TerminalApp string

const (
	TerminalITerm2  TerminalApp = "iterm2"
	TerminalWarp    TerminalApp = "warp"
	TerminalCursor  TerminalApp = "cursor"
	TerminalVSCode  TerminalApp = "vscode"
	TerminalApple   TerminalApp = "terminal"
	TerminalTmux    TerminalApp = "tmux"
	TerminalGhostty TerminalApp = "ghostty"
	TerminalUnknown TerminalApp = "unknown"
)

// MaxMessagePreview is the number of runes kept in LastMessage.
const MaxMessagePreview = 100

// Link is a user-defined bookmark attached to a project or session.
type Link struct {
	Label string `json:"label" yaml:"label"`
	URL   string `json:"url" yaml:"url"`
}

// Session is one live, user-initiated agent instance.
//
// The fields after ContextWindowPercent are written only by enrichment
// collaborators. The poller never reads or rewrites them.
type Session struct {
	ID                   string      `json:"id" yaml:"id"`
	AgentType            AgentType   `json:"agentType" yaml:"agentType"`
	ProjectName          string      `json:"projectName" yaml:"projectName"`
	ProjectPath          string      `json:"projectPath" yaml:"projectPath"`
	GitBranch            string      `json:"gitBranch,omitempty" yaml:"gitBranch,omitempty"`
	Status               Status      `json:"status" yaml:"status"`
	LastMessage          string      `json:"lastMessage,omitempty" yaml:"lastMessage,omitempty"`
	LastMessageRole      string      `json:"lastMessageRole,omitempty" yaml:"lastMessageRole,omitempty"`
	LastActivityAt       time.Time   `json:"lastActivityAt" yaml:"lastActivityAt"`
	PID                  int32       `json:"pid" yaml:"pid"`
	CPUUsage             float64     `json:"cpuUsage" yaml:"cpuUsage"`
	ActiveSubagentCount  int         `json:"activeSubagentCount" yaml:"activeSubagentCount"`
	TerminalApp          TerminalApp `json:"terminalApp" yaml:"terminalApp"`
	ContextWindowPercent *float64    `json:"contextWindowPercent,omitempty" yaml:"contextWindowPercent,omitempty"`

	GitHubURL     string         `json:"githubUrl,omitempty" yaml:"githubUrl,omitempty"`
	RepoName      string         `json:"repoName,omitempty" yaml:"repoName,omitempty"`
	IsWorktree    bool           `json:"isWorktree,omitempty" yaml:"isWorktree,omitempty"`
	CommitsAhead  *int           `json:"commitsAhead,omitempty" yaml:"commitsAhead,omitempty"`
	CommitsBehind *int           `json:"commitsBehind,omitempty" yaml:"commitsBehind,omitempty"`
	Links         []Link         `json:"links,omitempty" yaml:"links,omitempty"`
	Extra         map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// SortPriority orders statuses for display. Lower sorts first.
func SortPriority(s Status) int {
	switch s {
	case StatusThinking, StatusProcessing, StatusCompacting:
		return 0
	case StatusWaiting:
		return 1
	default:
		return 2
	}
}

// IsActive reports whether the agent is doing work in this status.
func IsActive(s Status) bool {
	return SortPriority(s) == 0
}

// ProjectNameFromPath returns the last non-empty path segment.
func ProjectNameFromPath(path string) string {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	if len(parts) == 0 {
		return "Unknown"
	}
	return parts[len(parts)-1]
}

// TruncateMessage shortens msg to MaxMessagePreview runes, appending "..."
// when anything was cut.
func TruncateMessage(msg string) string {
	if len([]rune(msg)) <= MaxMessagePreview {
		return msg
	}
	return string([]rune(msg)[:MaxMessagePreview]) + "..."
}

// TruncateWidth fits s into width terminal cells.
func TruncateWidth(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
