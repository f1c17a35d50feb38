package transcript

import (
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/session"
)

// Summary is what the classifier and session builder need from a tail.
type Summary struct {
	SessionID string
	GitBranch string

	// LastActivity is the newest timestamp on any record, content or not.
	LastActivity time.Time

	Compacting bool

	// Last is the kind of the most recent content record.
	Last     Kind
	LastRole string

	LastMessage     string
	LastMessageRole string

	ContextTokens int
	Parsed        int
}

// ContextPercent returns ContextTokens as a share of the context window,
// or nil when no usage was recorded.
func (s Summary) ContextPercent() *float64 {
	if s.ContextTokens <= 0 {
		return nil
	}
	pct := float64(s.ContextTokens) / ContextWindowTokens * 100
	if pct > 100 {
		pct = 100
	}
	return &pct
}

// Summarize walks records, given in file order, from newest to oldest.
func Summarize(records []Record) Summary {
	s := Summary{Parsed: len(records)}

	var (
		foundContent  bool
		compactDone   bool
		assistantSeen bool
		foundText    bool
		foundUsage   bool
	)

	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]

		if s.SessionID == "" {
			s.SessionID = rec.SessionID
		}
		if s.GitBranch == "" {
			s.GitBranch = rec.GitBranch
		}
		if rec.Timestamp.After(s.LastActivity) {
			s.LastActivity = rec.Timestamp
		}

		// Newest first: a boundary with no assistant content or compact
		// summary after it means compaction is still running. User and tool
		// result records written meanwhile do not end it.
		if !assistantSeen && !compactDone && !s.Compacting {
			if rec.IsCompactSummary {
				compactDone = true
			} else if rec.Subtype == "compact_boundary" {
				s.Compacting = true
			}
		}
		if rec.HasContent() && (rec.Role == "assistant" || rec.Role == "" && rec.Type == "assistant") {
			assistantSeen = true
		}

		if !foundContent && rec.HasContent() {
			s.Last = rec.Kind()
			s.LastRole = rec.Role
			foundContent = true
		}

		if !foundText {
			if text := rec.PreviewText(); text != "" {
				s.LastMessage = session.TruncateMessage(text)
				s.LastMessageRole = rec.Role
				foundText = true
			}
		}

		if !foundUsage && rec.Usage != nil {
			s.ContextTokens = rec.Usage.ContextTokens()
			foundUsage = true
		}
	}
	return s
}
