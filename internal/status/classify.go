// Package status turns a transcript summary and process liveness into a
// session status. Classify is pure: the caller supplies the clock.
package status

import (
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/session"
	"github.com/asheshgoplani/agent-sessions/internal/transcript"
)

// Params are the classification thresholds.
type Params struct {
	// ActivityWindow is inclusive: a signal exactly this old is still current.
	ActivityWindow time.Duration

	// ResponseWindow is how long an outstanding tool result or prompt may go
	// unanswered before the session is considered to be waiting.
	ResponseWindow time.Duration

	// CPUActive vetoes idle at or above this CPU percentage.
	CPUActive float64
}

// DefaultParams returns the stock thresholds.
func DefaultParams() Params {
	return Params{
		ActivityWindow: 30 * time.Second,
		ResponseWindow: 5 * time.Minute,
		CPUActive:      5.0,
	}
}

// Input is everything Classify looks at for one session.
type Input struct {
	Alive      bool
	CPU        float64
	Compacting bool
	Last       transcript.Kind

	// Parsed is the number of records read. Zero means the transcript gave
	// nothing usable and FileModTime stands in for LastActivity.
	Parsed       int
	LastActivity time.Time
	FileModTime  time.Time

	// Prior is the committed status from the previous cycle, if any.
	Prior session.Status
	Now   time.Time
}

// Classify returns the raw status for in. ok is false when the session must
// not be emitted at all.
func Classify(in Input, p Params) (st session.Status, ok bool) {
	if in.Compacting {
		return session.StatusCompacting, true
	}
	if !in.Alive {
		return "", false
	}
	if p.ResponseWindow < p.ActivityWindow {
		p.ResponseWindow = p.ActivityWindow
	}

	age, known := signalAge(in)
	recent := known && age <= p.ActivityWindow
	pending := known && age <= p.ResponseWindow

	switch in.Last {
	case transcript.KindThinking:
		if recent {
			return session.StatusThinking, true
		}
		return idleVeto(in, p), true

	case transcript.KindUserPrompt:
		if pending {
			return session.StatusThinking, true
		}
		return session.StatusWaiting, true

	case transcript.KindToolResult:
		if pending {
			return session.StatusProcessing, true
		}
		return session.StatusWaiting, true

	case transcript.KindToolUse:
		if recent {
			return session.StatusProcessing, true
		}
		return session.StatusWaiting, true

	case transcript.KindAssistantText:
		return session.StatusWaiting, true

	case transcript.KindLocalCommand:
		return idleVeto(in, p), true

	default:
		if recent {
			return session.StatusProcessing, true
		}
		return idleVeto(in, p), true
	}
}

// signalAge measures from the newest record, or from the file's mtime when
// nothing parsed. A timestamp in the future counts as age zero.
func signalAge(in Input) (time.Duration, bool) {
	ref := in.LastActivity
	if in.Parsed == 0 || ref.IsZero() {
		ref = in.FileModTime
	}
	if ref.IsZero() {
		return 0, false
	}
	age := in.Now.Sub(ref)
	if age < 0 {
		age = 0
	}
	return age, true
}

// idleVeto keeps a busy process from being shown idle. CPU alone never
// promotes a session to processing.
func idleVeto(in Input, p Params) session.Status {
	if in.CPU < p.CPUActive {
		return session.StatusIdle
	}
	if in.Prior != "" && in.Prior != session.StatusIdle {
		return in.Prior
	}
	return session.StatusWaiting
}
