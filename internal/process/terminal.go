package process

import (
	"strings"

	"github.com/asheshgoplani/agent-sessions/internal/session"
)

// DetectTerminal names the terminal hosting a process from its ancestors,
// nearest first. The nearest recognizable ancestor wins, so an agent in tmux
// inside iTerm2 reports tmux.
func DetectTerminal(chain []Record) session.TerminalApp {
	for _, rec := range chain {
		if app := terminalFor(rec.Name); app != session.TerminalUnknown {
			return app
		}
		if app := terminalFor(rec.BaseName()); app != session.TerminalUnknown {
			return app
		}
	}
	return session.TerminalUnknown
}

func terminalFor(name string) session.TerminalApp {
	lower := strings.ToLower(name)
	switch {
	case name == "":
		return session.TerminalUnknown
	case strings.HasPrefix(lower, "tmux"):
		return session.TerminalTmux
	case strings.Contains(lower, "iterm"):
		return session.TerminalITerm2
	case strings.Contains(lower, "warp"):
		return session.TerminalWarp
	case strings.Contains(lower, "cursor"):
		return session.TerminalCursor
	case lower == "code", strings.HasPrefix(lower, "code-"),
		strings.Contains(name, "Code Helper"), strings.Contains(name, "Visual Studio Code"):
		return session.TerminalVSCode
	case strings.Contains(lower, "ghostty"):
		return session.TerminalGhostty
	case name == "Terminal":
		return session.TerminalApple
	}
	return session.TerminalUnknown
}
