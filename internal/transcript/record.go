package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the status-relevant shape of a content record.
type Kind int

const (
	KindNone Kind = iota
	KindThinking
	KindToolUse
	KindAssistantText
	KindToolResult
	KindLocalCommand
	KindUserPrompt
)

func (k Kind) String() string {
	switch k {
	case KindThinking:
		return "thinking"
	case KindToolUse:
		return "tool_use"
	case KindAssistantText:
		return "assistant_text"
	case KindToolResult:
		return "tool_result"
	case KindLocalCommand:
		return "local_command"
	case KindUserPrompt:
		return "user_prompt"
	default:
		return "none"
	}
}

// Block types shared by every agent's records.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContextWindowTokens is the window size contextWindowPercent is measured against.
const ContextWindowTokens = 200000

// Block is one piece of message content.
type Block struct {
	Type string
	Text string
}

// Usage is the token accounting attached to assistant records.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// ContextTokens is the prompt size the model saw for this turn.
func (u Usage) ContextTokens() int {
	return u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// Record is one parsed transcript entry, agent-neutral.
type Record struct {
	Type             string
	Subtype          string
	SessionID        string
	GitBranch        string
	Timestamp        time.Time
	IsCompactSummary bool
	Role             string
	Content          []Block
	Usage            *Usage

	// Partial marks an assistant message that is still streaming.
	Partial bool
}

// HasContent reports whether the record carries message content.
func (r Record) HasContent() bool { return len(r.Content) > 0 }

func (r Record) hasBlock(typ string) bool {
	for _, b := range r.Content {
		if b.Type == typ {
			return true
		}
	}
	return false
}

func (r Record) onlyBlocks(typ string) bool {
	if len(r.Content) == 0 {
		return false
	}
	for _, b := range r.Content {
		if b.Type != typ {
			return false
		}
	}
	return true
}

// FirstText returns the text of the first text-bearing block.
func (r Record) FirstText() string {
	for _, b := range r.Content {
		if b.Type == BlockText {
			return b.Text
		}
	}
	return ""
}

// PreviewText returns the first non-empty text, or "" when there is none.
func (r Record) PreviewText() string {
	for _, b := range r.Content {
		if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
			return b.Text
		}
	}
	return ""
}

// Kind classifies the record's content.
func (r Record) Kind() Kind {
	if !r.HasContent() {
		return KindNone
	}
	role := r.Role
	if role == "" {
		role = r.Type
	}
	switch role {
	case "assistant":
		switch {
		case r.hasBlock(BlockToolUse):
			return KindToolUse
		case r.Partial, r.onlyBlocks(BlockThinking):
			return KindThinking
		default:
			return KindAssistantText
		}
	case "user", "tool":
		if role == "tool" || r.hasBlock(BlockToolResult) {
			return KindToolResult
		}
		text := r.FirstText()
		if IsLocalCommand(text) || IsInterrupted(text) {
			return KindLocalCommand
		}
		return KindUserPrompt
	}
	return KindNone
}

var localCommands = []string{
	"/clear", "/compact", "/help", "/config", "/cost", "/doctor", "/init",
	"/login", "/logout", "/memory", "/model", "/permissions", "/pr-comments",
	"/review", "/status", "/terminal-setup", "/vim",
}

// IsLocalCommand reports whether text is a slash command the CLI handles
// itself, so no model response will follow.
func IsLocalCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<local-command-stdout>") || strings.HasPrefix(trimmed, "<local-command-caveat>") {
		return true
	}
	cmd := trimmed
	if rest, ok := strings.CutPrefix(trimmed, "<command-name>"); ok {
		if name, _, found := strings.Cut(rest, "</command-name>"); found {
			cmd = strings.TrimSpace(name)
		}
	}
	for _, lc := range localCommands {
		if cmd == lc || strings.HasPrefix(cmd, lc+" ") {
			return true
		}
	}
	return false
}

// IsInterrupted reports whether text is the marker left when the user
// cancels a request.
func IsInterrupted(text string) bool {
	return strings.Contains(text, "[Request interrupted by user]")
}

type claudeLine struct {
	Type             string         `json:"type"`
	Subtype          string         `json:"subtype"`
	SessionID        string         `json:"sessionId"`
	GitBranch        string         `json:"gitBranch"`
	Timestamp        string         `json:"timestamp"`
	IsCompactSummary bool           `json:"isCompactSummary"`
	Message          *claudeMessage `json:"message"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   *Usage          `json:"usage"`
}

type claudeBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var errNotObject = errors.New("transcript: line is not a JSON object")

// ParseClaudeLine parses one Claude Code JSONL record.
func ParseClaudeLine(line []byte) (Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Record{}, errNotObject
	}
	var raw claudeLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, fmt.Errorf("transcript: parse: %w", err)
	}

	rec := Record{
		Type:             raw.Type,
		Subtype:          raw.Subtype,
		SessionID:        raw.SessionID,
		GitBranch:        raw.GitBranch,
		IsCompactSummary: raw.IsCompactSummary,
	}
	if raw.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			rec.Timestamp = ts
		}
	}
	if raw.Message == nil {
		return rec, nil
	}
	rec.Role = raw.Message.Role
	rec.Usage = raw.Message.Usage
	rec.Content = parseContent(raw.Message.Content)
	return rec, nil
}

// parseContent accepts the two shapes Claude writes: a bare string or an
// array of typed blocks. Anything else is treated as no content.
func parseContent(raw json.RawMessage) []Block {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return nil
		}
		return []Block{{Type: BlockText, Text: s}}
	case '[':
		var blocks []claudeBlock
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil
		}
		out := make([]Block, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, Block(b))
		}
		return out
	}
	return nil
}

// ParseLines parses lines with parse, dropping malformed ones. It returns the
// records in input order and how many lines were skipped.
func ParseLines(lines []string, parse func([]byte) (Record, error)) ([]Record, int) {
	records := make([]Record, 0, len(lines))
	skipped := 0
	for _, line := range lines {
		rec, err := parse([]byte(line))
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}
