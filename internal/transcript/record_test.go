package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, line string) Record {
	t.Helper()
	rec, err := ParseClaudeLine([]byte(line))
	require.NoError(t, err)
	return rec
}

func TestParseClaudeLineFields(t *testing.T) {
	rec := mustParse(t, `{"type":"assistant","sessionId":"abc","gitBranch":"main","timestamp":"2025-01-02T03:04:05.678Z",`+
		`"message":{"role":"assistant","content":[{"type":"text","text":"done"}],`+
		`"usage":{"input_tokens":10,"cache_creation_input_tokens":20,"cache_read_input_tokens":30}}}`)

	assert.Equal(t, "assistant", rec.Type)
	assert.Equal(t, "abc", rec.SessionID)
	assert.Equal(t, "main", rec.GitBranch)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 678000000, time.UTC), rec.Timestamp.UTC())
	require.NotNil(t, rec.Usage)
	assert.Equal(t, 60, rec.Usage.ContextTokens())
	assert.Equal(t, KindAssistantText, rec.Kind())
}

func TestParseClaudeLineMalformed(t *testing.T) {
	for _, line := range []string{"", "not json", `{"type":`, `[1,2]`} {
		_, err := ParseClaudeLine([]byte(line))
		assert.Error(t, err, "line %q", line)
	}
}

func TestParseClaudeLineNoMessage(t *testing.T) {
	rec := mustParse(t, `{"type":"progress","timestamp":"2025-01-02T03:04:05Z"}`)
	assert.False(t, rec.HasContent())
	assert.Equal(t, KindNone, rec.Kind())
	assert.False(t, rec.Timestamp.IsZero())
}

func TestRecordKind(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Kind
	}{
		{"thinking only", `{"type":"assistant","message":{"role":"assistant","content":[{"type":"thinking","thinking":"hm"}]}}`, KindThinking},
		{"tool use", `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"let me"},{"type":"tool_use","name":"Bash"}]}}`, KindToolUse},
		{"assistant text", `{"type":"assistant","message":{"role":"assistant","content":"All done."}}`, KindAssistantText},
		{"tool result", `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","content":"ok"}]}}`, KindToolResult},
		{"prompt", `{"type":"user","message":{"role":"user","content":"fix the bug"}}`, KindUserPrompt},
		{"local command", `{"type":"user","message":{"role":"user","content":"/model sonnet"}}`, KindLocalCommand},
		{"wrapped command", `{"type":"user","message":{"role":"user","content":"<command-name>/clear</command-name>\n<command-message>clear</command-message>"}}`, KindLocalCommand},
		{"interrupted", `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"[Request interrupted by user]"}]}}`, KindLocalCommand},
		{"empty string", `{"type":"user","message":{"role":"user","content":""}}`, KindNone},
		{"empty array", `{"type":"assistant","message":{"role":"assistant","content":[]}}`, KindNone},
		{"object content", `{"type":"user","message":{"role":"user","content":{"x":1}}}`, KindNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, tt.line).Kind())
		})
	}
}

func TestPartialAssistantIsThinking(t *testing.T) {
	rec := Record{Role: "assistant", Content: []Block{{Type: BlockText, Text: "streaming"}}, Partial: true}
	assert.Equal(t, KindThinking, rec.Kind())

	rec.Content = append(rec.Content, Block{Type: BlockToolUse})
	assert.Equal(t, KindToolUse, rec.Kind())
}

func TestToolRoleIsToolResult(t *testing.T) {
	rec := Record{Role: "tool", Content: []Block{{Type: BlockText, Text: "output"}}}
	assert.Equal(t, KindToolResult, rec.Kind())
}

func TestIsLocalCommand(t *testing.T) {
	for _, text := range []string{
		"/clear", "/compact", "/help", "/config", "/cost", "/doctor", "/init", "/login",
		"/logout", "/memory", "/model", "/permissions", "/pr-comments", "/review",
		"/status", "/terminal-setup", "/vim",
		"/memory add something", "  /clear  ",
		"<command-name>/model</command-name>\n<command-args>sonnet</command-args>",
		"<local-command-stdout></local-command-stdout>",
		"<local-command-caveat>Caveat: messages below...</local-command-caveat>",
	} {
		assert.True(t, IsLocalCommand(text), "%q", text)
	}
	for _, text := range []string{
		"", "Hello Claude", "/custom-command", "/fix the bug", "/clearall",
		"<command-name>/fix</command-name>",
	} {
		assert.False(t, IsLocalCommand(text), "%q", text)
	}
}

func TestParseLinesSkipsMalformed(t *testing.T) {
	records, skipped := ParseLines([]string{
		`{"type":"user","sessionId":"s1"}`,
		`{broken`,
		`{"type":"assistant"}`,
	}, ParseClaudeLine)
	assert.Len(t, records, 2)
	assert.Equal(t, 1, skipped)
}
