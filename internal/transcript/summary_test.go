package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, lines ...string) []Record {
	t.Helper()
	records, skipped := ParseLines(lines, ParseClaudeLine)
	require.Zero(t, skipped)
	return records
}

func TestSummarizeMostRecentContentWins(t *testing.T) {
	s := Summarize(parseAll(t,
		`{"type":"user","sessionId":"s1","gitBranch":"old","timestamp":"2025-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}`,
		`{"type":"assistant","sessionId":"s1","gitBranch":"feature","timestamp":"2025-01-01T00:00:05Z","message":{"role":"assistant","content":[{"type":"tool_use","name":"Read"}]}}`,
		`{"type":"progress","sessionId":"s1","timestamp":"2025-01-01T00:00:09Z"}`,
	))

	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, "feature", s.GitBranch)
	assert.Equal(t, KindToolUse, s.Last)
	assert.Equal(t, "assistant", s.LastRole)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 9, 0, time.UTC), s.LastActivity.UTC(), "progress records count as activity")
	assert.Equal(t, "hello", s.LastMessage)
	assert.Equal(t, "user", s.LastMessageRole)
	assert.Equal(t, 3, s.Parsed)
	assert.False(t, s.Compacting)
}

func TestSummarizeCompacting(t *testing.T) {
	s := Summarize(parseAll(t,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","content":"x"}]}}`,
		`{"type":"system","subtype":"compact_boundary"}`,
	))
	assert.True(t, s.Compacting)
	assert.Equal(t, KindToolResult, s.Last)
}

func TestSummarizeCompactingSurvivesNewerToolResult(t *testing.T) {
	s := Summarize(parseAll(t,
		`{"type":"system","subtype":"compact_boundary","timestamp":"2026-03-01T12:00:00Z"}`,
		`{"type":"user","timestamp":"2026-03-01T12:00:01Z","message":{"role":"user","content":[{"type":"tool_result","content":"x"}]}}`,
		`{"type":"user","timestamp":"2026-03-01T12:00:02Z","message":{"role":"user","content":"keep going"}}`,
	))
	assert.True(t, s.Compacting)
	assert.Equal(t, KindUserPrompt, s.Last)
}

func TestSummarizeCompactionFinished(t *testing.T) {
	s := Summarize(parseAll(t,
		`{"type":"system","subtype":"compact_boundary"}`,
		`{"type":"user","isCompactSummary":true,"message":{"role":"user","content":"This session is being continued"}}`,
	))
	assert.False(t, s.Compacting)
}

func TestSummarizeBoundaryBehindContentIsNotCompacting(t *testing.T) {
	s := Summarize(parseAll(t,
		`{"type":"system","subtype":"compact_boundary"}`,
		`{"type":"assistant","message":{"role":"assistant","content":"ok"}}`,
	))
	assert.False(t, s.Compacting)
	assert.Equal(t, KindAssistantText, s.Last)
}

func TestSummarizeLastMessageTruncated(t *testing.T) {
	long := strings.Repeat("é", 150)
	s := Summarize(parseAll(t,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"`+long+`"}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","content":"x"}]}}`,
	))
	assert.Equal(t, strings.Repeat("é", 100)+"...", s.LastMessage)
	assert.Equal(t, "assistant", s.LastMessageRole)
	assert.Equal(t, KindToolResult, s.Last)
}

func TestSummarizeContextTokensFromNewestUsage(t *testing.T) {
	s := Summarize(parseAll(t,
		`{"type":"assistant","message":{"role":"assistant","content":"a","usage":{"input_tokens":1}}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"b","usage":{"input_tokens":50000,"cache_read_input_tokens":50000}}}`,
	))
	assert.Equal(t, 100000, s.ContextTokens)
	require.NotNil(t, s.ContextPercent())
	assert.InDelta(t, 50.0, *s.ContextPercent(), 0.001)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, KindNone, s.Last)
	assert.Zero(t, s.Parsed)
	assert.True(t, s.LastActivity.IsZero())
	assert.Nil(t, s.ContextPercent())
}
