package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	poll := cfg.GetPoll()
	assert.Equal(t, 2*time.Second, poll.Interval)
	assert.Equal(t, 500, poll.TailLines)
	assert.Equal(t, 3, poll.MaxMissedCycles)

	st := cfg.GetStatus()
	assert.Equal(t, 30*time.Second, st.ActivityWindow)
	assert.Equal(t, 5*time.Minute, st.ResponseWindow)
	assert.Equal(t, st.ActivityWindow, st.SmoothingWindow)
	assert.Equal(t, 5.0, st.CPUActive)

	assert.Equal(t, []string{"claude-code-acp"}, cfg.GetAgents().EmbedderSignatures)
	assert.Equal(t, "127.0.0.1:8421", cfg.GetWeb().Listen)
	require.NotNil(t, cfg.GetLogs().Compress)
	assert.True(t, *cfg.GetLogs().Compress)
}

func TestLoadFromOverrides(t *testing.T) {
	path := writeConfig(t, `
[poll]
interval = "5s"
workers = 2

[status]
activity_window = "45s"
response_window = "10s"
cpu_active_percent = 12.5

[agents]
claude_projects_dir = "/data/claude"
embedder_signatures = []

[web]
token = "s3cret"

[logs]
level = "debug"
compress = false
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.GetPoll().Interval)
	assert.Equal(t, 2, cfg.GetPoll().Workers)

	st := cfg.GetStatus()
	assert.Equal(t, 45*time.Second, st.ActivityWindow)
	assert.Equal(t, 45*time.Second, st.ResponseWindow, "response window never shorter than activity window")
	assert.Equal(t, 12.5, st.CPUActive)

	agents := cfg.GetAgents()
	assert.Equal(t, "/data/claude", agents.ClaudeProjectsDir)
	assert.Empty(t, agents.EmbedderSignatures)

	assert.Equal(t, "s3cret", cfg.GetWeb().Token)
	assert.Equal(t, "debug", cfg.GetLogs().Level)
	assert.False(t, *cfg.GetLogs().Compress)
}

func TestLoadFromParseError(t *testing.T) {
	path := writeConfig(t, "[poll\ninterval = ")
	cfg, err := LoadFrom(path)
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 2*time.Second, cfg.GetPoll().Interval)
}

func TestLoadCachesAndReloads(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("[web]\nlisten = \"127.0.0.1:1\"\n"), 0o600))

	cfg, err := Reload()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", cfg.GetWeb().Listen)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("[web]\nlisten = \"127.0.0.1:2\"\n"), 0o600))
	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again)

	fresh, err := Reload()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2", fresh.GetWeb().Listen)
}
