// Package config loads ~/.agent-sessions/config.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the config file inside Dir().
const FileName = "config.toml"

// HomeEnv overrides the config directory.
const HomeEnv = "AGENT_SESSIONS_HOME"

// Config is the user configuration. Zero values mean "use the default";
// read settings through the Get* methods.
type Config struct {
	Poll   PollSettings   `toml:"poll"`
	Status StatusSettings `toml:"status"`
	Agents AgentSettings  `toml:"agents"`
	Web    WebSettings    `toml:"web"`
	Logs   LogSettings    `toml:"logs"`
}

// PollSettings controls the sampling loop.
type PollSettings struct {
	// Interval between cycles. Default: 2s
	Interval time.Duration `toml:"interval"`

	// Workers bounds parallel transcript reads per cycle. Default: 8
	Workers int `toml:"workers"`

	// TailLines is how many trailing transcript lines are inspected. Default: 500
	TailLines int `toml:"tail_lines"`

	// TailMaxMB caps bytes read per transcript. Default: 8
	TailMaxMB int `toml:"tail_max_mb"`

	// ReadTimeout bounds a single transcript read. Default: 2s
	ReadTimeout time.Duration `toml:"read_timeout"`

	// MinRefreshInterval throttles manual refreshes. Default: 500ms
	MinRefreshInterval time.Duration `toml:"min_refresh_interval"`

	// MaxMissedCycles before a vanished session's history is purged. Default: 3
	MaxMissedCycles int `toml:"max_missed_cycles"`
}

// StatusSettings tunes classification and smoothing.
type StatusSettings struct {
	// ActivityWindow is how long a tool or reasoning signal counts as current. Default: 30s
	ActivityWindow time.Duration `toml:"activity_window"`

	// ResponseWindow is how long a pending tool result or prompt may go
	// unanswered before the session is reported as waiting. Default: 5m
	ResponseWindow time.Duration `toml:"response_window"`

	// SmoothingWindow is how long a downgrade from an active status must
	// persist before it is shown. Default: same as ActivityWindow
	SmoothingWindow time.Duration `toml:"smoothing_window"`

	// CPUActive is the CPU percentage at which a session is never shown idle. Default: 5
	CPUActive float64 `toml:"cpu_active_percent"`
}

// AgentSettings locates agent data.
type AgentSettings struct {
	// ClaudeProjectsDir defaults to ~/.claude/projects
	ClaudeProjectsDir string `toml:"claude_projects_dir"`

	// OpenCodeDataDir defaults to ~/.local/share/opencode
	OpenCodeDataDir string `toml:"opencode_data_dir"`

	// DisableOpenCode skips OpenCode detection entirely.
	DisableOpenCode bool `toml:"disable_opencode"`

	// EmbedderSignatures are parent command-line fragments identifying
	// editor integrations whose agent processes are not shown.
	// Default: ["claude-code-acp"]
	EmbedderSignatures []string `toml:"embedder_signatures"`
}

// WebSettings configures `agent-sessions serve`.
type WebSettings struct {
	// Listen address. Default: 127.0.0.1:8421
	Listen string `toml:"listen"`

	// Token, when set, is required on every API request.
	Token string `toml:"token"`
}

// LogSettings configures the structured log file.
type LogSettings struct {
	// Level is "debug", "info", "warn" or "error". Default: info
	Level string `toml:"level"`

	// Format is "json" or "text". Default: json
	Format string `toml:"format"`

	MaxMB         int   `toml:"max_mb"`
	Backups       int   `toml:"backups"`
	RetentionDays int   `toml:"retention_days"`
	Compress      *bool `toml:"compress"`

	// RingBufferMB is kept in memory for SIGUSR1 dumps. Default: 4
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateIntervalSecs between event_summary flushes. Default: 30
	AggregateIntervalSecs int `toml:"aggregate_interval_secs"`

	PprofEnabled bool `toml:"pprof_enabled"`
}

var (
	cached   *Config
	cachedMu sync.RWMutex
)

// Dir returns the config directory, honoring AGENT_SESSIONS_HOME.
func Dir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home dir: %w", err)
	}
	return filepath.Join(home, ".agent-sessions"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load returns the cached config, reading it on first use. A missing file
// yields defaults. On a parse error the defaults are cached and the error is
// returned so the caller can report it.
func Load() (*Config, error) {
	cachedMu.RLock()
	if cached != nil {
		defer cachedMu.RUnlock()
		return cached, nil
	}
	cachedMu.RUnlock()

	cachedMu.Lock()
	defer cachedMu.Unlock()
	if cached != nil {
		return cached, nil
	}

	path, err := Path()
	if err != nil {
		cached = &Config{}
		return cached, nil
	}
	cfg, err := LoadFrom(path)
	cached = cfg
	return cached, err
}

// Reload drops the cache and reads the file again.
func Reload() (*Config, error) {
	cachedMu.Lock()
	cached = nil
	cachedMu.Unlock()
	return Load()
}

// LoadFrom reads path without caching. It always returns a usable config.
func LoadFrom(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return &Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// GetPoll returns poll settings with defaults applied.
func (c *Config) GetPoll() PollSettings {
	s := c.Poll
	if s.Interval <= 0 {
		s.Interval = 2 * time.Second
	}
	if s.Workers <= 0 {
		s.Workers = 8
	}
	if s.TailLines <= 0 {
		s.TailLines = 500
	}
	if s.TailMaxMB <= 0 {
		s.TailMaxMB = 8
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 2 * time.Second
	}
	if s.MinRefreshInterval <= 0 {
		s.MinRefreshInterval = 500 * time.Millisecond
	}
	if s.MaxMissedCycles <= 0 {
		s.MaxMissedCycles = 3
	}
	return s
}

// GetStatus returns status settings with defaults applied.
func (c *Config) GetStatus() StatusSettings {
	s := c.Status
	if s.ActivityWindow <= 0 {
		s.ActivityWindow = 30 * time.Second
	}
	if s.ResponseWindow <= 0 {
		s.ResponseWindow = 5 * time.Minute
	}
	if s.ResponseWindow < s.ActivityWindow {
		s.ResponseWindow = s.ActivityWindow
	}
	if s.SmoothingWindow <= 0 {
		s.SmoothingWindow = s.ActivityWindow
	}
	if s.CPUActive <= 0 {
		s.CPUActive = 5
	}
	return s
}

// GetAgents returns agent settings with defaults applied.
func (c *Config) GetAgents() AgentSettings {
	s := c.Agents
	home, _ := os.UserHomeDir()
	if s.ClaudeProjectsDir == "" {
		s.ClaudeProjectsDir = filepath.Join(home, ".claude", "projects")
	}
	if s.OpenCodeDataDir == "" {
		s.OpenCodeDataDir = filepath.Join(home, ".local", "share", "opencode")
	}
	if s.EmbedderSignatures == nil {
		s.EmbedderSignatures = []string{"claude-code-acp"}
	}
	return s
}

// GetWeb returns web settings with defaults applied.
func (c *Config) GetWeb() WebSettings {
	s := c.Web
	if s.Listen == "" {
		s.Listen = "127.0.0.1:8421"
	}
	return s
}

// GetLogs returns log settings with defaults applied.
func (c *Config) GetLogs() LogSettings {
	s := c.Logs
	if s.Level == "" {
		s.Level = "info"
	}
	if s.Format == "" {
		s.Format = "json"
	}
	if s.MaxMB <= 0 {
		s.MaxMB = 10
	}
	if s.Backups <= 0 {
		s.Backups = 5
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = 10
	}
	if s.Compress == nil {
		on := true
		s.Compress = &on
	}
	if s.RingBufferMB <= 0 {
		s.RingBufferMB = 4
	}
	if s.AggregateIntervalSecs <= 0 {
		s.AggregateIntervalSecs = 30
	}
	return s
}
