// Package project attaches repository metadata and user links to sessions.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/git"
	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/session"
)

// ConfigFileName is the per-project links file, read from the project root.
const ConfigFileName = ".agent-sessions.json"

// Config is the content of ConfigFileName.
type Config struct {
	Links        []session.Link            `json:"links"`
	SessionLinks map[string][]session.Link `json:"sessionLinks"`
}

// LoadConfig reads ConfigFileName from dir. A missing file is an empty
// config.
func LoadConfig(dir string) (Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("project: read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("project: parse %s: %w", ConfigFileName, err)
	}
	return cfg, nil
}

// Options configures an Enricher.
type Options struct {
	// GitTimeout bounds each git invocation. Default: 2s
	GitTimeout time.Duration

	// AheadBehindTTL defaults to 30s, LinksTTL to 60s. Remote URL and
	// worktree status are cached until the project goes away.
	AheadBehindTTL time.Duration
	LinksTTL       time.Duration

	Now func() time.Time
}

type cached[T any] struct {
	value T
	at    time.Time
}

type counts struct {
	ahead, behind int
	ok            bool
}

// Enricher fills in the pass-through fields of a session.
type Enricher struct {
	opts Options

	mu          sync.Mutex
	urls        map[string]string
	worktrees   map[string]bool
	aheadBehind map[string]cached[counts]
	configs     map[string]cached[Config]
}

// NewEnricher returns an Enricher with empty caches.
func NewEnricher(opts Options) *Enricher {
	if opts.GitTimeout <= 0 {
		opts.GitTimeout = 2 * time.Second
	}
	if opts.AheadBehindTTL <= 0 {
		opts.AheadBehindTTL = 30 * time.Second
	}
	if opts.LinksTTL <= 0 {
		opts.LinksTTL = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Enricher{
		opts:        opts,
		urls:        make(map[string]string),
		worktrees:   make(map[string]bool),
		aheadBehind: make(map[string]cached[counts]),
		configs:     make(map[string]cached[Config]),
	}
}

// Enrich sets git metadata and links on s.
func (e *Enricher) Enrich(ctx context.Context, s *session.Session) {
	path := s.ProjectPath
	if path == "" {
		return
	}

	s.GitHubURL = e.githubURL(ctx, path)
	s.RepoName = git.RepoName(s.GitHubURL)
	s.IsWorktree = e.isWorktree(ctx, path)

	if s.GitBranch != "" {
		if c := e.counts(ctx, path, s.GitBranch); c.ok {
			ahead, behind := c.ahead, c.behind
			s.CommitsAhead = &ahead
			s.CommitsBehind = &behind
		}
	}

	cfg := e.config(path)
	var links []session.Link
	links = append(links, cfg.Links...)
	links = append(links, cfg.SessionLinks[s.ID]...)
	if len(links) > 0 {
		s.Links = links
	}
}

// Retain drops cache entries for projects not in activePaths.
func (e *Enricher) Retain(activePaths []string) {
	active := make(map[string]bool, len(activePaths))
	for _, p := range activePaths {
		active[p] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for p := range e.urls {
		if !active[p] {
			delete(e.urls, p)
		}
	}
	for p := range e.worktrees {
		if !active[p] {
			delete(e.worktrees, p)
		}
	}
	for p := range e.configs {
		if !active[p] {
			delete(e.configs, p)
		}
	}
	for key := range e.aheadBehind {
		path, _, _ := strings.Cut(key, "\x00")
		if !active[path] {
			delete(e.aheadBehind, key)
		}
	}
}

func (e *Enricher) githubURL(ctx context.Context, path string) string {
	e.mu.Lock()
	url, ok := e.urls[path]
	e.mu.Unlock()
	if ok {
		return url
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.GitTimeout)
	defer cancel()
	url, err := git.GetGitHubURL(ctx, path)
	if err != nil {
		logging.Aggregate(logging.CompProject, "git_remote_unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	e.mu.Lock()
	e.urls[path] = url
	e.mu.Unlock()
	return url
}

func (e *Enricher) isWorktree(ctx context.Context, path string) bool {
	e.mu.Lock()
	wt, ok := e.worktrees[path]
	e.mu.Unlock()
	if ok {
		return wt
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.GitTimeout)
	defer cancel()
	wt = git.IsWorktree(ctx, path)

	e.mu.Lock()
	e.worktrees[path] = wt
	e.mu.Unlock()
	return wt
}

func (e *Enricher) counts(ctx context.Context, path, branch string) counts {
	key := path + "\x00" + branch
	now := e.opts.Now()

	e.mu.Lock()
	c, ok := e.aheadBehind[key]
	e.mu.Unlock()
	if ok && now.Sub(c.at) <= e.opts.AheadBehindTTL {
		return c.value
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.GitTimeout)
	defer cancel()
	var v counts
	if ahead, behind, err := git.AheadBehind(ctx, path, branch); err == nil {
		v = counts{ahead: ahead, behind: behind, ok: true}
	}

	e.mu.Lock()
	e.aheadBehind[key] = cached[counts]{value: v, at: now}
	e.mu.Unlock()
	return v
}

func (e *Enricher) config(path string) Config {
	now := e.opts.Now()

	e.mu.Lock()
	c, ok := e.configs[path]
	e.mu.Unlock()
	if ok && now.Sub(c.at) <= e.opts.LinksTTL {
		return c.value
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		logging.Aggregate(logging.CompProject, "project_config_invalid",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	e.mu.Lock()
	e.configs[path] = cached[Config]{value: cfg, at: now}
	e.mu.Unlock()
	return cfg
}
