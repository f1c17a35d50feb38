package main

import (
	"flag"
	"reflect"
	"testing"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/config"
)

func TestNormalizeArgs(t *testing.T) {
	newFS := func() *flag.FlagSet {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.Bool("json", false, "")
		fs.Bool("no-color", false, "")
		fs.String("format", "", "")
		return fs
	}

	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags already before positional args",
			args:     []string{"--json", "api"},
			expected: []string{"--json", "api"},
		},
		{
			name:     "bool flag after positional arg",
			args:     []string{"api", "--json"},
			expected: []string{"--json", "api"},
		},
		{
			name:     "string flag after positional arg",
			args:     []string{"api", "--format", "yaml"},
			expected: []string{"--format", "yaml", "api"},
		},
		{
			name:     "flag with equals syntax",
			args:     []string{"api", "--format=yaml", "--no-color"},
			expected: []string{"--format=yaml", "--no-color", "api"},
		},
		{
			name:     "double dash stops flag parsing",
			args:     []string{"--json", "--", "--not-a-flag"},
			expected: []string{"--json", "--not-a-flag"},
		},
		{
			name:     "lone dash is positional",
			args:     []string{"-", "--json"},
			expected: []string{"--json", "-"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeArgs(newFS(), tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("normalizeArgs(%v) = %v, want %v", tt.args, got, tt.expected)
			}
		})
	}
}

func TestBuildMonitorRespectsDisableOpenCode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Agents.ClaudeProjectsDir = t.TempDir()
	cfg.Agents.OpenCodeDataDir = t.TempDir()

	mon := buildMonitor(cfg)
	if mon.agentsCount != 2 {
		t.Fatalf("expected claude and opencode, got %d agents", mon.agentsCount)
	}
	if len(mon.watchRoots) != 1 || mon.watchRoots[0] != cfg.Agents.ClaudeProjectsDir {
		t.Fatalf("unexpected watch roots: %v", mon.watchRoots)
	}

	cfg.Agents.DisableOpenCode = true
	if got := buildMonitor(cfg).agentsCount; got != 1 {
		t.Fatalf("expected only claude with opencode disabled, got %d agents", got)
	}
}

func TestBuildMonitorSnapshotBeforeFirstCycle(t *testing.T) {
	cfg := &config.Config{}
	cfg.Poll.Interval = time.Second
	cfg.Agents.ClaudeProjectsDir = t.TempDir()

	resp := buildMonitor(cfg).poller.Snapshot()
	if resp == nil {
		t.Fatal("snapshot must never be nil")
	}
	if resp.TotalCount != 0 || len(resp.Sessions) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", resp)
	}
}
