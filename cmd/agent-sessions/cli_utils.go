package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/agent-sessions/internal/agent"
	"github.com/asheshgoplani/agent-sessions/internal/config"
	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/platform"
	"github.com/asheshgoplani/agent-sessions/internal/poller"
	"github.com/asheshgoplani/agent-sessions/internal/process"
	"github.com/asheshgoplani/agent-sessions/internal/project"
	"github.com/asheshgoplani/agent-sessions/internal/state"
	"github.com/asheshgoplani/agent-sessions/internal/status"
	"github.com/asheshgoplani/agent-sessions/internal/transcript"
)

// normalizeArgs reorders args so flags come before positional arguments.
// Go's flag package stops parsing at the first non-flag argument, which means
// "list foo --json" silently ignores --json.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// "--" terminates flag processing
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)

			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}

			// If it's not a bool flag, the next arg is its value
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// loadConfig reads the user config. A broken file is reported and the
// defaults are used.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		if cfg == nil {
			cfg = &config.Config{}
		}
	}
	return cfg
}

// initLogging sets up the log file under the config dir. console, when
// non-nil, mirrors records to the terminal. With toFile false nothing is
// written to disk.
func initLogging(cfg *config.Config, console io.Writer, toFile bool) {
	ls := cfg.GetLogs()
	logCfg := logging.Config{
		Level:                 ls.Level,
		Format:                ls.Format,
		MaxSizeMB:             ls.MaxMB,
		MaxBackups:            ls.Backups,
		MaxAgeDays:            ls.RetentionDays,
		Compress:              *ls.Compress,
		RingBufferSize:        ls.RingBufferMB << 20,
		AggregateIntervalSecs: ls.AggregateIntervalSecs,
		PprofEnabled:          ls.PprofEnabled,
		Console:               console,
		Disabled:              !toFile && console == nil,
	}
	if toFile {
		if dir, err := config.Dir(); err == nil && os.MkdirAll(dir, 0o700) == nil {
			logCfg.LogDir = dir
		}
	}
	logging.Init(logCfg)
}

// monitor is everything a command needs to run cycles.
type monitor struct {
	poller      *poller.Poller
	watchRoots  []string
	agentsCount int
}

// buildMonitor wires the scanner, agents, history store and enricher from
// cfg.
func buildMonitor(cfg *config.Config) *monitor {
	poll := cfg.GetPoll()
	st := cfg.GetStatus()
	ag := cfg.GetAgents()

	reader := transcript.NewReader(transcript.TailOptions{
		MaxLines: poll.TailLines,
		MaxBytes: int64(poll.TailMaxMB) << 20,
	}, poll.ReadTimeout)

	agents := []agent.Agent{
		agent.NewClaude(agent.ClaudeOptions{
			ProjectsDir:    ag.ClaudeProjectsDir,
			Reader:         reader,
			ActivityWindow: st.ActivityWindow,
		}),
	}
	if !ag.DisableOpenCode {
		agents = append(agents, agent.NewOpenCode(agent.OpenCodeOptions{
			DataDir:        ag.OpenCodeDataDir,
			ActivityWindow: st.ActivityWindow,
		}))
	}
	registry := agent.NewRegistry(agents...)

	scanner := process.NewScanner(process.NewSystemTable(), registry, process.Options{
		EmbedderSignatures: ag.EmbedderSignatures,
		ServiceManagers:    platform.ServiceManagerNames(platform.Detect()),
	})

	p := poller.New(poller.Deps{
		Scanner:  scanner,
		Registry: registry,
		Store:    state.NewStore(poll.MaxMissedCycles),
		Enricher: project.NewEnricher(project.Options{}),
	}, poller.Options{
		Interval:    poll.Interval,
		Workers:     poll.Workers,
		ReadTimeout: poll.ReadTimeout,
		Params: status.Params{
			ActivityWindow: st.ActivityWindow,
			ResponseWindow: st.ResponseWindow,
			CPUActive:      st.CPUActive,
		},
		SmoothingWindow: st.SmoothingWindow,
		RefreshRate:     rate.Every(poll.MinRefreshInterval),
	})

	return &monitor{
		poller:      p,
		watchRoots:  []string{ag.ClaudeProjectsDir},
		agentsCount: len(agents),
	}
}
