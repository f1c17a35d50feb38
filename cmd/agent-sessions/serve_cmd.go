package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/agent-sessions/internal/config"
	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/platform"
	"github.com/asheshgoplani/agent-sessions/internal/poller"
	"github.com/asheshgoplani/agent-sessions/internal/watcher"
	"github.com/asheshgoplani/agent-sessions/internal/web"
)

var cliLog = logging.ForComponent(logging.CompCLI)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	listen  string
	token   string
	noWatch bool
	verbose bool
}

func parseServeArgs(cfg *config.Config, args []string) (serveOptions, error) {
	ws := cfg.GetWeb()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", ws.Listen, "Listen address for the HTTP API")
	token := fs.String("token", ws.Token, "Bearer token required on API requests")
	noWatch := fs.Bool("no-watch", false, "Disable transcript file watching (poll only)")
	verbose := fs.Bool("verbose", false, "Mirror logs to stderr")

	fs.Usage = func() {
		fmt.Println("Usage: agent-sessions serve [options]")
		fmt.Println()
		fmt.Println("Poll agent sessions continuously and serve them over HTTP, SSE and WebSocket.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  agent-sessions serve")
		fmt.Println("  agent-sessions serve --listen 127.0.0.1:9000 --token s3cret")
		fmt.Println("  agent-sessions serve --no-watch --verbose")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return serveOptions{}, err
	}
	if fs.NArg() > 0 {
		return serveOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return serveOptions{
		listen:  *listen,
		token:   *token,
		noWatch: *noWatch,
		verbose: *verbose,
	}, nil
}

func handleServe(args []string) error {
	cfg := loadConfig()
	opts, err := parseServeArgs(cfg, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return fmt.Errorf("flag parsing: %w", err)
	}

	var console io.Writer
	if opts.verbose {
		console = os.Stderr
	}
	initLogging(cfg, console, true)
	defer logging.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go dumpOnSignal(ctx)

	mon := buildMonitor(cfg)
	cliLog.Info("serve_started",
		slog.String("version", Version),
		slog.String("platform", platform.Detect().String()),
		slog.Int("agents", mon.agentsCount),
		slog.Bool("watch", !opts.noWatch))

	server := web.NewServer(web.Config{
		ListenAddr: opts.listen,
		Token:      opts.token,
		Sessions:   mon.poller,
	})
	fmt.Printf("Serving sessions on http://%s\n", server.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.poller.Run(gctx) })

	if !opts.noWatch {
		w, err := watcher.New(mon.watchRoots, func() { refreshFromWatch(gctx, mon.poller) })
		if err != nil {
			cliLog.Warn("watcher_unavailable", slog.String("error", err.Error()))
		} else {
			defer w.Close()
			g.Go(func() error {
				w.Start(gctx)
				return nil
			})
		}
	}

	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	cliLog.Info("serve_stopped")
	return err
}

// refreshFromWatch runs an early cycle after a transcript write. Throttled
// and overlapping refreshes are expected under bursts and are dropped.
func refreshFromWatch(ctx context.Context, p *poller.Poller) {
	if _, err := p.Refresh(ctx); err != nil {
		if errors.Is(err, poller.ErrRefreshThrottled) || errors.Is(err, poller.ErrCycleInProgress) {
			logging.Aggregate(logging.CompWatch, "refresh_dropped")
			return
		}
		if ctx.Err() == nil {
			cliLog.Warn("watch_refresh_failed", slog.String("error", err.Error()))
		}
	}
}

// dumpOnSignal writes the log ring buffer to disk on SIGUSR1 for
// post-mortem debugging.
func dumpOnSignal(ctx context.Context) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			dumpPath := filepath.Join(dir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				cliLog.Info("crash_dump_written", slog.String("path", dumpPath))
			}
		}
	}
}
