package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/session"
)

// sampleGap separates the two list cycles so CPU usage has a delta.
var sampleGap = 500 * time.Millisecond

// Column widths for table output
const (
	tableColStatus  = 11
	tableColProject = 22
	tableColBranch  = 18
	tableColAgent   = 8
	tableColActive  = 14
	tableColMessage = 60
)

type listOptions struct {
	format  string
	filter  string
	noColor bool
	verbose bool
}

func parseListArgs(args []string) (listOptions, error) {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	format := fs.String("format", "table", "Output format: table, json or yaml")
	jsonOutput := fs.Bool("json", false, "Shorthand for --format json")
	filter := fs.String("filter", "", "Fuzzy filter on project, branch and last message")
	noColor := fs.Bool("no-color", false, "Disable colored output")
	verbose := fs.Bool("verbose", false, "Mirror logs to stderr")

	fs.Usage = func() {
		fmt.Println("Usage: agent-sessions list [options] [filter]")
		fmt.Println()
		fmt.Println("Sample running agent sessions and print them.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  agent-sessions list")
		fmt.Println("  agent-sessions list --json")
		fmt.Println("  agent-sessions list --format yaml api")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return listOptions{}, err
	}

	opts := listOptions{
		format:  strings.ToLower(*format),
		filter:  *filter,
		noColor: *noColor,
		verbose: *verbose,
	}
	if *jsonOutput {
		opts.format = "json"
	}
	if fs.NArg() > 0 {
		if opts.filter != "" {
			return listOptions{}, fmt.Errorf("filter given twice: %q and %q", opts.filter, strings.Join(fs.Args(), " "))
		}
		opts.filter = strings.Join(fs.Args(), " ")
	}
	switch opts.format {
	case "table", "json", "yaml":
	default:
		return listOptions{}, fmt.Errorf("unknown format %q (want table, json or yaml)", opts.format)
	}
	return opts, nil
}

func handleList(args []string) error {
	opts, err := parseListArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return err
	}

	cfg := loadConfig()
	var console io.Writer
	if opts.verbose {
		console = os.Stderr
	}
	initLogging(cfg, console, false)
	defer logging.Shutdown()

	mon := buildMonitor(cfg)
	ctx := context.Background()

	// The first cycle primes CPU samples; the second has real deltas.
	if _, err := mon.poller.PollOnce(ctx); err != nil {
		return err
	}
	time.Sleep(sampleGap)
	resp, err := mon.poller.PollOnce(ctx)
	if err != nil {
		return err
	}

	resp = filterResponse(resp, opts.filter)

	switch opts.format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(resp)
	}

	color := !opts.noColor && os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))
	width := 0
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		width = w
	}
	renderTable(os.Stdout, resp, tableOptions{Color: color, Width: width, Now: time.Now()})
	return nil
}

// sessionSource adapts sessions for fuzzy matching.
type sessionSource []session.Session

func (s sessionSource) String(i int) string {
	return strings.Join([]string{s[i].ProjectName, s[i].GitBranch, s[i].LastMessage}, " ")
}

func (s sessionSource) Len() int { return len(s) }

// filterResponse keeps the sessions fuzzily matching query, in their
// original order. Counts are recomputed.
func filterResponse(resp *session.SessionsResponse, query string) *session.SessionsResponse {
	query = strings.TrimSpace(query)
	if query == "" || resp == nil {
		return resp
	}

	matches := fuzzy.FindFrom(query, sessionSource(resp.Sessions))
	keep := make([]int, 0, len(matches))
	for _, m := range matches {
		keep = append(keep, m.Index)
	}
	sort.Ints(keep)

	out := *resp
	out.Sessions = make([]session.Session, 0, len(keep))
	out.WaitingCount = 0
	for _, i := range keep {
		s := resp.Sessions[i]
		out.Sessions = append(out.Sessions, s)
		if s.Status == session.StatusWaiting {
			out.WaitingCount++
		}
	}
	out.TotalCount = len(out.Sessions)
	return &out
}

type tableOptions struct {
	Color bool
	// Width is the terminal width; zero means unknown and the message
	// column keeps its default width.
	Width int
	Now   time.Time
}

var statusColors = map[session.Status]lipgloss.Color{
	session.StatusThinking:   lipgloss.Color("#bb9af7"),
	session.StatusProcessing: lipgloss.Color("#7aa2f7"),
	session.StatusCompacting: lipgloss.Color("#7dcfff"),
	session.StatusWaiting:    lipgloss.Color("#e0af68"),
	session.StatusIdle:       lipgloss.Color("#787fa0"),
}

func cell(s string, width int) string {
	return runewidth.FillRight(session.TruncateWidth(s, width), width)
}

func renderTable(w io.Writer, resp *session.SessionsResponse, opts tableOptions) {
	if resp == nil || len(resp.Sessions) == 0 {
		fmt.Fprintln(w, "No agent sessions running.")
		return
	}

	msgWidth := tableColMessage
	fixed := tableColStatus + tableColProject + tableColBranch + tableColAgent + tableColActive + 5
	if opts.Width > fixed+10 {
		msgWidth = opts.Width - fixed
	}

	header := strings.Join([]string{
		cell("STATUS", tableColStatus),
		cell("PROJECT", tableColProject),
		cell("BRANCH", tableColBranch),
		cell("AGENT", tableColAgent),
		cell("ACTIVE", tableColActive),
		"MESSAGE",
	}, " ")
	if opts.Color {
		header = lipgloss.NewStyle().Bold(true).Render(header)
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", fixed+min(msgWidth, tableColMessage)))

	for _, s := range resp.Sessions {
		st := cell(string(s.Status), tableColStatus)
		if opts.Color {
			st = lipgloss.NewStyle().Foreground(statusColors[s.Status]).Render(st)
		}

		project := s.ProjectName
		if s.ActiveSubagentCount > 0 {
			project = fmt.Sprintf("%s +%d", project, s.ActiveSubagentCount)
		}

		active := "-"
		if !s.LastActivityAt.IsZero() {
			active = humanize.RelTime(s.LastActivityAt, opts.Now, "ago", "from now")
		}

		fmt.Fprintln(w, strings.Join([]string{
			st,
			cell(project, tableColProject),
			cell(s.GitBranch, tableColBranch),
			cell(string(s.AgentType), tableColAgent),
			cell(active, tableColActive),
			session.TruncateWidth(s.LastMessage, msgWidth),
		}, " "))
	}

	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d %s, %d waiting", resp.TotalCount, plural(resp.TotalCount, "session", "sessions"), resp.WaitingCount)
	if resp.Stale {
		summary += " (stale: process scan failed)"
	}
	fmt.Fprintln(w, summary)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
