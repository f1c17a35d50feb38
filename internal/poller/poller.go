// Package poller runs the monitoring cycle: scan processes, read their
// transcripts in parallel, classify, reconcile against history and publish
// one SessionsResponse per cycle.
package poller

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/agent-sessions/internal/agent"
	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/process"
	"github.com/asheshgoplani/agent-sessions/internal/session"
	"github.com/asheshgoplani/agent-sessions/internal/state"
	"github.com/asheshgoplani/agent-sessions/internal/status"
)

var pollLog = logging.ForComponent(logging.CompPoll)

var (
	// ErrCycleInProgress is returned when a cycle is requested while another
	// one is still running.
	ErrCycleInProgress = errors.New("poller: cycle in progress")

	// ErrRefreshThrottled is returned when manual refreshes arrive faster
	// than the refresh rate allows.
	ErrRefreshThrottled = errors.New("poller: refresh throttled")
)

// Scanner enumerates agent processes.
type Scanner interface {
	Scan(ctx context.Context) (process.Result, error)
}

// Enricher adds metadata to a session. Only the pass-through fields it
// sets are kept.
type Enricher interface {
	Enrich(ctx context.Context, s *session.Session)
}

// Retainer is implemented by enrichers that cache per project. Retain is
// called after every cycle with the project paths still live.
type Retainer interface {
	Retain(activePaths []string)
}

// Deps are the poller's collaborators.
type Deps struct {
	Scanner  Scanner
	Registry *agent.Registry
	Store    *state.Store
	Enricher Enricher // optional
	Clock    func() time.Time
}

// Options tune the cycle.
type Options struct {
	Interval    time.Duration
	Workers     int
	ReadTimeout time.Duration
	Params      status.Params

	// SmoothingWindow is how long a downgrade must hold before it shows.
	SmoothingWindow time.Duration

	RefreshRate  rate.Limit
	RefreshBurst int
}

const (
	DefaultInterval        = 2 * time.Second
	DefaultWorkers         = 8
	DefaultReadTimeout     = 2 * time.Second
	DefaultSmoothingWindow = 30 * time.Second
	DefaultRefreshInterval = 500 * time.Millisecond
	DefaultRefreshBurst    = 2
)

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Params == (status.Params{}) {
		o.Params = status.DefaultParams()
	}
	if o.SmoothingWindow <= 0 {
		o.SmoothingWindow = DefaultSmoothingWindow
	}
	if o.RefreshRate <= 0 {
		o.RefreshRate = rate.Every(DefaultRefreshInterval)
	}
	if o.RefreshBurst <= 0 {
		o.RefreshBurst = DefaultRefreshBurst
	}
	return o
}

// Poller owns the cycle loop and the latest snapshot.
type Poller struct {
	deps    Deps
	opts    Options
	limiter *rate.Limiter

	running atomic.Bool
	cycle   uint64 // guarded by running

	mu       sync.RWMutex
	snapshot *session.SessionsResponse

	subMu   sync.Mutex
	subs    map[int]chan *session.SessionsResponse
	nextSub int
}

// New returns a poller. A nil Store or Clock gets a default.
func New(deps Deps, opts Options) *Poller {
	opts = opts.withDefaults()
	if deps.Store == nil {
		deps.Store = state.NewStore(0)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Poller{
		deps:     deps,
		opts:     opts,
		limiter:  rate.NewLimiter(opts.RefreshRate, opts.RefreshBurst),
		snapshot: session.Empty(),
		subs:     make(map[int]chan *session.SessionsResponse),
	}
}

// Run polls every Interval until ctx is done. The first cycle runs
// immediately.
func (p *Poller) Run(ctx context.Context) error {
	pollLog.Info("poller_started",
		slog.Duration("interval", p.opts.Interval),
		slog.Int("workers", p.opts.Workers))

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			pollLog.Info("poller_stopped")
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one scheduled cycle. A panic is logged and the loop goes on.
func (p *Poller) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			pollLog.Error("cycle_panic",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	if _, err := p.PollOnce(ctx); err != nil && errors.Is(err, ErrCycleInProgress) {
		logging.Aggregate(logging.CompPoll, "cycle_skipped")
	}
}

// PollOnce runs a cycle now, or returns ErrCycleInProgress if one is
// already running.
func (p *Poller) PollOnce(ctx context.Context) (*session.SessionsResponse, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer p.running.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := p.runCycle(ctx)
	if err != nil {
		return nil, err
	}
	p.publish(resp)
	return resp, nil
}

// Refresh is a manually requested cycle, rate limited. The cycle is
// detached from ctx so a caller going away cannot cut it short.
func (p *Poller) Refresh(ctx context.Context) (*session.SessionsResponse, error) {
	if !p.limiter.Allow() {
		return nil, ErrRefreshThrottled
	}
	return p.PollOnce(context.WithoutCancel(ctx))
}

// Snapshot returns the latest response. It is never nil and must be
// treated as read-only.
func (p *Poller) Snapshot() *session.SessionsResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel that receives each published response. A
// slow subscriber only ever sees the latest one. The returned func
// unsubscribes and closes the channel.
func (p *Poller) Subscribe() (<-chan *session.SessionsResponse, func()) {
	ch := make(chan *session.SessionsResponse, 1)

	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subMu.Unlock()

	return ch, sync.OnceFunc(func() {
		p.subMu.Lock()
		delete(p.subs, id)
		close(ch)
		p.subMu.Unlock()
	})
}

func (p *Poller) publish(resp *session.SessionsResponse) {
	p.mu.Lock()
	p.snapshot = resp
	p.mu.Unlock()

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- resp:
			continue
		default:
		}
		// Replace the unread value.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

// observation is one worker's output. Workers only write their own slot.
type observation struct {
	binding agent.Binding
	obs     agent.Observation
	prior   session.Status
	raw     session.Status
	emit    bool
}

// runCycle builds the next snapshot. If ctx ends before the reads join,
// nothing is reconciled and ctx's error is returned.
func (p *Poller) runCycle(ctx context.Context) (*session.SessionsResponse, error) {
	start := time.Now()
	now := p.deps.Clock()
	cycle := p.cycle + 1

	res, err := p.deps.Scanner.Scan(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		pollLog.Warn("scan_failed", slog.Uint64("cycle", cycle), slog.String("error", err.Error()))
		stale := p.Snapshot().Clone()
		stale.Stale = true
		return stale, nil
	}

	bindings := p.bind(ctx, res.Candidates)

	results := make([]observation, len(bindings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, b := range bindings {
		g.Go(func() error {
			results[i] = p.observe(gctx, b, now)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		pollLog.Debug("cycle_abandoned", slog.Uint64("cycle", cycle), slog.String("error", err.Error()))
		return nil, err
	}
	p.cycle = cycle

	results = resolveCollisions(results)

	sessions := make([]session.Session, 0, len(results))
	paths := make([]string, 0, len(results))
	for _, r := range results {
		if !r.emit {
			continue
		}
		id := r.binding.ID
		p.deps.Store.Touch(id, cycle)
		shown := p.deps.Store.Reconcile(id, r.raw, fingerprint(r), p.opts.SmoothingWindow, now)
		if r.prior != "" && shown != r.prior {
			pollLog.Info("status_transition",
				slog.String("session_id", id),
				slog.String("from", string(r.prior)),
				slog.String("to", string(shown)),
				slog.String("raw", string(r.raw)))
		}

		s := buildSession(r, shown)
		p.enrich(ctx, &s)
		sessions = append(sessions, s)
		paths = append(paths, s.ProjectPath)
	}

	for _, id := range p.deps.Store.PurgeStale(cycle) {
		pollLog.Debug("session_gone", slog.String("session_id", id))
	}
	if r, ok := p.deps.Enricher.(Retainer); ok {
		r.Retain(paths)
	}

	resp := session.NewResponse(sessions, p.deps.Store.Order, cycle, now)
	pollLog.Debug("cycle_complete",
		slog.Uint64("cycle", cycle),
		slog.Int("scanned", res.Scanned),
		slog.Int("sessions", resp.TotalCount),
		slog.Int("waiting", resp.WaitingCount),
		slog.Duration("took", time.Since(start)))
	return resp, nil
}

// bind hands each agent its own candidates.
func (p *Poller) bind(ctx context.Context, candidates []process.Candidate) []agent.Binding {
	byAgent := make(map[session.AgentType][]process.Candidate)
	for _, c := range candidates {
		byAgent[c.Agent] = append(byAgent[c.Agent], c)
	}
	var out []agent.Binding
	for _, a := range p.deps.Registry.Agents() {
		group := byAgent[a.Type()]
		if len(group) == 0 {
			continue
		}
		for _, b := range a.Bind(ctx, group) {
			b.Candidate.Agent = a.Type()
			out = append(out, b)
		}
	}
	return out
}

// observe reads and classifies one session. A failed read falls back to
// liveness-only classification.
func (p *Poller) observe(ctx context.Context, b agent.Binding, now time.Time) (out observation) {
	out = observation{binding: b, prior: p.deps.Store.Prior(b.ID)}
	liveness := agent.Observation{Subagents: b.Candidate.ChildAgents}

	defer func() {
		if r := recover(); r != nil {
			pollLog.Error("worker_panic",
				slog.String("session_id", b.ID),
				slog.String("panic", fmt.Sprint(r)))
			out.obs = liveness
			out.raw, out.emit = p.classify(out, now)
		}
	}()

	a, ok := p.deps.Registry.Get(b.Candidate.Agent)
	if ok {
		rctx, cancel := context.WithTimeout(ctx, p.opts.ReadTimeout)
		obs, err := a.Read(rctx, b)
		cancel()
		if err != nil {
			logging.Aggregate(logging.CompPoll, "session_read_failed",
				slog.String("agent", string(b.Candidate.Agent)),
				slog.String("error", err.Error()))
			obs = liveness
		}
		out.obs = obs
	} else {
		out.obs = liveness
	}
	out.raw, out.emit = p.classify(out, now)
	return out
}

func (p *Poller) classify(o observation, now time.Time) (session.Status, bool) {
	sum := o.obs.Summary
	return status.Classify(status.Input{
		Alive:        true,
		CPU:          o.binding.Candidate.CPU,
		Compacting:   sum.Compacting,
		Last:         sum.Last,
		Parsed:       sum.Parsed,
		LastActivity: sum.LastActivity,
		FileModTime:  o.obs.FileModTime,
		Prior:        o.prior,
		Now:          now,
	}, p.opts.Params)
}

// resolveCollisions keeps one observation per session id: the most
// recently started process, then the higher pid.
func resolveCollisions(results []observation) []observation {
	winner := make(map[string]int, len(results))
	for i, r := range results {
		j, seen := winner[r.binding.ID]
		if !seen {
			winner[r.binding.ID] = i
			continue
		}
		kept, dropped := results[j].binding.Candidate, r.binding.Candidate
		if newer(dropped.Record, kept.Record) {
			kept, dropped = dropped, kept
			winner[r.binding.ID] = i
		}
		pollLog.Warn("identity_collision",
			slog.String("session_id", r.binding.ID),
			slog.Int("kept_pid", int(kept.PID)),
			slog.Int("dropped_pid", int(dropped.PID)))
	}

	out := results[:0]
	for i, r := range results {
		if winner[r.binding.ID] == i {
			out = append(out, r)
		}
	}
	return out
}

func newer(a, b process.Record) bool {
	if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
		return c > 0
	}
	return a.PID > b.PID
}

// fingerprint changes whenever the visible transcript state does.
func fingerprint(o observation) string {
	sum := o.obs.Summary
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|%d|%t|%s|%d",
		sum.Last, sum.LastActivity.UnixNano(), sum.Parsed, sum.Compacting,
		sum.LastMessage, o.obs.Subagents)
	return fmt.Sprintf("%016x", h.Sum64())
}

func buildSession(o observation, st session.Status) session.Session {
	b, sum := o.binding, o.obs.Summary

	last := sum.LastActivity
	if last.IsZero() {
		last = o.obs.FileModTime
	}
	if last.IsZero() {
		last = b.Candidate.StartedAt
	}
	terminal := b.Candidate.Terminal
	if terminal == "" {
		terminal = session.TerminalUnknown
	}

	return session.Session{
		ID:                   b.ID,
		AgentType:            b.Candidate.Agent,
		ProjectName:          session.ProjectNameFromPath(b.ProjectPath),
		ProjectPath:          b.ProjectPath,
		GitBranch:            sum.GitBranch,
		Status:               st,
		LastMessage:          sum.LastMessage,
		LastMessageRole:      sum.LastMessageRole,
		LastActivityAt:       last,
		PID:                  b.Candidate.PID,
		CPUUsage:             b.Candidate.CPU,
		ActiveSubagentCount:  o.obs.Subagents,
		TerminalApp:          terminal,
		ContextWindowPercent: sum.ContextPercent(),
	}
}

// enrich copies only the pass-through fields back from the enricher.
func (p *Poller) enrich(ctx context.Context, s *session.Session) {
	if p.deps.Enricher == nil {
		return
	}
	e := *s
	p.deps.Enricher.Enrich(ctx, &e)
	s.GitHubURL = e.GitHubURL
	s.RepoName = e.RepoName
	s.IsWorktree = e.IsWorktree
	s.CommitsAhead = e.CommitsAhead
	s.CommitsBehind = e.CommitsBehind
	s.Links = e.Links
	s.Extra = e.Extra
}
