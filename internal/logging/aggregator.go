package logging

import (
	"log/slog"
	"sync"
	"time"
)

type eventKey struct {
	component string
	event     string
}

type eventTally struct {
	count int64
	last  []slog.Attr
}

// Aggregator counts repeated events and logs one "event_summary" record per
// event type each interval. Per-session read failures during polling go
// through here so a broken transcript does not emit a record every 2s.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	tallies map[eventKey]*eventTally

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAggregator returns an aggregator flushing every intervalSecs seconds.
// A nil logger drops everything it records.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		tallies:  make(map[eventKey]*eventTally),
		stop:     make(chan struct{}),
	}
}

// Start runs the flush loop in the background.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Flush()
			case <-a.stop:
				return
			}
		}
	}()
}

// Stop ends the flush loop and writes whatever is pending. Safe to call
// more than once.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.wg.Wait()
	a.Flush()
}

// Record counts one occurrence. The attrs of the latest call are kept.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := eventKey{component: component, event: event}
	t, ok := a.tallies[key]
	if !ok {
		t = &eventTally{}
		a.tallies[key] = t
	}
	t.count++
	if len(fields) > 0 {
		t.last = fields
	}
}

// Pending returns the current count for an event, for tests and /debug.
func (a *Aggregator) Pending(component, event string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tallies[eventKey{component: component, event: event}]; ok {
		return t.count
	}
	return 0
}

// Flush logs and resets all tallies.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if len(a.tallies) == 0 {
		a.mu.Unlock()
		return
	}
	tallies := a.tallies
	a.tallies = make(map[eventKey]*eventTally)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}
	for key, t := range tallies {
		args := []any{
			slog.String("component", key.component),
			slog.String("event", key.event),
			slog.Int64("count", t.count),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		for _, f := range t.last {
			args = append(args, f)
		}
		a.logger.Info("event_summary", args...)
	}
}
