package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	gops "github.com/shirou/gopsutil/v4/process"
)

type sampleKey struct {
	pid     int32
	started int64
}

type cpuSample struct {
	total float64
	at    time.Time
}

// SystemTable reads the host process table.
//
// CPU is the share of one core consumed since the previous Inspect of the
// same process. The first observation of a process reports zero.
type SystemTable struct {
	mu   sync.Mutex
	prev map[sampleKey]cpuSample
	now  func() time.Time
}

// NewSystemTable returns a table backed by the OS.
func NewSystemTable() *SystemTable {
	return &SystemTable{
		prev: make(map[sampleKey]cpuSample),
		now:  time.Now,
	}
}

// List enumerates every process. Processes that exit mid-listing are kept
// with whatever fields could be read.
func (t *SystemTable) List(ctx context.Context) ([]Record, error) {
	procs, err := gops.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process: list: %w", err)
	}

	records := make([]Record, 0, len(procs))
	live := make(map[sampleKey]bool, len(procs))
	for _, p := range procs {
		rec := Record{PID: p.Pid}
		rec.PPID, _ = p.PpidWithContext(ctx)
		rec.Name, _ = p.NameWithContext(ctx)
		rec.Args, _ = p.CmdlineSliceWithContext(ctx)
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			rec.StartedAt = time.UnixMilli(ms)
			live[sampleKey{p.Pid, ms}] = true
		}
		records = append(records, rec)
	}

	t.mu.Lock()
	for key := range t.prev {
		if !live[key] {
			delete(t.prev, key)
		}
	}
	t.mu.Unlock()

	return records, nil
}

// Inspect reads the working directory and CPU usage of rec.
func (t *SystemTable) Inspect(ctx context.Context, rec *Record) error {
	p, err := gops.NewProcessWithContext(ctx, rec.PID)
	if err != nil {
		return fmt.Errorf("process: inspect %d: %w", rec.PID, err)
	}
	if cwd, err := p.CwdWithContext(ctx); err == nil {
		rec.Cwd = cwd
	}
	times, err := p.TimesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("process: cpu times %d: %w", rec.PID, err)
	}
	key := sampleKey{pid: rec.PID, started: rec.StartedAt.UnixMilli()}
	rec.CPU = t.cpuPercent(key, times.User+times.System, t.now())
	return nil
}

func (t *SystemTable) cpuPercent(key sampleKey, total float64, now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.prev[key]
	t.prev[key] = cpuSample{total: total, at: now}
	if !ok {
		return 0
	}
	wall := now.Sub(prev.at).Seconds()
	if wall <= 0 || total < prev.total {
		return 0
	}
	return (total - prev.total) / wall * 100
}
