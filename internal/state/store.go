// Package state holds per-session status history between poll cycles.
//
// The store is owned by one poller. Writes happen only in the poller's
// serial phase; reads (Prior, Order, Entry) may run concurrently with them.
package state

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/asheshgoplani/agent-sessions/internal/logging"
	"github.com/asheshgoplani/agent-sessions/internal/session"
)

var storeLog = logging.ForComponent(logging.CompStore)

// DefaultMaxMissed is how many cycles an unseen session is remembered.
const DefaultMaxMissed = 3

// Entry is the history kept for one session id.
type Entry struct {
	Committed session.Status

	// Pending is a downgrade that has not yet held for the smoothing window.
	Pending      session.Status
	PendingSince time.Time

	Fingerprint string
	ChangedAt   time.Time
	LastSeen    uint64

	// Seq is the first-seen order, used to keep the response order stable.
	Seq uint64
}

// Store maps session ids to their Entry.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	nextSeq   uint64
	maxMissed uint64
}

// NewStore returns an empty store. maxMissed <= 0 means DefaultMaxMissed.
func NewStore(maxMissed int) *Store {
	if maxMissed <= 0 {
		maxMissed = DefaultMaxMissed
	}
	return &Store{
		entries:   make(map[string]*Entry),
		maxMissed: uint64(maxMissed),
	}
}

func (s *Store) entry(id string) (*Entry, bool) {
	if e, ok := s.entries[id]; ok {
		return e, false
	}
	s.nextSeq++
	e := &Entry{Seq: s.nextSeq}
	s.entries[id] = e
	return e, true
}

// Touch marks id as observed in cycle, creating its entry if needed.
func (s *Store) Touch(id string, cycle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.entry(id)
	e.LastSeen = cycle
}

// Reconcile folds a raw classification into the committed status and
// returns the status to display.
//
// Upgrades and moves that do not leave the active tier commit at once. A
// drop from thinking, processing or compacting to waiting or idle commits
// only after the same raw status has been observed continuously for window.
func (s *Store) Reconcile(id string, raw session.Status, fingerprint string, window time.Duration, now time.Time) session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, created := s.entry(id)
	e.Fingerprint = fingerprint
	if created || e.Committed == "" {
		s.commit(e, raw, now)
		return e.Committed
	}

	if raw == e.Committed {
		e.Pending = ""
		e.PendingSince = time.Time{}
		return e.Committed
	}

	if !(session.IsActive(e.Committed) && !session.IsActive(raw)) {
		s.commit(e, raw, now)
		return e.Committed
	}

	if e.Pending != raw {
		e.Pending = raw
		e.PendingSince = now
	}
	if now.Sub(e.PendingSince) >= window {
		s.commit(e, raw, now)
	}
	return e.Committed
}

func (s *Store) commit(e *Entry, st session.Status, now time.Time) {
	e.Committed = st
	e.ChangedAt = now
	e.Pending = ""
	e.PendingSince = time.Time{}
}

// Prior returns the committed status for id, or "" if unknown.
func (s *Store) Prior(id string) session.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.Committed
	}
	return ""
}

// PurgeStale drops entries not seen for more than the configured number of
// cycles and returns their ids.
func (s *Store) PurgeStale(cycle uint64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []string
	for id, e := range s.entries {
		if cycle > e.LastSeen && cycle-e.LastSeen > s.maxMissed {
			delete(s.entries, id)
			purged = append(purged, id)
		}
	}
	if len(purged) > 0 {
		storeLog.Debug("entries_purged",
			slog.Int("count", len(purged)),
			slog.Int("remaining", len(s.entries)),
			slog.Uint64("cycle", cycle))
	}
	return purged
}

// Order returns the first-seen sequence for id. Unknown ids sort last.
func (s *Store) Order(id string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.Seq
	}
	return math.MaxUint64
}

// Entry returns a copy of the entry for id.
func (s *Store) Entry(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of tracked ids.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
