package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/agent-sessions/internal/session"
)

const window = 30 * time.Second

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestReconcileNewIDCommits(t *testing.T) {
	s := NewStore(0)
	assert.Equal(t, session.StatusIdle, s.Reconcile("a", session.StatusIdle, "f1", window, t0))

	e, ok := s.Entry("a")
	require.True(t, ok)
	assert.Equal(t, "f1", e.Fingerprint)
	assert.Equal(t, t0, e.ChangedAt)
}

func TestReconcileUpgradeIsImmediate(t *testing.T) {
	s := NewStore(0)
	s.Reconcile("a", session.StatusWaiting, "", window, t0)
	assert.Equal(t, session.StatusProcessing, s.Reconcile("a", session.StatusProcessing, "", window, t0.Add(time.Second)))
}

func TestReconcileActiveToActiveIsImmediate(t *testing.T) {
	s := NewStore(0)
	s.Reconcile("a", session.StatusThinking, "", window, t0)
	assert.Equal(t, session.StatusProcessing, s.Reconcile("a", session.StatusProcessing, "", window, t0.Add(time.Second)))
}

func TestReconcileHoldsDowngradeForWindow(t *testing.T) {
	s := NewStore(0)
	s.Reconcile("a", session.StatusProcessing, "", window, t0)

	assert.Equal(t, session.StatusProcessing, s.Reconcile("a", session.StatusWaiting, "", window, t0.Add(2*time.Second)))
	assert.Equal(t, session.StatusProcessing, s.Reconcile("a", session.StatusWaiting, "", window, t0.Add(20*time.Second)))

	e, _ := s.Entry("a")
	assert.Equal(t, session.StatusWaiting, e.Pending)
	assert.Equal(t, t0.Add(2*time.Second), e.PendingSince)

	assert.Equal(t, session.StatusWaiting, s.Reconcile("a", session.StatusWaiting, "", window, t0.Add(32*time.Second)))
	e, _ = s.Entry("a")
	assert.Empty(t, e.Pending)
}

func TestReconcileFlickerSuppressed(t *testing.T) {
	s := NewStore(0)
	s.Reconcile("a", session.StatusProcessing, "", window, t0)

	// One stale sample, then back to processing: no visible change.
	assert.Equal(t, session.StatusProcessing, s.Reconcile("a", session.StatusWaiting, "", window, t0.Add(2*time.Second)))
	assert.Equal(t, session.StatusProcessing, s.Reconcile("a", session.StatusProcessing, "", window, t0.Add(4*time.Second)))

	e, _ := s.Entry("a")
	assert.Empty(t, e.Pending, "matching raw clears pending")

	// The pending clock restarts from scratch.
	s.Reconcile("a", session.StatusWaiting, "", window, t0.Add(6*time.Second))
	assert.Equal(t, session.StatusProcessing, s.Reconcile("a", session.StatusWaiting, "", window, t0.Add(35*time.Second)))
	assert.Equal(t, session.StatusWaiting, s.Reconcile("a", session.StatusWaiting, "", window, t0.Add(36*time.Second)))
}

func TestReconcilePendingTargetChangeRestartsClock(t *testing.T) {
	s := NewStore(0)
	s.Reconcile("a", session.StatusThinking, "", window, t0)
	s.Reconcile("a", session.StatusWaiting, "", window, t0)
	assert.Equal(t, session.StatusThinking, s.Reconcile("a", session.StatusIdle, "", window, t0.Add(31*time.Second)))
	assert.Equal(t, session.StatusIdle, s.Reconcile("a", session.StatusIdle, "", window, t0.Add(61*time.Second)))
}

func TestReconcileZeroWindowCommits(t *testing.T) {
	s := NewStore(0)
	s.Reconcile("a", session.StatusProcessing, "", 0, t0)
	assert.Equal(t, session.StatusIdle, s.Reconcile("a", session.StatusIdle, "", 0, t0))
}

func TestReconcileWaitingToIdleIsImmediate(t *testing.T) {
	s := NewStore(0)
	s.Reconcile("a", session.StatusWaiting, "", window, t0)
	assert.Equal(t, session.StatusIdle, s.Reconcile("a", session.StatusIdle, "", window, t0.Add(time.Second)))
}

func TestPurgeStaleBoundsMemory(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("s%d", i)
		s.Touch(id, uint64(i))
		s.Reconcile(id, session.StatusIdle, "", window, t0)
		s.PurgeStale(uint64(i))
	}
	assert.LessOrEqual(t, s.Len(), 4)

	_, ok := s.Entry("s0")
	assert.False(t, ok)
}

func TestPurgeStaleKeepsWithinGrace(t *testing.T) {
	s := NewStore(3)
	s.Touch("a", 10)

	assert.Empty(t, s.PurgeStale(13))
	assert.Equal(t, []string{"a"}, s.PurgeStale(14))
	assert.Zero(t, s.Len())
}

func TestOrderIsFirstSeen(t *testing.T) {
	s := NewStore(0)
	s.Touch("b", 1)
	s.Touch("a", 1)
	s.Touch("b", 2)

	assert.Less(t, s.Order("b"), s.Order("a"))
	assert.Greater(t, s.Order("missing"), s.Order("a"))
}

func TestPriorUnknownIsEmpty(t *testing.T) {
	s := NewStore(0)
	assert.Empty(t, s.Prior("x"))
	s.Reconcile("x", session.StatusWaiting, "", window, t0)
	assert.Equal(t, session.StatusWaiting, s.Prior("x"))
}
