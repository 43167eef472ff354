package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopState(e *Engine) (bool, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed(), e.loopGen
}

func TestSchedulerArmsOnlyWithLock(t *testing.T) {
	h := newHarness(t)
	e, _ := h.newEngine(t, ownerID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "cl-001"))
	armed, _ := loopState(e)
	assert.False(t, armed, "expected no loop without a lock record")

	require.NoError(t, e.SetTimer(ctx, 1))
	armed, _ = loopState(e)
	assert.True(t, armed)
}

func TestSchedulerRearmReplacesLoop(t *testing.T) {
	h := newHarness(t)
	e, _ := h.newEngine(t, ownerID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "cl-001"))
	require.NoError(t, e.SetTimer(ctx, 1))
	_, gen1 := loopState(e)
	require.NoError(t, e.SetTimer(ctx, 2))
	armed, gen2 := loopState(e)

	assert.True(t, armed)
	assert.Greater(t, gen2, gen1, "expected a new loop generation")
	assert.False(t, e.tick(gen1), "expected a stale loop to stop without acting")
	assert.True(t, e.tick(gen2))
}

func TestSchedulerTicksAndStopsOnLeave(t *testing.T) {
	h := newHarness(t)
	e, rec := h.newEngine(t, ownerID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "cl-001"))
	require.NoError(t, e.SetTimer(ctx, 1))

	assert.Eventually(t, func() bool {
		return rec.Statuses() >= 5
	}, time.Second, 5*time.Millisecond, "expected periodic status refreshes")

	h.clock.Advance(time.Minute)
	assert.Eventually(t, func() bool {
		return e.LockStatus().State == Enforced
	}, time.Second, 5*time.Millisecond)

	e.Leave(ctx)
	armed, _ := loopState(e)
	assert.False(t, armed, "expected leave to cancel the loop")

	n := rec.Statuses()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, rec.Statuses(), "expected no refreshes after the loop stopped")
}

func TestSchedulerStopsOnLogout(t *testing.T) {
	h := newHarness(t)
	e, _ := h.newEngine(t, ownerID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "cl-001"))
	require.NoError(t, e.SetTimer(ctx, 1))
	e.Logout(ctx)

	armed, _ := loopState(e)
	assert.False(t, armed)
	assert.Empty(t, h.docs.Locks(ctx), "expected logout to release the owner's lock")
}
