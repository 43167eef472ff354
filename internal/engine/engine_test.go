package engine

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-attendance/internal/catalog"
	"github.com/npezzotti/go-attendance/internal/identity"
	"github.com/npezzotti/go-attendance/internal/store"
	"github.com/npezzotti/go-attendance/internal/testutil"
	"github.com/npezzotti/go-attendance/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerID  = "11-1111-111111"
	secondID = "12-0000-000002"
	thirdID  = "12-0000-000003"
	ghostID  = "12-0000-000099"
)

type recorder struct {
	mu       sync.Mutex
	msgs     []string
	statuses []LockStatus
}

func (r *recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) LockStatus(s LockStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.msgs)
}

func (r *recorder) Statuses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
	r.statuses = nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	docs    *store.Documents
	dir     *identity.Directory
	catalog *catalog.Catalog
	clock   *fakeClock
}

func newHarness(t *testing.T) *harness {
	docs := store.NewDocuments(store.NewMemoryBackend(), testutil.TestLogger(t))
	dir := identity.NewDirectory(docs)
	ctx := context.Background()

	require.NoError(t, dir.Upsert(ctx, types.Person{ID: ownerID, Name: "Zesty Kein Mondia", Course: "BSIT"}))
	require.NoError(t, dir.Upsert(ctx, types.Person{ID: secondID, Name: "Ann Cruz", Course: "BSIT"}))
	require.NoError(t, dir.Upsert(ctx, types.Person{ID: thirdID, Name: "Ben Diaz", Course: "BSCS"}))

	return &harness{
		docs:    docs,
		dir:     dir,
		catalog: catalog.Default(),
		clock:   &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
}

// newEngine returns an engine that is not watching for changes.
func (h *harness) newEngine(t *testing.T, id string) (*Engine, *recorder) {
	rec := &recorder{}
	e, err := New(h.docs, h.catalog, h.dir, identity.NewAllowList([]string{ownerID}), rec,
		testutil.TestLogger(t), WithClock(h.clock.Now), WithTickInterval(5*time.Millisecond))
	require.NoError(t, err, "expected no error creating engine")

	_, err = e.Login(context.Background(), id)
	require.NoError(t, err, "expected no error logging in")
	t.Cleanup(func() { e.Close(context.Background()) })

	rec.Reset()
	return e, rec
}

// startedEngine returns an engine that reconciles changes from others.
func (h *harness) startedEngine(t *testing.T, id string) (*Engine, *recorder) {
	e, rec := h.newEngine(t, id)
	require.NoError(t, e.Start(context.Background()))
	return e, rec
}

func hasLock(e *Engine, roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.locks[roomID]
	return ok
}

func roomsOf(l types.Ledger, id string) []string {
	var rooms []string
	for room, ids := range l {
		if slices.Contains(ids, id) {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	e, err := New(h.docs, h.catalog, h.dir, identity.DefaultAllowList(), nil, testutil.TestLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.Login(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.Login(ctx, ghostID)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := e.Login(ctx, " 11-1111-111111 ")
	require.NoError(t, err)
	assert.Equal(t, "Zesty Kein Mondia", p.Name)
	assert.Equal(t, Session{ID: ownerID, Name: "Zesty Kein Mondia"}, e.Session())
	assert.NotEmpty(t, e.Origin())
}

func TestLoginAsAnotherIdentityLeavesRoom(t *testing.T) {
	h := newHarness(t)
	e, _ := h.newEngine(t, secondID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "cl-001"))
	_, err := e.Login(ctx, thirdID)
	require.NoError(t, err)

	assert.Empty(t, h.docs.Ledger(ctx)["cl-001"], "expected previous identity to leave on relogin")
	assert.Equal(t, Session{ID: thirdID, Name: "Ben Diaz"}, e.Session())
}

func TestJoinErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("not authenticated", func(t *testing.T) {
		e, err := New(h.docs, h.catalog, h.dir, identity.DefaultAllowList(), nil, testutil.TestLogger(t))
		require.NoError(t, err)
		assert.ErrorIs(t, e.Join(ctx, "cl-001"), ErrNotAuthenticated)
	})

	t.Run("unknown room", func(t *testing.T) {
		e, _ := h.newEngine(t, secondID)
		assert.ErrorIs(t, e.Join(ctx, "zz-999"), ErrNotFound)
		assert.Empty(t, e.Session().RoomID)
	})

	t.Run("course restricted room", func(t *testing.T) {
		h.catalog = catalog.New([]types.Room{{ID: "lab", Title: "IT Lab", AllowedCourse: "BSIT"}})
		defer func() { h.catalog = catalog.Default() }()

		e, _ := h.newEngine(t, thirdID)
		assert.ErrorIs(t, e.Join(ctx, "lab"), ErrForbidden)

		e2, _ := h.newEngine(t, secondID)
		assert.NoError(t, e2.Join(ctx, "lab"))
	})
}

func TestSwitchAtomicity(t *testing.T) {
	h := newHarness(t)
	e, rec := h.newEngine(t, secondID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "ml-301"))
	rec.Reset()
	require.NoError(t, e.Join(ctx, "cl-001"))

	ledger := h.docs.Ledger(ctx)
	assert.Equal(t, []string{"cl-001"}, roomsOf(ledger, secondID))
	assert.Equal(t, []string{"Ann Cruz left ML 301", "Ann Cruz joined CL 001"}, rec.Messages(),
		"expected exactly one left and one joined notification")
	assert.Equal(t, "cl-001", e.Session().RoomID)
}

func TestIdempotentJoin(t *testing.T) {
	h := newHarness(t)
	e, rec := h.newEngine(t, secondID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "cl-001"))
	require.NoError(t, e.Join(ctx, "cl-001"))

	assert.Equal(t, []string{secondID}, h.docs.Ledger(ctx)["cl-001"], "expected no duplicate entry")
	assert.Equal(t, []string{"Ann Cruz joined CL 001"}, rec.Messages(), "expected a single joined notification")
}

func TestRejoinAnnouncesUnseenWrites(t *testing.T) {
	h := newHarness(t)
	e, rec := h.newEngine(t, secondID)
	other, _ := h.newEngine(t, ownerID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "cl-001"))
	require.NoError(t, other.Join(ctx, "cl-001"))
	rec.Reset()

	require.NoError(t, e.Join(ctx, "cl-001"))
	assert.Equal(t, []string{"Zesty Kein Mondia joined the room."}, rec.Messages(),
		"expected the re-join read to announce writes not yet reconciled")

	rec.Reset()
	e.HandleChange(ctx, ledgerChange(t, h.docs.Ledger(ctx)))
	assert.Empty(t, rec.Messages(), "expected the later change event not to announce it twice")
}

func TestUniqueness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// a stale entry left behind by an earlier session
	h.docs.SaveLedger(ctx, types.Ledger{"el-409": {secondID}})

	e, _ := h.newEngine(t, secondID)
	for _, room := range []string{"ml-301", "cl-001", "ab-302", "cl-001"} {
		require.NoError(t, e.Join(ctx, room))
		assert.Len(t, roomsOf(h.docs.Ledger(ctx), secondID), 1, "expected id in exactly one room after joining %s", room)
	}
}

func TestLeave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("no room is a no-op", func(t *testing.T) {
		e, rec := h.newEngine(t, secondID)
		e.Leave(ctx)
		assert.Empty(t, rec.Messages())
	})

	t.Run("removes from ledger", func(t *testing.T) {
		e, rec := h.newEngine(t, secondID)
		require.NoError(t, e.Join(ctx, "cl-003"))
		rec.Reset()

		e.Leave(ctx)
		assert.NotContains(t, h.docs.Ledger(ctx)["cl-003"], secondID)
		assert.Equal(t, []string{"Ann Cruz left CL 003"}, rec.Messages())
		assert.Empty(t, e.Session().RoomID)
	})

	t.Run("non-owner keeps lock", func(t *testing.T) {
		owner, _ := h.newEngine(t, ownerID)
		other, _ := h.newEngine(t, secondID)
		require.NoError(t, owner.Join(ctx, "cl-005"))
		require.NoError(t, owner.SetTimer(ctx, 5))
		require.NoError(t, other.Join(ctx, "cl-005"))

		other.Leave(ctx)
		assert.Contains(t, h.docs.Locks(ctx), "cl-005", "expected lock to survive a non-owner leave")

		owner.Leave(ctx)
		assert.NotContains(t, h.docs.Locks(ctx), "cl-005")
	})
}

func TestSetTimerValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("not authenticated", func(t *testing.T) {
		e, err := New(h.docs, h.catalog, h.dir, identity.DefaultAllowList(), nil, testutil.TestLogger(t))
		require.NoError(t, err)
		assert.ErrorIs(t, e.SetTimer(ctx, 5), ErrNotAuthenticated)
	})

	t.Run("not privileged", func(t *testing.T) {
		e, _ := h.newEngine(t, secondID)
		require.NoError(t, e.Join(ctx, "cl-001"))
		assert.ErrorIs(t, e.SetTimer(ctx, 5), ErrForbidden)
	})

	t.Run("not in a room", func(t *testing.T) {
		e, _ := h.newEngine(t, ownerID)
		assert.ErrorIs(t, e.SetTimer(ctx, 5), ErrInvalidArgument)
	})

	t.Run("out of range", func(t *testing.T) {
		e, _ := h.newEngine(t, ownerID)
		require.NoError(t, e.Join(ctx, "cl-001"))
		for _, m := range []int{-1, 0, 31, 120} {
			assert.ErrorIs(t, e.SetTimer(ctx, m), ErrInvalidArgument, "minutes %d", m)
		}
		assert.Empty(t, h.docs.Locks(ctx), "expected no lock after rejected timers")
		e.Leave(ctx)
	})
}

func TestSetTimer(t *testing.T) {
	h := newHarness(t)
	e, rec := h.newEngine(t, ownerID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "cl-001"))
	rec.Reset()
	require.NoError(t, e.SetTimer(ctx, 2))

	locks := h.docs.Locks(ctx)
	require.Contains(t, locks, "cl-001")
	assert.Equal(t, ownerID, locks["cl-001"].Owner)
	assert.Equal(t, h.clock.Now().Add(2*time.Minute).UnixMilli(), locks["cl-001"].LockAt)
	assert.Equal(t, []string{"Room will lock in 2 minute(s). Owner: Zesty Kein Mondia"}, rec.Messages())

	st := e.LockStatus()
	assert.Equal(t, Pending, st.State)
	assert.True(t, st.Owner)
	assert.Equal(t, "Room will lock in 2m 0s (owner: REDACTED)", st.Text)
}

func TestLastSetterWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.dir.Upsert(ctx, types.Person{ID: "22-2222-222222", Name: "Fritz"}))

	a, _ := h.newEngine(t, ownerID)
	b, err := New(h.docs, h.catalog, h.dir, identity.DefaultAllowList(), nil, testutil.TestLogger(t), WithClock(h.clock.Now))
	require.NoError(t, err)
	_, err = b.Login(ctx, "22-2222-222222")
	require.NoError(t, err)
	defer b.Close(ctx)

	require.NoError(t, a.Join(ctx, "ab-303"))
	require.NoError(t, a.SetTimer(ctx, 10))
	require.NoError(t, b.Join(ctx, "ab-303"))
	require.NoError(t, b.SetTimer(ctx, 3))

	assert.Equal(t, "22-2222-222222", h.docs.Locks(ctx)["ab-303"].Owner)
}

func TestLockOverride(t *testing.T) {
	h := newHarness(t)
	owner, _ := h.newEngine(t, ownerID)
	ctx := context.Background()

	require.NoError(t, owner.Join(ctx, "el-409"))
	require.NoError(t, owner.SetTimer(ctx, 1))
	require.NoError(t, owner.Join(ctx, "ml-301"), "expected owner to be able to step out")
	h.clock.Advance(2 * time.Minute)

	// stepping out through a switch removed the lock
	assert.Empty(t, h.docs.Locks(ctx))

	require.NoError(t, owner.Join(ctx, "el-409"))
	require.NoError(t, owner.SetTimer(ctx, 1))
	h.clock.Advance(2 * time.Minute)

	assert.Equal(t, Enforced, owner.LockStatus().State)
	assert.NoError(t, owner.Join(ctx, "el-409"), "expected owner to re-join an enforced room")

	other, _ := h.newEngine(t, secondID)
	assert.ErrorIs(t, other.Join(ctx, "el-409"), ErrRoomLocked)
	assert.Empty(t, other.Session().RoomID, "expected a denied join to have no side effect")
	assert.NotContains(t, h.docs.Ledger(ctx)["el-409"], secondID)
}

func TestEndToEndLockScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	owner, _ := h.startedEngine(t, ownerID)
	second, secondRec := h.startedEngine(t, secondID)
	third, _ := h.startedEngine(t, thirdID)

	require.NoError(t, owner.Join(ctx, "cl-001"))
	require.NoError(t, owner.SetTimer(ctx, 1))
	assert.Eventually(t, func() bool {
		return hasLock(second, "cl-001") && hasLock(third, "cl-001")
	}, time.Second, 5*time.Millisecond, "expected other sessions to observe the lock")

	h.clock.Advance(30 * time.Second)
	require.NoError(t, second.Join(ctx, "cl-001"), "expected join to succeed while pending")
	assert.Equal(t, Pending, second.LockStatus().State)

	h.clock.Advance(31 * time.Second)
	assert.ErrorIs(t, third.Join(ctx, "cl-001"), ErrRoomLocked, "expected join to be denied once enforced")
	assert.Equal(t, Enforced, second.LockStatus().State)

	owner.Leave(ctx)
	assert.Empty(t, h.docs.Locks(ctx), "expected the owner's lock to be removed")

	assert.Eventually(t, func() bool {
		return !hasLock(third, "cl-001")
	}, time.Second, 5*time.Millisecond, "expected lock removal to propagate")
	require.NoError(t, third.Join(ctx, "cl-001"), "expected join to succeed after the owner left")

	assert.Eventually(t, func() bool {
		return slices.Contains(secondRec.Messages(), "Zesty Kein Mondia left the room.")
	}, time.Second, 5*time.Millisecond, "expected the other occupant to observe the owner leaving")

	ledger := h.docs.Ledger(ctx)
	assert.Equal(t, []string{secondID, thirdID}, ledger["cl-001"])
}

func TestCloseEndsSession(t *testing.T) {
	h := newHarness(t)
	e, rec := h.startedEngine(t, ownerID)
	ctx := context.Background()

	require.NoError(t, e.Join(ctx, "GYM"))
	require.NoError(t, e.SetTimer(ctx, 3))
	rec.Reset()

	e.Close(ctx)
	e.Close(ctx)

	assert.Empty(t, h.docs.Ledger(ctx)["GYM"])
	assert.Empty(t, h.docs.Locks(ctx))
	assert.Equal(t, []string{"Zesty Kein Mondia left GYM/P-VILLA", "Room lock removed as owner left."}, rec.Messages(),
		"expected session end cleanup to run once")
	assert.Equal(t, Session{}, e.Session())
	assert.ErrorIs(t, e.Join(ctx, "GYM"), ErrNotAuthenticated)
}

func TestOccupants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.docs.SaveLedger(ctx, types.Ledger{"cl-001": {thirdID, ghostID, secondID}})

	e, _ := h.newEngine(t, ownerID)

	people, err := e.Occupants(ctx, "cl-001")
	require.NoError(t, err)
	require.Len(t, people, 2, "expected unresolved ids to be skipped")
	assert.Equal(t, thirdID, people[0].ID, "expected join order to be kept")
	assert.Equal(t, secondID, people[1].ID)

	_, err = e.Occupants(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveAllSkipsUnknown(t *testing.T) {
	ctx := context.Background()
	lookup := &identity.MockLookup{}
	defer lookup.AssertExpectations(t)

	ann := types.Person{ID: secondID, Name: "Ann Cruz"}
	lookup.On("Resolve", ctx, secondID).Return(ann, nil).Once()
	lookup.On("Resolve", ctx, ghostID).Return(types.Person{}, identity.ErrNotFound).Once()

	assert.Equal(t, []types.Person{ann}, ResolveAll(ctx, lookup, []string{ghostID, secondID}))
}
