package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-attendance/internal/remote"
	"github.com/npezzotti/go-attendance/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthorityClient(t *testing.T, app *AttendanceApp) *remote.Client {
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	c, err := remote.NewClient(srv.URL)
	require.NoError(t, err)
	return c
}

func TestAuthorityRoundTrip(t *testing.T) {
	app := newTestApp(t)
	c := newAuthorityClient(t, app)
	ctx := context.Background()

	t.Run("directory", func(t *testing.T) {
		dir, err := c.FetchDirectory(ctx)
		require.NoError(t, err)
		assert.Len(t, dir, 3)
		assert.Equal(t, "Ann Cruz", dir[secondID].Name)
	})

	t.Run("person", func(t *testing.T) {
		p, err := c.FetchPerson(ctx, thirdID)
		require.NoError(t, err)
		assert.Equal(t, "Ben Diaz", p.Name)

		_, err = c.FetchPerson(ctx, "12-0000-000099")
		assert.ErrorIs(t, err, remote.ErrUnavailable, "expected a missing user to read as a failed call")
	})

	t.Run("register", func(t *testing.T) {
		require.NoError(t, c.PushPerson(ctx, types.Person{ID: "12-0000-000010", Name: "Eve Lim"}))
		assert.True(t, app.dir.Exists(ctx, "12-0000-000010"))

		err := c.PushPerson(ctx, types.Person{ID: "bad", Name: "Nope"})
		assert.ErrorIs(t, err, remote.ErrUnavailable)
	})

	t.Run("attendance", func(t *testing.T) {
		l := types.Ledger{"cl-001": {secondID, thirdID}}
		require.NoError(t, c.PushLedger(ctx, l))
		assert.Equal(t, l, app.docs.Ledger(ctx))

		got, err := c.FetchLedger(ctx)
		require.NoError(t, err)
		assert.Equal(t, l, got)

		require.NoError(t, c.PushLedger(ctx, types.Ledger{}))
		assert.Empty(t, app.docs.Ledger(ctx), "expected an empty push to clear the ledger")
	})

	t.Run("locks", func(t *testing.T) {
		lt := types.LockTable{"cl-001": types.NewLockRecord(ownerID, testNow.Add(time.Minute))}
		require.NoError(t, c.PushLocks(ctx, lt))

		got, err := c.FetchLocks(ctx)
		require.NoError(t, err)
		assert.Equal(t, lt, got)
	})
}

func TestAuthorityRejectsBadBodies(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/api/register", "/api/attendance", "/api/roomLocks"} {
		rr := app.do(t, http.MethodPost, path, "{broken", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)

		env := decode[remote.Envelope](t, rr)
		assert.False(t, env.OK, path)
		assert.NotEmpty(t, env.Error, path)
	}
}

func TestAuthorityFeedsMerge(t *testing.T) {
	authority := newTestApp(t)
	ctx := context.Background()
	authority.docs.SaveLedger(ctx, types.Ledger{"r1": {"B"}, "r2": {"C"}})

	local := newTestApp(t)
	local.docs.SaveLedger(ctx, types.Ledger{"r1": {"A"}})

	remote.Merge(ctx, local.docs, newAuthorityClient(t, authority), local.log)

	assert.Equal(t, types.Ledger{"r1": {"B"}, "r2": {"C"}}, local.docs.Ledger(ctx), "expected remote rooms to win")
}
