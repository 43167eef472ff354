package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLedgerAddRemove(t *testing.T) {
	l := Ledger{}

	assert.True(t, l.Add("cl-001", "A"), "expected first add to change the ledger")
	assert.True(t, l.Add("cl-001", "B"))
	assert.False(t, l.Add("cl-001", "A"), "expected duplicate add to be a no-op")
	assert.Equal(t, []string{"A", "B"}, l["cl-001"], "expected join order to be kept")

	assert.True(t, l.Remove("cl-001", "A"))
	assert.False(t, l.Remove("cl-001", "A"), "expected second remove to be a no-op")
	assert.Equal(t, []string{"B"}, l["cl-001"])
}

func TestLedgerRemoveDoesNotAliasClones(t *testing.T) {
	l := Ledger{"cl-001": {"A", "B", "C"}}
	shared := l["cl-001"]

	l.Remove("cl-001", "A")
	assert.Equal(t, []string{"A", "B", "C"}, shared, "expected previously read slice to stay intact")
}

func TestLedgerRoomOf(t *testing.T) {
	l := Ledger{"cl-001": {"A"}, "ml-301": {"B"}}

	room, ok := l.RoomOf("B")
	assert.True(t, ok)
	assert.Equal(t, "ml-301", room)

	_, ok = l.RoomOf("Z")
	assert.False(t, ok)
}

func TestLockRecordAt(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := NewLockRecord("11-1111-111111", at)

	assert.Equal(t, at.UnixMilli(), rec.LockAt)
	assert.True(t, rec.At().Equal(at), "expected round trip through unix millis")
}
