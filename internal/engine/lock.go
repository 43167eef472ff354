package engine

import (
	"fmt"
	"regexp"
	"time"

	"github.com/npezzotti/go-attendance/internal/types"
)

type LockState string

const (
	NoLock   LockState = "none"
	Pending  LockState = "pending"
	Enforced LockState = "enforced"
)

// Evaluate derives the lock state of a room from its record. A nil record
// means the room has no lock.
func Evaluate(now time.Time, rec *types.LockRecord) LockState {
	if rec == nil {
		return NoLock
	}
	if now.UnixMilli() >= rec.LockAt {
		return Enforced
	}
	return Pending
}

// LockStatus is the display state of the session's current room.
type LockStatus struct {
	RoomID      string    `json:"room_id,omitempty"`
	State       LockState `json:"state"`
	LockAt      int64     `json:"lock_at,omitempty"`
	RemainingMS int64     `json:"remaining_ms,omitempty"`
	Owner       bool      `json:"owner"`
	CanSetTimer bool      `json:"can_set_timer"`
	CanExport   bool      `json:"can_export"`
	Text        string    `json:"text"`
}

var idPattern = regexp.MustCompile(`\d{2}-\d{4}-\d{6}`)

// RedactIDs replaces every identification string in text.
func RedactIDs(text string) string {
	return idPattern.ReplaceAllString(text, "REDACTED")
}

func formatRemaining(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

// statusFor builds the status of roomID for identity id.
func statusFor(now time.Time, roomID, id string, privileged bool, rec *types.LockRecord) LockStatus {
	s := LockStatus{
		RoomID:    roomID,
		State:     Evaluate(now, rec),
		CanExport: privileged,
	}
	if roomID == "" {
		return s
	}

	switch s.State {
	case NoLock:
		s.CanSetTimer = privileged
	case Pending:
		s.LockAt = rec.LockAt
		remaining := rec.At().Sub(now)
		s.RemainingMS = remaining.Milliseconds()
		s.Owner = rec.Owner == id
		s.CanSetTimer = privileged && s.Owner
		s.Text = RedactIDs(fmt.Sprintf("Room will lock in %s (owner: %s)", formatRemaining(remaining), rec.Owner))
	case Enforced:
		s.LockAt = rec.LockAt
		s.Owner = rec.Owner == id
		s.CanSetTimer = privileged && s.Owner
		s.Text = RedactIDs(fmt.Sprintf("Room is locked (timer ended). Remains locked until owner (%s) leaves.", rec.Owner))
	}
	return s
}
