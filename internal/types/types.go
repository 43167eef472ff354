package types

import (
	"slices"
	"time"
)

// Person is a registered identity. ID is the identification string
// (NN-NNNN-NNNNNN) and is globally unique.
type Person struct {
	ID      string `json:"studentId"`
	Name    string `json:"fullName"`
	Section string `json:"section,omitempty"`
	Course  string `json:"course,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Directory maps identification strings to person records.
type Directory map[string]Person

type Room struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Location      string `json:"location"`
	AllowedCourse string `json:"allowed_course,omitempty"`
}

// Ledger maps a room id to its occupants in join order.
type Ledger map[string][]string

func (l Ledger) Contains(room, id string) bool {
	return slices.Contains(l[room], id)
}

// Add appends id to the room's sequence unless it is already present.
// It reports whether the ledger changed.
func (l Ledger) Add(room, id string) bool {
	if l.Contains(room, id) {
		return false
	}
	l[room] = append(l[room], id)
	return true
}

// Remove deletes id from the room's sequence, keeping the order of the
// remaining occupants. It reports whether the ledger changed.
func (l Ledger) Remove(room, id string) bool {
	seq := l[room]
	idx := slices.Index(seq, id)
	if idx == -1 {
		return false
	}
	l[room] = slices.Delete(slices.Clone(seq), idx, idx+1)
	return true
}

// RoomOf returns the room whose sequence contains id.
func (l Ledger) RoomOf(id string) (string, bool) {
	for room, ids := range l {
		if slices.Contains(ids, id) {
			return room, true
		}
	}
	return "", false
}

// LockRecord schedules a room to close to everyone but Owner once the wall
// clock passes LockAt (unix milliseconds).
type LockRecord struct {
	Owner  string `json:"ownerId"`
	LockAt int64  `json:"lockAt"`
}

func NewLockRecord(owner string, at time.Time) LockRecord {
	return LockRecord{Owner: owner, LockAt: at.UnixMilli()}
}

func (r LockRecord) At() time.Time {
	return time.UnixMilli(r.LockAt)
}

// LockTable holds at most one lock record per room id.
type LockTable map[string]LockRecord
