package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-attendance/internal/catalog"
	"github.com/npezzotti/go-attendance/internal/identity"
	"github.com/npezzotti/go-attendance/internal/store"
	"github.com/npezzotti/go-attendance/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
)

const (
	DefaultTickInterval = time.Second

	MinTimerMinutes = 1
	MaxTimerMinutes = 30
)

// Notifier receives every human readable event of a session.
type Notifier interface {
	Notify(msg string)
}

// StatusListener is implemented by notifiers that also want lock status
// refreshes from the tick loop.
type StatusListener interface {
	LockStatus(s LockStatus)
}

// Privileges reports whether an identity may arm timers and export reports.
type Privileges interface {
	IsPrivileged(id string) bool
}

// Session is a snapshot of who is logged in and where they are.
type Session struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	RoomID string `json:"room_id,omitempty"`
}

// Engine coordinates one client session against the shared documents.
// Operations are serialized; notifications are delivered after the engine
// state has been released, in the order they were produced.
type Engine struct {
	docs     *store.Documents
	catalog  *catalog.Catalog
	lookup   identity.Lookup
	allow    Privileges
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time
	interval time.Duration

	mu       sync.Mutex
	emitMu   sync.Mutex
	person   *types.Person
	roomID   string
	ledger   types.Ledger
	locks    types.LockTable
	loopGen  uint64
	loopStop context.CancelFunc
	watching context.CancelFunc
	closed   bool
}

type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// New creates an engine with its own origin tag on docs.
func New(docs *store.Documents, cat *catalog.Catalog, lookup identity.Lookup, allow Privileges, notifier Notifier, log logrus.FieldLogger, opts ...Option) (*Engine, error) {
	origin, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate origin: %w", err)
	}

	e := &Engine{
		docs:     docs.WithOrigin(origin),
		catalog:  cat,
		lookup:   lookup,
		allow:    allow,
		notifier: notifier,
		log:      log.WithField("origin", origin),
		now:      time.Now,
		interval: DefaultTickInterval,
		ledger:   types.Ledger{},
		locks:    types.LockTable{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Origin is the tag this engine writes with.
func (e *Engine) Origin() string {
	return e.docs.Origin()
}

// outbox collects what an operation wants to tell the session.
type outbox struct {
	msgs   []string
	status *LockStatus
}

func (o *outbox) notify(msg string) {
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) refresh(s LockStatus) {
	o.status = &s
}

// release unlocks the engine state and delivers out. emitMu is taken before
// mu is released so deliveries keep operation order.
func (e *Engine) release(out *outbox) {
	e.emitMu.Lock()
	e.mu.Unlock()
	defer e.emitMu.Unlock()

	if e.notifier == nil {
		return
	}
	for _, msg := range out.msgs {
		e.notifier.Notify(msg)
	}
	if out.status != nil {
		if sl, ok := e.notifier.(StatusListener); ok {
			sl.LockStatus(*out.status)
		}
	}
}

// Login sets the session identity. A different identity already logged in
// is logged out first.
func (e *Engine) Login(ctx context.Context, id string) (types.Person, error) {
	id = identity.NormalizeID(id)
	if !identity.ValidID(id) {
		return types.Person{}, fmt.Errorf("%w: malformed id", ErrInvalidArgument)
	}

	p, err := e.lookup.Resolve(ctx, id)
	if err != nil {
		return types.Person{}, fmt.Errorf("%w: identity %s", ErrNotFound, RedactIDs(id))
	}

	e.mu.Lock()
	out := &outbox{}
	if e.person != nil && e.person.ID != p.ID {
		e.logout(ctx, out)
	}
	e.person = &p
	e.ledger = e.docs.Ledger(ctx)
	e.locks = e.docs.Locks(ctx)
	out.refresh(e.status())
	e.release(out)

	e.log.WithField("id", RedactIDs(p.ID)).Debug("session logged in")
	return p, nil
}

// Logout leaves the current room and clears the identity.
func (e *Engine) Logout(ctx context.Context) {
	e.mu.Lock()
	out := &outbox{}
	e.logout(ctx, out)
	e.release(out)
}

func (e *Engine) logout(ctx context.Context, out *outbox) {
	e.leave(ctx, out)
	e.disarm()
	e.person = nil
}

// Join moves the session into roomID, leaving any other room first.
func (e *Engine) Join(ctx context.Context, roomID string) error {
	e.mu.Lock()
	out := &outbox{}
	err := e.join(ctx, out, roomID)
	e.release(out)
	return err
}

func (e *Engine) join(ctx context.Context, out *outbox, roomID string) error {
	if e.person == nil {
		return ErrNotAuthenticated
	}

	room, ok := e.catalog.Get(roomID)
	if !ok {
		return fmt.Errorf("%w: room %q", ErrNotFound, roomID)
	}
	if room.AllowedCourse != "" && !strings.EqualFold(room.AllowedCourse, e.person.Course) {
		return fmt.Errorf("%w: %s is restricted to %s", ErrForbidden, room.Title, room.AllowedCourse)
	}

	if rec, ok := e.locks[roomID]; ok {
		if Evaluate(e.now(), &rec) == Enforced && rec.Owner != e.person.ID {
			return fmt.Errorf("%w: %s", ErrRoomLocked, room.Title)
		}
	}

	if e.roomID != "" && e.roomID != roomID {
		e.leave(ctx, out)
	}

	id := e.person.ID
	ledger := e.docs.Ledger(ctx)
	if e.roomID == roomID {
		// the fresh read may already hold writes whose change events
		// will diff against it
		e.diffRoom(ctx, out, e.ledger[roomID], ledger[roomID], id)
	}
	changed := false
	for other := range ledger {
		if other != roomID && ledger.Remove(other, id) {
			changed = true
		}
	}
	added := ledger.Add(roomID, id)
	if added || changed {
		e.docs.SaveLedger(ctx, ledger)
	}
	e.ledger = ledger
	e.roomID = roomID

	if added {
		out.notify(fmt.Sprintf("%s joined %s", e.person.Name, room.Title))
	}
	out.refresh(e.status())
	e.arm()

	e.log.WithFields(logrus.Fields{"room": roomID, "added": added}).Debug("joined room")
	return nil
}

// Leave removes the session from its current room. The room's lock is
// deleted when the session owns it.
func (e *Engine) Leave(ctx context.Context) {
	e.mu.Lock()
	out := &outbox{}
	e.leave(ctx, out)
	e.release(out)
}

func (e *Engine) leave(ctx context.Context, out *outbox) {
	if e.person == nil || e.roomID == "" {
		return
	}
	roomID, id := e.roomID, e.person.ID

	ledger := e.docs.Ledger(ctx)
	if ledger.Remove(roomID, id) {
		e.docs.SaveLedger(ctx, ledger)
		out.notify(fmt.Sprintf("%s left %s", e.person.Name, e.catalogTitle(roomID)))
	}
	e.ledger = ledger

	e.removeLock(ctx, out, roomID, id)

	e.roomID = ""
	e.disarm()
	out.refresh(e.status())

	e.log.WithField("room", roomID).Debug("left room")
}

// removeLock deletes roomID's record from a fresh lock table if owner still
// holds it there.
func (e *Engine) removeLock(ctx context.Context, out *outbox, roomID, owner string) {
	locks := e.docs.Locks(ctx)
	if rec, ok := locks[roomID]; ok && rec.Owner == owner {
		delete(locks, roomID)
		e.docs.SaveLocks(ctx, locks)
		out.notify("Room lock removed as owner left.")
	}
	e.locks = locks
}

// SetTimer schedules the current room to lock in minutes. Any existing
// record for the room is replaced.
func (e *Engine) SetTimer(ctx context.Context, minutes int) error {
	e.mu.Lock()
	out := &outbox{}
	err := e.setTimer(ctx, out, minutes)
	e.release(out)
	return err
}

func (e *Engine) setTimer(ctx context.Context, out *outbox, minutes int) error {
	if e.person == nil {
		return ErrNotAuthenticated
	}
	if e.allow == nil || !e.allow.IsPrivileged(e.person.ID) {
		return fmt.Errorf("%w: not allowed to set a room timer", ErrForbidden)
	}
	if e.roomID == "" {
		return fmt.Errorf("%w: not in a room", ErrInvalidArgument)
	}
	if minutes < MinTimerMinutes || minutes > MaxTimerMinutes {
		return fmt.Errorf("%w: minutes must be between %d and %d", ErrInvalidArgument, MinTimerMinutes, MaxTimerMinutes)
	}

	rec := types.NewLockRecord(e.person.ID, e.now().Add(time.Duration(minutes)*time.Minute))
	locks := e.docs.Locks(ctx)
	locks[e.roomID] = rec
	e.docs.SaveLocks(ctx, locks)
	e.locks = locks

	out.notify(fmt.Sprintf("Room will lock in %d minute(s). Owner: %s", minutes, e.person.Name))
	out.refresh(e.status())
	e.arm()

	e.log.WithFields(logrus.Fields{"room": e.roomID, "minutes": minutes}).Info("room timer set")
	return nil
}

// Occupants resolves the cached membership of roomID in join order.
func (e *Engine) Occupants(ctx context.Context, roomID string) ([]types.Person, error) {
	if _, ok := e.catalog.Get(roomID); !ok {
		return nil, fmt.Errorf("%w: room %q", ErrNotFound, roomID)
	}

	e.mu.Lock()
	ids := append([]string(nil), e.ledger[roomID]...)
	e.mu.Unlock()

	return ResolveAll(ctx, e.lookup, ids), nil
}

// ResolveAll maps ids to person records, skipping ids the lookup does not
// know.
func ResolveAll(ctx context.Context, lookup identity.Lookup, ids []string) []types.Person {
	people := make([]types.Person, 0, len(ids))
	for _, id := range ids {
		p, err := lookup.Resolve(ctx, id)
		if err != nil {
			continue
		}
		people = append(people, p)
	}
	return people
}

// LockStatus returns the derived lock status of the current room.
func (e *Engine) LockStatus() LockStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status()
}

func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Session{RoomID: e.roomID}
	if e.person != nil {
		s.ID = e.person.ID
		s.Name = e.person.Name
	}
	return s
}

// Close ends the session: the identity leaves its room, releasing any lock
// it owns, and background work stops. Calling Close again does nothing.
func (e *Engine) Close(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true

	out := &outbox{}
	e.logout(ctx, out)
	if e.watching != nil {
		e.watching()
		e.watching = nil
	}
	e.release(out)

	e.log.Debug("session closed")
}

// status must be called with mu held.
func (e *Engine) status() LockStatus {
	var (
		id         string
		privileged bool
		rec        *types.LockRecord
	)
	if e.person != nil {
		id = e.person.ID
		privileged = e.allow != nil && e.allow.IsPrivileged(id)
	}
	if r, ok := e.locks[e.roomID]; ok && e.roomID != "" {
		rec = &r
	}
	return statusFor(e.now(), e.roomID, id, privileged, rec)
}

func (e *Engine) catalogTitle(roomID string) string {
	if room, ok := e.catalog.Get(roomID); ok {
		return room.Title
	}
	return roomID
}
