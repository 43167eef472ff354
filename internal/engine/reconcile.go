package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/npezzotti/go-attendance/internal/store"
)

// Start subscribes to changes written by other sessions and reconciles
// them until ctx is cancelled or the engine is closed.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	changes, err := e.docs.Watch(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("watch documents: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return nil
	}
	if e.watching != nil {
		e.watching()
	}
	e.watching = cancel
	e.ledger = e.docs.Ledger(ctx)
	e.locks = e.docs.Locks(ctx)
	e.mu.Unlock()

	go func() {
		for c := range changes {
			e.HandleChange(ctx, c)
		}
	}()

	return nil
}

// HandleChange folds a document written elsewhere into the caches.
func (e *Engine) HandleChange(ctx context.Context, c store.Change) {
	switch c.Key {
	case store.KeyLedger:
		e.reconcileLedger(ctx, c)
	case store.KeyLocks:
		e.reconcileLocks(c)
	}
}

func (e *Engine) reconcileLedger(ctx context.Context, c store.Change) {
	ledger, err := store.DecodeLedger(c.Value)
	if err != nil {
		e.log.WithError(err).Warn("corrupt attendance change, treating as empty")
	}

	e.mu.Lock()
	out := &outbox{}
	if e.roomID != "" {
		e.diffRoom(ctx, out, e.ledger[e.roomID], ledger[e.roomID], "")
	}
	e.ledger = ledger
	e.release(out)
}

// diffRoom announces every id that joined or left between two sequences of
// the same room, skipping self. Joins come first.
func (e *Engine) diffRoom(ctx context.Context, out *outbox, prev, next []string, self string) {
	for _, id := range next {
		if id != self && !slices.Contains(prev, id) {
			out.notify(fmt.Sprintf("%s joined the room.", e.displayName(ctx, id)))
		}
	}
	for _, id := range prev {
		if id != self && !slices.Contains(next, id) {
			out.notify(fmt.Sprintf("%s left the room.", e.displayName(ctx, id)))
		}
	}
}

func (e *Engine) reconcileLocks(c store.Change) {
	locks, err := store.DecodeLocks(c.Value)
	if err != nil {
		e.log.WithError(err).Warn("corrupt lock change, treating as empty")
	}

	e.mu.Lock()
	out := &outbox{}
	e.locks = locks
	if e.roomID != "" {
		out.refresh(e.status())
		if _, ok := locks[e.roomID]; ok && !e.armed() {
			e.arm()
		}
	}
	e.release(out)
}

func (e *Engine) displayName(ctx context.Context, id string) string {
	p, err := e.lookup.Resolve(ctx, id)
	if err != nil || p.Name == "" {
		return id
	}
	return p.Name
}
