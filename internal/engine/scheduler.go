package engine

import (
	"context"
	"time"
)

// arm starts the tick loop for the current room, replacing any running
// loop. Nothing is started when the room has no lock record. Must be called
// with mu held.
func (e *Engine) arm() {
	e.disarm()
	if e.roomID == "" {
		return
	}
	if _, ok := e.locks[e.roomID]; !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.loopGen++
	e.loopStop = cancel
	go e.tickLoop(ctx, e.loopGen)
}

// disarm stops the tick loop. Must be called with mu held.
func (e *Engine) disarm() {
	if e.loopStop != nil {
		e.loopStop()
		e.loopStop = nil
	}
}

func (e *Engine) armed() bool {
	return e.loopStop != nil
}

func (e *Engine) tickLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.tick(gen) {
				return
			}
		}
	}
}

// tick refreshes the lock status and reports whether the loop should keep
// running. A loop from an older generation never acts.
func (e *Engine) tick(gen uint64) bool {
	e.mu.Lock()
	if gen != e.loopGen || e.loopStop == nil {
		e.mu.Unlock()
		return false
	}

	out := &outbox{}
	_, ok := e.locks[e.roomID]
	keep := e.roomID != "" && ok
	if !keep {
		e.disarm()
	}
	out.refresh(e.status())
	e.release(out)

	return keep
}
