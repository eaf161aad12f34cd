// Package debounce coalesces a burst of inbound messages from one user into
// a single conversation turn. People type in fragments; the backend should
// see the whole thought, not four partial ones.
package debounce

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FlushFunc receives one coalesced turn. Calls for the same (tenant, user)
// pair are serialized; a burst arriving mid-flush becomes the next turn.
type FlushFunc func(ctx context.Context, tenantID, userID, text string)

type entry struct {
	texts    []string
	timer    *time.Timer
	inFlight bool
	// refire is set when the quiet period elapsed while a flush for this
	// user was still running.
	refire bool
}

// Buffer is the per-user message debouncer. Safe for concurrent use.
type Buffer struct {
	window time.Duration
	flush  FlushFunc

	mu sync.Mutex
	// tenant → user → entry
	pending map[string]map[string]*entry
	stopped bool
}

// New creates a Buffer with the given quiet period.
func New(window time.Duration, flush FlushFunc) *Buffer {
	return &Buffer{
		window:  window,
		flush:   flush,
		pending: make(map[string]map[string]*entry),
	}
}

// Append records one inbound message and restarts the user's quiet period.
func (b *Buffer) Append(tenantID, userID, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	byUser, ok := b.pending[tenantID]
	if !ok {
		byUser = make(map[string]*entry)
		b.pending[tenantID] = byUser
	}
	e, ok := byUser[userID]
	if !ok {
		e = &entry{}
		byUser[userID] = e
	}

	e.texts = append(e.texts, text)
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(b.window, func() { b.fire(tenantID, userID) })
}

// fire drains the user's batch and runs the flush callback outside the lock.
// If a flush is already running for this user, the batch waits for it.
func (b *Buffer) fire(tenantID, userID string) {
	for {
		b.mu.Lock()
		e, ok := b.pending[tenantID][userID]
		if !ok || b.stopped {
			b.mu.Unlock()
			return
		}
		if e.inFlight {
			e.refire = true
			b.mu.Unlock()
			return
		}
		texts := e.texts
		e.texts = nil
		e.inFlight = true
		b.mu.Unlock()

		if len(texts) > 0 {
			b.flush(context.Background(), tenantID, userID, strings.Join(texts, " "))
		}

		b.mu.Lock()
		e.inFlight = false
		again := e.refire
		e.refire = false
		if !again && len(e.texts) == 0 {
			delete(b.pending[tenantID], userID)
			if len(b.pending[tenantID]) == 0 {
				delete(b.pending, tenantID)
			}
		}
		b.mu.Unlock()

		if !again {
			return
		}
	}
}

// DropTenant discards all buffered messages of one tenant. Used when the
// tenant's connection goes away for good.
func (b *Buffer) DropTenant(tenantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.pending[tenantID] {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.texts = nil
	}
	delete(b.pending, tenantID)
}

// Stop cancels all timers and discards buffered messages.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for _, byUser := range b.pending {
		for _, e := range byUser {
			if e.timer != nil {
				e.timer.Stop()
			}
		}
	}
	b.pending = make(map[string]map[string]*entry)
}
