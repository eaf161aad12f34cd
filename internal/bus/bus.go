// Package bus distributes tenant lifecycle events (QR issued, ready,
// auth error) to interested observers. Subscriptions are scoped to a tenant
// id so one tenant's pairing QR can never reach another tenant's dashboard.
package bus

import (
	"sync"

	"github.com/vnatgroup/wabridge/pkg/protocol"
)

// Event is a tenant-scoped lifecycle notification.
type Event struct {
	Name    string
	Payload interface{}
}

// Handler receives events for a tenant the subscriber watches.
type Handler func(tenantID string, event Event)

// Publisher is the side of the bus components publish to.
type Publisher interface {
	Publish(tenantID string, event Event)
	// DropTenant clears retained state when the tenant's connection is removed,
	// so a dead QR is never replayed to later subscribers.
	DropTenant(tenantID string)
}

type subscriber struct {
	id      string
	handler Handler
}

// Bus is an in-process, tenant-scoped event bus. The most recent QR event per
// tenant is retained so an observer that subscribes mid-pairing still gets
// the current code (replay-last-value); retention is cleared on ready.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber // tenantID → subscribers
	lastQR map[string]Event        // tenantID → retained qr.code event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[string][]subscriber),
		lastQR: make(map[string]Event),
	}
}

// Subscribe registers a handler for one tenant's events. If a QR is currently
// retained for the tenant it is replayed synchronously before returning.
// Re-subscribing with the same subscriber id replaces the previous handler,
// so a repeated watch request never causes duplicate deliveries.
func (b *Bus) Subscribe(tenantID, subscriberID string, h Handler) {
	b.mu.Lock()
	subs := b.subs[tenantID]
	replaced := false
	for i, s := range subs {
		if s.id == subscriberID {
			subs[i].handler = h
			replaced = true
			break
		}
	}
	if !replaced {
		b.subs[tenantID] = append(subs, subscriber{id: subscriberID, handler: h})
	}
	retained, hasQR := b.lastQR[tenantID]
	b.mu.Unlock()

	if hasQR {
		h(tenantID, retained)
	}
}

// Unsubscribe removes every subscription the subscriber holds on the tenant.
func (b *Bus) Unsubscribe(tenantID, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[tenantID]
	kept := subs[:0]
	for _, s := range subs {
		if s.id != subscriberID {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, tenantID)
	} else {
		b.subs[tenantID] = kept
	}
}

// UnsubscribeAll removes the subscriber from every tenant. Used when a
// dashboard client disconnects.
func (b *Bus) UnsubscribeAll(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for tenantID, subs := range b.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.id != subscriberID {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, tenantID)
		} else {
			b.subs[tenantID] = kept
		}
	}
}

// Publish delivers an event to the tenant's subscribers. QR events are
// retained for replay; a ready event clears the retained QR.
func (b *Bus) Publish(tenantID string, event Event) {
	b.mu.Lock()
	switch event.Name {
	case protocol.EventQRCode:
		b.lastQR[tenantID] = event
	case protocol.EventBotReady:
		delete(b.lastQR, tenantID)
	}
	subs := append([]subscriber(nil), b.subs[tenantID]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.handler(tenantID, event)
	}
}

// DropTenant clears retained state for a tenant whose connection was removed.
func (b *Bus) DropTenant(tenantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lastQR, tenantID)
}
