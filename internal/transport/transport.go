// Package transport defines the per-tenant messaging connection contract.
// The actual WhatsApp protocol lives in an external bridge process
// (whatsapp-web.js based); this package speaks JSON over WebSocket to it and
// translates bridge frames into typed lifecycle and message events.
package transport

import "context"

// EventKind discriminates transport events.
type EventKind int

const (
	// KindQR: the bridge needs the user to scan a pairing code.
	KindQR EventKind = iota
	// KindAuthenticated: pairing succeeded, connection not yet usable.
	KindAuthenticated
	// KindReady: the connection is live; SelfID carries the account number.
	KindReady
	// KindDisconnected: the connection dropped. Clean means a deliberate
	// logout (no reconnect); otherwise the disconnect is recoverable.
	KindDisconnected
	// KindMessage: an inbound message from an end user.
	KindMessage
)

func (k EventKind) String() string {
	switch k {
	case KindQR:
		return "qr"
	case KindAuthenticated:
		return "authenticated"
	case KindReady:
		return "ready"
	case KindDisconnected:
		return "disconnected"
	case KindMessage:
		return "message"
	}
	return "unknown"
}

// Message kinds as reported by the bridge. Anything other than
// MessageKindChat is multimedia and never reaches the conversation router.
const MessageKindChat = "chat"

// Event is one occurrence on a tenant's connection.
type Event struct {
	Kind EventKind

	// KindQR
	QR string

	// KindReady
	SelfID string

	// KindDisconnected
	Reason string
	Clean  bool

	// KindMessage
	From        string
	Body        string
	MessageKind string
}

// Transport is one tenant's connection to the messaging network.
// Implementations own exactly one underlying connection; the tenant manager
// guarantees at most one Transport per tenant.
type Transport interface {
	// Start opens the connection. Events begin flowing on Events() until the
	// channel is closed (after a final KindDisconnected).
	Start(ctx context.Context) error

	// Send delivers text to an end user. Only valid after KindReady.
	Send(ctx context.Context, userID, text string) error

	// Events returns the event stream. Closed when the transport terminates.
	Events() <-chan Event

	// Stop tears the connection down. Safe to call more than once.
	Stop() error
}

// Factory creates a Transport for a tenant. The tenant manager calls it on
// every (re)connection attempt; tests substitute fakes.
type Factory func(tenantID string) (Transport, error)
