// Package tenant owns the per-tenant connection lifecycle: pairing with QR
// codes, readiness, bounded reconnection, and teardown. The state machine is
// a pure transition function; the Manager executes its effects.
package tenant

// State is the lifecycle state of one tenant connection.
type State int

const (
	StateIdle State = iota
	StatePairing
	StateReady
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePairing:
		return "pairing"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// EventKind is an input to the state machine.
type EventKind int

const (
	// EvConnectRequested: a caller wants this tenant connected.
	EvConnectRequested EventKind = iota
	// EvQRIssued: the transport produced a pairing code.
	EvQRIssued
	// EvAuthenticated: pairing succeeded, connection warming up.
	EvAuthenticated
	// EvReady: the connection is live.
	EvReady
	// EvCleanLogout: the account logged out deliberately. No reconnect.
	EvCleanLogout
	// EvDisconnected: the connection dropped recoverably.
	EvDisconnected
	// EvRetryDue: the reconnect backoff elapsed.
	EvRetryDue
	// EvShutdown: the whole bridge is stopping.
	EvShutdown
)

// Event is one state machine input with its payload.
type Event struct {
	Kind   EventKind
	QR     string
	SelfID string
	Reason string
}

// EffectKind is an action the Manager must perform after a transition.
type EffectKind int

const (
	// FxStartTransport: create and start a fresh transport.
	FxStartTransport EffectKind = iota
	// FxPublishQR: push the pairing code to the tenant's observers.
	FxPublishQR
	// FxPublishReady: announce readiness to the tenant's observers.
	FxPublishReady
	// FxPublishAuthError: report a terminal failure to the observers.
	FxPublishAuthError
	// FxScheduleReconnect: arm the backoff timer for a retry.
	FxScheduleReconnect
	// FxTeardown: stop and release the current transport.
	FxTeardown
	// FxRemove: drop the tenant entry so a fresh request starts clean.
	FxRemove
)

// Effect is one action with its payload.
type Effect struct {
	Kind   EffectKind
	QR     string
	Issue  int
	SelfID string
	Reason string
}

// Limits bounds pairing and reconnection.
type Limits struct {
	MaxQRIssues          int
	MaxReconnectAttempts int
}

// Machine is the state of one tenant connection. Value semantics: Transition
// returns a new Machine and never mutates its input.
type Machine struct {
	State             State
	QRIssues          int
	ReconnectAttempts int
	// LastQR is the unexpired pairing code, replayed to repeat requests.
	LastQR string
	// SelfID is the account's own number, known once ready.
	SelfID string
	Limits Limits
}

// NewMachine returns an idle machine with the given limits.
func NewMachine(limits Limits) Machine {
	return Machine{State: StateIdle, Limits: limits}
}

// Transition applies one event and returns the next machine plus the effects
// the Manager must execute. Unexpected (state, event) pairs change nothing.
func Transition(m Machine, ev Event) (Machine, []Effect) {
	if ev.Kind == EvShutdown {
		if m.State == StateClosed {
			return m, nil
		}
		m.State = StateClosed
		m.LastQR = ""
		return m, []Effect{{Kind: FxTeardown}}
	}

	switch m.State {
	case StateIdle:
		if ev.Kind == EvConnectRequested {
			m.State = StatePairing
			m.QRIssues = 0
			m.LastQR = ""
			return m, []Effect{{Kind: FxStartTransport}}
		}

	case StatePairing:
		switch ev.Kind {
		case EvQRIssued:
			m.QRIssues++
			if m.Limits.MaxQRIssues > 0 && m.QRIssues > m.Limits.MaxQRIssues {
				m.State = StateFailed
				m.LastQR = ""
				return m, []Effect{
					{Kind: FxTeardown},
					{Kind: FxPublishAuthError, Reason: "pairing abandoned: QR code limit reached"},
					{Kind: FxRemove},
				}
			}
			m.LastQR = ev.QR
			return m, []Effect{{Kind: FxPublishQR, QR: ev.QR, Issue: m.QRIssues}}

		case EvAuthenticated:
			// Scan accepted; stay in pairing until the transport is usable.
			return m, nil

		case EvReady:
			m.State = StateReady
			m.QRIssues = 0
			m.ReconnectAttempts = 0
			m.LastQR = ""
			m.SelfID = ev.SelfID
			return m, []Effect{{Kind: FxPublishReady, SelfID: ev.SelfID}}

		case EvDisconnected:
			return reconnectOrFail(m, ev)

		case EvCleanLogout:
			m.State = StateIdle
			m.LastQR = ""
			return m, []Effect{{Kind: FxTeardown}, {Kind: FxRemove}}
		}

	case StateReady:
		switch ev.Kind {
		case EvCleanLogout:
			m.State = StateIdle
			m.SelfID = ""
			return m, []Effect{{Kind: FxTeardown}, {Kind: FxRemove}}

		case EvDisconnected:
			return reconnectOrFail(m, ev)
		}

	case StateReconnecting:
		if ev.Kind == EvRetryDue {
			m.State = StatePairing
			m.QRIssues = 0
			m.LastQR = ""
			return m, []Effect{{Kind: FxStartTransport}}
		}

	case StateFailed, StateClosed:
		// Terminal. The entry is already removed or the bridge is stopping.
	}

	return m, nil
}

func reconnectOrFail(m Machine, ev Event) (Machine, []Effect) {
	m.LastQR = ""
	m.ReconnectAttempts++
	if m.Limits.MaxReconnectAttempts > 0 && m.ReconnectAttempts > m.Limits.MaxReconnectAttempts {
		m.State = StateFailed
		return m, []Effect{
			{Kind: FxTeardown},
			{Kind: FxPublishAuthError, Reason: "connection lost and reconnect attempts exhausted: " + ev.Reason},
			{Kind: FxRemove},
		}
	}
	m.State = StateReconnecting
	return m, []Effect{{Kind: FxTeardown}, {Kind: FxScheduleReconnect}}
}
