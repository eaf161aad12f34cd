package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vnatgroup/wabridge/internal/bus"
	"github.com/vnatgroup/wabridge/internal/transport"
	"github.com/vnatgroup/wabridge/pkg/protocol"
)

// Scheduler arms delayed callbacks. Injectable so tests run the reconnect
// path without real delays.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// TimerScheduler is the production Scheduler.
type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// InboundMessage is a chat message surfaced by a ready tenant connection.
type InboundMessage struct {
	TenantID string
	// SelfID is the tenant's own account number.
	SelfID string
	From   string
	Body   string
	Kind   string
}

// MessageHandler consumes inbound messages. Must not block for long; the
// handler runs on the connection's event pump.
type MessageHandler func(msg InboundMessage)

// ConnectionStatus is the answer to a connection request.
type ConnectionStatus struct {
	// State is the tenant's lifecycle state after the request.
	State State
	// QR is the unexpired pairing code, set when State is pairing and a code
	// was already issued.
	QR string
}

type conn struct {
	machine Machine
	tr      transport.Transport
	// gen invalidates event pumps of torn-down transports.
	gen int
}

// Manager owns every tenant connection. One transport per tenant, ever.
type Manager struct {
	factory   transport.Factory
	publisher bus.Publisher
	scheduler Scheduler
	limits    Limits
	delay     time.Duration
	onMessage MessageHandler
	onRemove  func(tenantID string)

	mu    sync.Mutex
	conns map[string]*conn

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a Manager. onMessage may be nil until SetMessageHandler.
func NewManager(factory transport.Factory, publisher bus.Publisher, scheduler Scheduler, limits Limits, reconnectDelay time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory:   factory,
		publisher: publisher,
		scheduler: scheduler,
		limits:    limits,
		delay:     reconnectDelay,
		conns:     make(map[string]*conn),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetMessageHandler wires the inbound message consumer. Call before the first
// RequestConnection.
func (m *Manager) SetMessageHandler(h MessageHandler) { m.onMessage = h }

// SetRemoveHandler wires a callback run whenever a tenant entry is removed,
// so collaborators holding per-tenant state (pending turns) can discard it.
func (m *Manager) SetRemoveHandler(h func(tenantID string)) { m.onRemove = h }

// RequestConnection connects a tenant, or reports the existing connection.
// Idempotent: a ready tenant answers ready, a tenant mid-pairing answers with
// its current QR instead of starting a second transport.
func (m *Manager) RequestConnection(tenantID string) (ConnectionStatus, error) {
	m.mu.Lock()

	if c, ok := m.conns[tenantID]; ok {
		st := ConnectionStatus{State: c.machine.State, QR: c.machine.LastQR}
		m.mu.Unlock()
		return st, nil
	}

	// Transition under the lock so a racing second request never observes a
	// transient idle entry.
	c := &conn{machine: NewMachine(m.limits)}
	next, effects := Transition(c.machine, Event{Kind: EvConnectRequested})
	c.machine = next
	m.conns[tenantID] = c
	m.mu.Unlock()

	slog.Info("connection requested", "tenant", tenantID)
	for _, fx := range effects {
		m.execute(tenantID, c, fx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[tenantID]; ok {
		return ConnectionStatus{State: c.machine.State, QR: c.machine.LastQR}, nil
	}
	// The start attempt failed and removed the entry.
	return ConnectionStatus{State: StateFailed}, fmt.Errorf("tenant %s: transport failed to start", tenantID)
}

// Status reports the tenant's lifecycle state.
func (m *Manager) Status(tenantID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[tenantID]; ok {
		return c.machine.State
	}
	return StateIdle
}

// Send delivers text to an end user over the tenant's connection.
func (m *Manager) Send(ctx context.Context, tenantID, userID, text string) error {
	m.mu.Lock()
	c, ok := m.conns[tenantID]
	var tr transport.Transport
	if ok {
		tr = c.tr
	}
	ready := ok && c.machine.State == StateReady
	m.mu.Unlock()

	if !ready || tr == nil {
		return fmt.Errorf("tenant %s is not connected", tenantID)
	}
	return tr.Send(ctx, userID, text)
}

// Shutdown closes every connection and stops event processing.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	tenants := make([]string, 0, len(m.conns))
	for id := range m.conns {
		tenants = append(tenants, id)
	}
	m.mu.Unlock()

	for _, id := range tenants {
		m.apply(id, Event{Kind: EvShutdown})
	}
	m.cancel()
}

// apply runs one event through the tenant's machine and executes the effects.
func (m *Manager) apply(tenantID string, ev Event) {
	m.mu.Lock()
	c, ok := m.conns[tenantID]
	if !ok {
		m.mu.Unlock()
		return
	}
	next, effects := Transition(c.machine, ev)
	prev := c.machine.State
	c.machine = next
	m.mu.Unlock()

	if next.State != prev {
		slog.Info("tenant state changed", "tenant", tenantID, "from", prev, "to", next.State)
	}

	for _, fx := range effects {
		m.execute(tenantID, c, fx)
	}
}

func (m *Manager) execute(tenantID string, c *conn, fx Effect) {
	switch fx.Kind {
	case FxStartTransport:
		m.startTransport(tenantID, c)

	case FxPublishQR:
		m.publisher.Publish(tenantID, bus.Event{
			Name:    protocol.EventQRCode,
			Payload: protocol.QRCodePayload{TenantID: tenantID, QR: fx.QR, Issue: fx.Issue},
		})

	case FxPublishReady:
		slog.Info("tenant ready", "tenant", tenantID, "self", fx.SelfID)
		m.publisher.Publish(tenantID, bus.Event{
			Name:    protocol.EventBotReady,
			Payload: protocol.BotReadyPayload{TenantID: tenantID, Ready: true, SelfID: fx.SelfID},
		})

	case FxPublishAuthError:
		slog.Error("tenant connection failed", "tenant", tenantID, "reason", fx.Reason)
		m.publisher.Publish(tenantID, bus.Event{
			Name:    protocol.EventAuthError,
			Payload: protocol.AuthErrorPayload{TenantID: tenantID, Reason: fx.Reason},
		})

	case FxScheduleReconnect:
		slog.Info("reconnect scheduled", "tenant", tenantID, "delay", m.delay)
		m.scheduler.After(m.delay, func() {
			m.apply(tenantID, Event{Kind: EvRetryDue})
		})

	case FxTeardown:
		m.mu.Lock()
		tr := c.tr
		c.tr = nil
		c.gen++
		m.mu.Unlock()
		if tr != nil {
			if err := tr.Stop(); err != nil {
				slog.Warn("transport stop failed", "tenant", tenantID, "error", err)
			}
		}

	case FxRemove:
		m.remove(tenantID)
	}
}

// remove drops the tenant entry and everything collaborators retain for it:
// the bus stops replaying the tenant's QR and the remove handler discards
// per-tenant pipeline state.
func (m *Manager) remove(tenantID string) {
	m.mu.Lock()
	delete(m.conns, tenantID)
	m.mu.Unlock()

	m.publisher.DropTenant(tenantID)
	if m.onRemove != nil {
		m.onRemove(tenantID)
	}
}

// startTransport creates and starts a fresh transport for the tenant. A start
// failure is logged and removes the entry so the next request retries clean.
func (m *Manager) startTransport(tenantID string, c *conn) {
	tr, err := m.factory(tenantID)
	if err == nil {
		err = tr.Start(m.ctx)
	}
	if err != nil {
		slog.Error("transport start failed", "tenant", tenantID, "error", err)
		m.publisher.Publish(tenantID, bus.Event{
			Name:    protocol.EventAuthError,
			Payload: protocol.AuthErrorPayload{TenantID: tenantID, Reason: err.Error()},
		})
		m.remove(tenantID)
		return
	}

	m.mu.Lock()
	c.tr = tr
	c.gen++
	gen := c.gen
	m.mu.Unlock()

	go m.pump(tenantID, c, tr, gen)
}

// pump translates transport events into machine events until the transport's
// channel closes. Events from a superseded transport generation are dropped.
func (m *Manager) pump(tenantID string, c *conn, tr transport.Transport, gen int) {
	for ev := range tr.Events() {
		m.mu.Lock()
		stale := c.gen != gen
		self := c.machine.SelfID
		m.mu.Unlock()
		if stale {
			return
		}

		switch ev.Kind {
		case transport.KindQR:
			m.apply(tenantID, Event{Kind: EvQRIssued, QR: ev.QR})
		case transport.KindAuthenticated:
			m.apply(tenantID, Event{Kind: EvAuthenticated})
		case transport.KindReady:
			m.apply(tenantID, Event{Kind: EvReady, SelfID: ev.SelfID})
		case transport.KindDisconnected:
			if ev.Clean {
				m.apply(tenantID, Event{Kind: EvCleanLogout})
			} else {
				m.apply(tenantID, Event{Kind: EvDisconnected, Reason: ev.Reason})
			}
			return
		case transport.KindMessage:
			if m.onMessage != nil {
				m.onMessage(InboundMessage{
					TenantID: tenantID,
					SelfID:   self,
					From:     ev.From,
					Body:     ev.Body,
					Kind:     ev.MessageKind,
				})
			}
		}
	}
}
