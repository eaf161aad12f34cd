package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vnatgroup/wabridge/internal/bus"
	"github.com/vnatgroup/wabridge/internal/transport"
	"github.com/vnatgroup/wabridge/pkg/protocol"
)

type fakeTransport struct {
	events   chan transport.Event
	startErr error

	mu      sync.Mutex
	sends   []string
	stopped bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (f *fakeTransport) Start(ctx context.Context) error { return f.startErr }

func (f *fakeTransport) Send(_ context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, userID+":"+text)
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.events)
	}
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []bus.Event
	drops  []string
}

func (p *fakePublisher) Publish(_ string, ev bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *fakePublisher) DropTenant(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drops = append(p.drops, tenantID)
}

func (p *fakePublisher) dropped(tenantID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.drops {
		if id == tenantID {
			return true
		}
	}
	return false
}

func (p *fakePublisher) named(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

type fakeScheduler struct {
	mu  sync.Mutex
	fns []func()
}

func (s *fakeScheduler) After(_ time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if len(s.fns) == 0 {
		s.mu.Unlock()
		t.Fatal("no reconnect scheduled")
	}
	fn := s.fns[0]
	s.fns = s.fns[1:]
	s.mu.Unlock()
	fn()
}

type testRig struct {
	manager    *Manager
	publisher  *fakePublisher
	scheduler  *fakeScheduler
	mu         sync.Mutex
	transports []*fakeTransport
	messages   []InboundMessage
}

func newRig(t *testing.T, startErrs ...error) *testRig {
	t.Helper()
	rig := &testRig{publisher: &fakePublisher{}, scheduler: &fakeScheduler{}}

	factory := func(tenantID string) (transport.Transport, error) {
		rig.mu.Lock()
		defer rig.mu.Unlock()
		tr := newFakeTransport()
		if len(rig.transports) < len(startErrs) {
			tr.startErr = startErrs[len(rig.transports)]
		}
		rig.transports = append(rig.transports, tr)
		return tr, nil
	}

	rig.manager = NewManager(factory, rig.publisher, rig.scheduler,
		Limits{MaxQRIssues: 5, MaxReconnectAttempts: 3}, time.Second)
	rig.manager.SetMessageHandler(func(msg InboundMessage) {
		rig.mu.Lock()
		defer rig.mu.Unlock()
		rig.messages = append(rig.messages, msg)
	})
	t.Cleanup(rig.manager.Shutdown)
	return rig
}

func (r *testRig) transport(t *testing.T, i int) *fakeTransport {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.transports) <= i {
		t.Fatalf("transport %d never created (have %d)", i, len(r.transports))
	}
	return r.transports[i]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestRequestConnection_StartsPairing(t *testing.T) {
	rig := newRig(t)

	st, err := rig.manager.RequestConnection("34555")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StatePairing {
		t.Errorf("state = %v", st.State)
	}
	rig.transport(t, 0)
}

func TestRequestConnection_ReplaysUnexpiredQR(t *testing.T) {
	rig := newRig(t)
	rig.manager.RequestConnection("34555")
	rig.transport(t, 0).events <- transport.Event{Kind: transport.KindQR, QR: "code-1"}

	waitFor(t, func() bool { return rig.publisher.named(protocol.EventQRCode) == 1 })

	st, err := rig.manager.RequestConnection("34555")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StatePairing || st.QR != "code-1" {
		t.Errorf("status = %+v, want pairing with replayed QR", st)
	}
	rig.mu.Lock()
	n := len(rig.transports)
	rig.mu.Unlock()
	if n != 1 {
		t.Errorf("%d transports created, want 1", n)
	}
}

func TestRequestConnection_ReadyIsIdempotent(t *testing.T) {
	rig := newRig(t)
	rig.manager.RequestConnection("34555")
	rig.transport(t, 0).events <- transport.Event{Kind: transport.KindReady, SelfID: "34555"}

	waitFor(t, func() bool { return rig.manager.Status("34555") == StateReady })

	st, err := rig.manager.RequestConnection("34555")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateReady || st.QR != "" {
		t.Errorf("status = %+v", st)
	}
	if rig.publisher.named(protocol.EventBotReady) != 1 {
		t.Error("ready not published")
	}
}

func TestManager_StartFailureRemovesEntry(t *testing.T) {
	rig := newRig(t, errors.New("dial refused"))

	if _, err := rig.manager.RequestConnection("34555"); err == nil {
		t.Fatal("want error on start failure")
	}
	if rig.publisher.named(protocol.EventAuthError) != 1 {
		t.Error("auth error not published")
	}
	if rig.manager.Status("34555") != StateIdle {
		t.Error("failed entry not removed")
	}

	// A fresh request retries cleanly.
	if _, err := rig.manager.RequestConnection("34555"); err != nil {
		t.Fatal(err)
	}
	rig.transport(t, 1)
}

func TestManager_QRLimitRemovesEntry(t *testing.T) {
	rig := newRig(t)
	rig.manager.RequestConnection("34555")
	tr := rig.transport(t, 0)

	for i := 1; i <= 5; i++ {
		tr.events <- transport.Event{Kind: transport.KindQR, QR: "code"}
	}
	waitFor(t, func() bool { return rig.publisher.named(protocol.EventQRCode) == 5 })

	tr.events <- transport.Event{Kind: transport.KindQR, QR: "code"}
	waitFor(t, func() bool { return rig.manager.Status("34555") == StateIdle })

	if rig.publisher.named(protocol.EventAuthError) != 1 {
		t.Error("auth error not published on QR exhaustion")
	}
	if !rig.publisher.dropped("34555") {
		t.Error("bus retention not dropped on removal")
	}

	// A fresh request starts a new pairing flow, not a resumed one.
	st, err := rig.manager.RequestConnection("34555")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StatePairing || st.QR != "" {
		t.Errorf("status = %+v, want fresh pairing", st)
	}
	rig.transport(t, 1)
}

func TestManager_FailedPairingLeavesNoRetainedQR(t *testing.T) {
	events := bus.New()
	tr := newFakeTransport()
	factory := func(string) (transport.Transport, error) { return tr, nil }
	m := NewManager(factory, events, &fakeScheduler{},
		Limits{MaxQRIssues: 2, MaxReconnectAttempts: 3}, time.Second)
	t.Cleanup(m.Shutdown)

	m.RequestConnection("34555")
	for i := 0; i < 3; i++ {
		tr.events <- transport.Event{Kind: transport.KindQR, QR: "dead-code"}
	}

	// Once the entry is removed the bus must stop replaying the dead QR to
	// late subscribers.
	waitFor(t, func() bool {
		replayed := false
		events.Subscribe("34555", "late-dashboard", func(string, bus.Event) { replayed = true })
		return m.Status("34555") == StateIdle && !replayed
	})
}

func TestManager_RemoveHandlerRunsOnCleanLogout(t *testing.T) {
	rig := newRig(t)
	var mu sync.Mutex
	var removed []string
	rig.manager.SetRemoveHandler(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		removed = append(removed, id)
	})

	rig.manager.RequestConnection("34555")
	tr := rig.transport(t, 0)
	tr.events <- transport.Event{Kind: transport.KindReady, SelfID: "34555"}
	waitFor(t, func() bool { return rig.manager.Status("34555") == StateReady })

	tr.events <- transport.Event{Kind: transport.KindDisconnected, Reason: "LOGOUT", Clean: true}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(removed) == 1 && removed[0] == "34555"
	})
}

func TestRequestConnection_ConcurrentNeverObservesIdle(t *testing.T) {
	rig := newRig(t)

	const callers = 8
	states := make([]State, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := rig.manager.RequestConnection("34555")
			if err != nil {
				t.Error(err)
				return
			}
			states[i] = st.State
		}(i)
	}
	wg.Wait()

	for i, st := range states {
		if st == StateIdle {
			t.Errorf("caller %d observed an idle entry", i)
		}
	}
	rig.mu.Lock()
	n := len(rig.transports)
	rig.mu.Unlock()
	if n != 1 {
		t.Errorf("%d transports created, want 1", n)
	}
}

func TestManager_CleanLogoutRemovesWithoutReconnect(t *testing.T) {
	rig := newRig(t)
	rig.manager.RequestConnection("34555")
	tr := rig.transport(t, 0)
	tr.events <- transport.Event{Kind: transport.KindReady, SelfID: "34555"}
	waitFor(t, func() bool { return rig.manager.Status("34555") == StateReady })

	tr.events <- transport.Event{Kind: transport.KindDisconnected, Reason: "LOGOUT", Clean: true}
	waitFor(t, func() bool { return rig.manager.Status("34555") == StateIdle })

	rig.scheduler.mu.Lock()
	pending := len(rig.scheduler.fns)
	rig.scheduler.mu.Unlock()
	if pending != 0 {
		t.Error("clean logout scheduled a reconnect")
	}
}

func TestManager_RecoverableDisconnectReconnects(t *testing.T) {
	rig := newRig(t)
	rig.manager.RequestConnection("34555")
	tr := rig.transport(t, 0)
	tr.events <- transport.Event{Kind: transport.KindReady, SelfID: "34555"}
	waitFor(t, func() bool { return rig.manager.Status("34555") == StateReady })

	tr.events <- transport.Event{Kind: transport.KindDisconnected, Reason: "stream closed"}
	waitFor(t, func() bool { return rig.manager.Status("34555") == StateReconnecting })

	rig.scheduler.fire(t)
	waitFor(t, func() bool { return rig.manager.Status("34555") == StatePairing })
	rig.transport(t, 1)
}

func TestManager_MessagesCarrySelfID(t *testing.T) {
	rig := newRig(t)
	rig.manager.RequestConnection("34555")
	tr := rig.transport(t, 0)
	tr.events <- transport.Event{Kind: transport.KindReady, SelfID: "34555"}
	waitFor(t, func() bool { return rig.manager.Status("34555") == StateReady })

	tr.events <- transport.Event{Kind: transport.KindMessage, From: "34666@c.us", Body: "hola", MessageKind: "chat"}
	waitFor(t, func() bool {
		rig.mu.Lock()
		defer rig.mu.Unlock()
		return len(rig.messages) == 1
	})

	rig.mu.Lock()
	msg := rig.messages[0]
	rig.mu.Unlock()
	if msg.TenantID != "34555" || msg.SelfID != "34555" || msg.From != "34666@c.us" || msg.Body != "hola" {
		t.Errorf("message = %+v", msg)
	}
}

func TestManager_SendRequiresReady(t *testing.T) {
	rig := newRig(t)
	rig.manager.RequestConnection("34555")

	if err := rig.manager.Send(context.Background(), "34555", "34666", "hi"); err == nil {
		t.Fatal("send while pairing must fail")
	}

	tr := rig.transport(t, 0)
	tr.events <- transport.Event{Kind: transport.KindReady, SelfID: "34555"}
	waitFor(t, func() bool { return rig.manager.Status("34555") == StateReady })

	if err := rig.manager.Send(context.Background(), "34555", "34666", "hi"); err != nil {
		t.Fatal(err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sends) != 1 || tr.sends[0] != "34666:hi" {
		t.Errorf("sends = %v", tr.sends)
	}
}

func TestManager_ShutdownStopsTransports(t *testing.T) {
	rig := newRig(t)
	rig.manager.RequestConnection("34555")
	tr := rig.transport(t, 0)

	rig.manager.Shutdown()
	waitFor(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.stopped
	})
	if rig.manager.Status("34555") != StateClosed {
		t.Errorf("status = %v, want closed", rig.manager.Status("34555"))
	}
}
