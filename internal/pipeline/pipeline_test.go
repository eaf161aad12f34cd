package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vnatgroup/wabridge/internal/config"
	"github.com/vnatgroup/wabridge/internal/directory"
	"github.com/vnatgroup/wabridge/internal/filter"
	"github.com/vnatgroup/wabridge/internal/router"
	"github.com/vnatgroup/wabridge/internal/tenant"
)

type fakeSender struct {
	mu    sync.Mutex
	sends []string
}

func (s *fakeSender) Send(_ context.Context, tenantID, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, userID+"|"+text)
	return nil
}

func (s *fakeSender) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sends...)
}

type fakeRouter struct {
	mu     sync.Mutex
	result router.Result
	err    error
	turns  []string
}

func (r *fakeRouter) Route(_ context.Context, tenantID, userID, text string) (router.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, text)
	return r.result, r.err
}

func (r *fakeRouter) turnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

func newPipeline(t *testing.T, rt *fakeRouter, dir *directory.Memory) (*Pipeline, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	p := New(sender, filter.New(dir), rt, config.Default().Replies, 50*time.Millisecond)
	t.Cleanup(p.Stop)
	return p, sender
}

func waitSends(t *testing.T, s *fakeSender, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.all(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("wanted %d sends, got %v", n, s.all())
	return nil
}

func chat(from, body string) tenant.InboundMessage {
	return tenant.InboundMessage{TenantID: "34555", SelfID: "34555", From: from, Body: body, Kind: "chat"}
}

func TestPipeline_RoutesDebouncedTurn(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Reply: "backend says hi"}}
	p, sender := newPipeline(t, rt, directory.NewMemory())

	p.HandleInbound(chat("34666@c.us", "quiero"))
	p.HandleInbound(chat("34666@c.us", "una pizza"))

	got := waitSends(t, sender, 1)
	if got[0] != "34666|backend says hi" {
		t.Errorf("send = %q", got[0])
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.turns) != 1 || rt.turns[0] != "quiero una pizza" {
		t.Errorf("turns = %v, want one coalesced turn", rt.turns)
	}
}

func TestPipeline_IgnoresBroadcastGroupAndSelf(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Reply: "x"}}
	p, sender := newPipeline(t, rt, directory.NewMemory())

	p.HandleInbound(chat("status@broadcast", "story"))
	p.HandleInbound(chat("12345-67890@g.us", "group chatter"))
	p.HandleInbound(chat("34555@c.us", "note to self"))

	time.Sleep(200 * time.Millisecond)
	if rt.turnCount() != 0 {
		t.Error("ignored traffic reached the router")
	}
	if len(sender.all()) != 0 {
		t.Errorf("sends = %v", sender.all())
	}
}

func TestPipeline_BlacklistedSenderIsDropped(t *testing.T) {
	dir := directory.NewMemory()
	dir.SetBlacklist("34555", []string{"34666"})
	rt := &fakeRouter{}
	p, sender := newPipeline(t, rt, dir)

	p.HandleInbound(chat("34666@c.us", "hello?"))

	time.Sleep(200 * time.Millisecond)
	if rt.turnCount() != 0 || len(sender.all()) != 0 {
		t.Error("blacklisted sender was not dropped silently")
	}
}

func TestPipeline_MultimediaGetsWarningWithoutRouting(t *testing.T) {
	rt := &fakeRouter{}
	p, sender := newPipeline(t, rt, directory.NewMemory())

	msg := chat("34666@c.us", "")
	msg.Kind = "audio"
	p.HandleInbound(msg)

	got := waitSends(t, sender, 1)
	if !strings.Contains(got[0], "multimedia") {
		t.Errorf("send = %q, want multimedia warning", got[0])
	}
	if rt.turnCount() != 0 {
		t.Error("multimedia reached the router")
	}
}

func TestPipeline_GreetingShortcutSkipsBackend(t *testing.T) {
	rt := &fakeRouter{}
	p, sender := newPipeline(t, rt, directory.NewMemory())

	p.HandleInbound(chat("34666@c.us", "  HOLA "))

	got := waitSends(t, sender, 1)
	if !strings.Contains(got[0], "34555") {
		t.Errorf("greeting %q does not carry the tenant number", got[0])
	}
	if rt.turnCount() != 0 {
		t.Error("greeting reached the router")
	}
}

func TestPipeline_RouterErrorSendsApology(t *testing.T) {
	rt := &fakeRouter{err: errors.New("backend timeout")}
	p, sender := newPipeline(t, rt, directory.NewMemory())

	p.HandleInbound(chat("34666@c.us", "hello"))

	got := waitSends(t, sender, 1)
	if !strings.Contains(got[0], "riprovare") {
		t.Errorf("send = %q, want the apology", got[0])
	}
}

func TestPipeline_SilencedTurnSendsNothing(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Silenced: true}}
	p, sender := newPipeline(t, rt, directory.NewMemory())

	p.HandleInbound(chat("34666@c.us", "spam"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rt.turnCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if rt.turnCount() != 1 {
		t.Fatal("turn never routed")
	}
	time.Sleep(50 * time.Millisecond)
	if len(sender.all()) != 0 {
		t.Errorf("sends = %v, want none", sender.all())
	}
}
