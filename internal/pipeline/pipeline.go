// Package pipeline wires one tenant's inbound messages through filtering,
// debouncing and routing, and delivers the replies back over the transport.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vnatgroup/wabridge/internal/config"
	"github.com/vnatgroup/wabridge/internal/debounce"
	"github.com/vnatgroup/wabridge/internal/directory"
	"github.com/vnatgroup/wabridge/internal/filter"
	"github.com/vnatgroup/wabridge/internal/router"
	"github.com/vnatgroup/wabridge/internal/tenant"
	"github.com/vnatgroup/wabridge/internal/transport"
)

// Sender delivers outbound text over a tenant's connection. Satisfied by
// *tenant.Manager.
type Sender interface {
	Send(ctx context.Context, tenantID, userID, text string) error
}

// Router routes one debounced turn. Satisfied by *router.Router.
type Router interface {
	Route(ctx context.Context, tenantID, userID, text string) (router.Result, error)
}

// Pipeline is the inbound message path for every tenant.
type Pipeline struct {
	sender Sender
	filter *filter.AccessFilter
	router Router
	buffer *debounce.Buffer

	mu      sync.RWMutex
	replies config.RepliesConfig
}

// New creates the pipeline and its debounce buffer with the given quiet period.
func New(sender Sender, f *filter.AccessFilter, r Router, replies config.RepliesConfig, window time.Duration) *Pipeline {
	p := &Pipeline{
		sender:  sender,
		filter:  f,
		router:  r,
		replies: replies,
	}
	p.buffer = debounce.New(window, p.flush)
	return p
}

// Stop discards buffered messages and cancels pending timers.
func (p *Pipeline) Stop() { p.buffer.Stop() }

// UpdateReplies swaps the fixed reply texts. Used by config hot reload.
func (p *Pipeline) UpdateReplies(replies config.RepliesConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = replies
}

func (p *Pipeline) currentReplies() config.RepliesConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.replies
}

// DropTenant discards the tenant's buffered messages.
func (p *Pipeline) DropTenant(tenantID string) { p.buffer.DropTenant(tenantID) }

// HandleInbound is the tenant manager's message handler.
func (p *Pipeline) HandleInbound(msg tenant.InboundMessage) {
	if ignorable(msg) {
		return
	}

	ctx := context.Background()
	user := directory.Normalize(msg.From)

	if verdict := p.filter.Check(ctx, msg.TenantID, user); verdict != filter.Allow {
		slog.Info("message dropped", "tenant", msg.TenantID, "user", user, "verdict", verdict)
		return
	}

	replies := p.currentReplies()

	if msg.Kind != transport.MessageKindChat {
		p.send(ctx, msg.TenantID, user, replies.MultimediaWarning)
		return
	}

	if isGreeting(msg.Body) {
		p.send(ctx, msg.TenantID, user, fmt.Sprintf(replies.Greeting, msg.SelfID))
		return
	}

	p.buffer.Append(msg.TenantID, user, msg.Body)
}

// flush runs when a user's quiet period elapses: one coalesced turn goes to
// the backend and the reply (or the apology on failure) goes back out.
func (p *Pipeline) flush(ctx context.Context, tenantID, userID, text string) {
	res, err := p.router.Route(ctx, tenantID, userID, text)
	if err != nil {
		slog.Error("turn failed", "tenant", tenantID, "user", userID, "error", err)
		p.send(ctx, tenantID, userID, p.currentReplies().Apology)
		return
	}
	if res.Silenced {
		return
	}
	p.send(ctx, tenantID, userID, res.Reply)
}

func (p *Pipeline) send(ctx context.Context, tenantID, userID, text string) {
	if err := p.sender.Send(ctx, tenantID, userID, text); err != nil {
		slog.Error("reply delivery failed", "tenant", tenantID, "user", userID, "error", err)
	}
}

// ignorable drops traffic that must never enter the conversation path:
// status broadcasts, group chats, and the account talking to itself.
func ignorable(msg tenant.InboundMessage) bool {
	from := strings.TrimSpace(msg.From)
	switch {
	case from == "", from == "status@broadcast":
		return true
	case strings.HasSuffix(from, "@g.us"):
		return true
	case msg.SelfID != "" && directory.Normalize(from) == directory.Normalize(msg.SelfID):
		return true
	}
	return false
}

// isGreeting matches a bare hello, answered locally without a backend call.
func isGreeting(body string) bool {
	return strings.EqualFold(strings.TrimSpace(body), "hola")
}
