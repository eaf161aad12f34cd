// Package router carries one debounced turn through the backend round trip:
// session lookup, backend call, directive handling, session update.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vnatgroup/wabridge/internal/backend"
	"github.com/vnatgroup/wabridge/internal/directory"
	"github.com/vnatgroup/wabridge/internal/sessions"
)

var tracer = otel.Tracer("wabridge/router")

// Backend is the conversational collaborator. Satisfied by *backend.Client.
type Backend interface {
	Send(ctx context.Context, turn backend.Turn) (backend.Reply, error)
}

// Result is the routed outcome of one turn.
type Result struct {
	// Reply is the text to deliver to the end user. Empty when Silenced.
	Reply string
	// Silenced means no reply must be sent (blacklist directive).
	Silenced bool
}

// Router routes turns between the transport side and the backend.
type Router struct {
	backend  Backend
	registry *sessions.Registry
	dir      directory.Directory
	fallback string
}

func New(b Backend, registry *sessions.Registry, dir directory.Directory, fallback string) *Router {
	return &Router{backend: b, registry: registry, dir: dir, fallback: fallback}
}

// Route sends one turn to the backend and applies its reply. On a blacklist
// directive the user's session is dropped and the user is appended to the
// tenant's blacklist; the turn produces no reply.
func (r *Router) Route(ctx context.Context, tenantID, userID, text string) (Result, error) {
	ctx, span := tracer.Start(ctx, "router.route")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	var token string
	if s, ok := r.registry.Get(tenantID, userID); ok {
		token = s.Token
	}

	reply, err := r.backend.Send(ctx, backend.Turn{
		TenantID:  tenantID,
		UserID:    userID,
		SessionID: token,
		Message:   text,
	})
	if err != nil {
		return Result{}, fmt.Errorf("route turn: %w", err)
	}

	if reply.BlacklistDirective() {
		r.registry.Delete(tenantID, userID)
		if err := r.dir.AppendBlacklist(ctx, tenantID, userID); err != nil {
			// The directive still silences the turn; the operator can add the
			// entry by hand if persistence failed.
			slog.Error("blacklist append failed", "tenant", tenantID, "user", userID, "error", err)
		} else {
			slog.Info("user blacklisted by backend directive", "tenant", tenantID, "user", userID)
		}
		return Result{Silenced: true}, nil
	}

	if reply.SessionID != "" {
		r.registry.Upsert(tenantID, userID, reply.SessionID)
	} else if token != "" {
		// Keep the conversation warm even when the backend does not rotate
		// the token.
		r.registry.Upsert(tenantID, userID, token)
	}

	text = reply.Message
	if strings.TrimSpace(text) == "" {
		text = r.fallback
	}
	return Result{Reply: text}, nil
}
