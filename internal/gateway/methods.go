package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/vnatgroup/wabridge/internal/tenant"
	"github.com/vnatgroup/wabridge/pkg/protocol"
)

// MethodHandler handles one named request method.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter dispatches request frames by method name.
type MethodRouter struct {
	server   *Server
	handlers map[string]MethodHandler
}

// NewMethodRouter registers the built-in methods.
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{server: s, handlers: make(map[string]MethodHandler)}
	r.Register(protocol.MethodQRStart, r.handleQRStart)
	r.Register(protocol.MethodTenantStatus, r.handleTenantStatus)
	return r
}

// Register adds a handler for a method name.
func (r *MethodRouter) Register(method string, h MethodHandler) {
	r.handlers[method] = h
}

// Dispatch routes one request to its handler.
func (r *MethodRouter) Dispatch(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	h, ok := r.handlers[req.Method]
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "unknown method: "+req.Method))
		return
	}
	h(ctx, client, req)
}

type tenantParams struct {
	TenantID string `json:"tenant_id"`
}

func parseTenantParams(req *protocol.RequestFrame) (tenantParams, bool) {
	var params tenantParams
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	return params, params.TenantID != ""
}

// handleQRStart connects a tenant and subscribes the caller to its lifecycle
// events. Already-connected tenants answer ready immediately; a pairing flow
// with an unexpired QR replays it instead of starting a second transport.
func (r *MethodRouter) handleQRStart(_ context.Context, client *Client, req *protocol.RequestFrame) {
	params, ok := parseTenantParams(req)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "tenant_id is required"))
		return
	}

	// Subscribe before requesting: the first QR may fire during the request
	// and must not be missed. The bus replays a retained QR on subscribe.
	r.server.watchTenant(client, params.TenantID)

	status, err := r.server.conns.RequestConnection(params.TenantID)
	if err != nil {
		slog.Error("connection request failed", "tenant", params.TenantID, "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}

	payload := map[string]any{
		"tenant_id": params.TenantID,
		"state":     status.State.String(),
		"ready":     status.State == tenant.StateReady,
	}
	if status.QR != "" {
		payload["qr"] = status.QR
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, payload))
}

// handleTenantStatus reports the tenant's lifecycle state.
func (r *MethodRouter) handleTenantStatus(_ context.Context, client *Client, req *protocol.RequestFrame) {
	params, ok := parseTenantParams(req)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "tenant_id is required"))
		return
	}

	state := r.server.conns.Status(params.TenantID)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"tenant_id": params.TenantID,
		"state":     state.String(),
		"ready":     state == tenant.StateReady,
	}))
}
