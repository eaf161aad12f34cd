package protocol

// Events pushed from the bridge to dashboard clients. All tenant lifecycle
// events are scoped: a client only receives events for tenants it watches.
const (
	// EventQRCode carries a freshly issued pairing QR (payload: tenant_id,
	// qr as a data-URI PNG string, issue counter).
	EventQRCode = "qr.code"

	// EventBotReady signals the tenant's messaging connection is live
	// (payload: tenant_id, ready bool).
	EventBotReady = "bot.ready"

	// EventAuthError reports a pairing or connection failure in human-readable
	// form (payload: tenant_id, reason).
	EventAuthError = "auth.error"
)

// QRCodePayload is the payload of an EventQRCode.
type QRCodePayload struct {
	TenantID string `json:"tenant_id"`
	QR       string `json:"qr"`
	Issue    int    `json:"issue"`
}

// BotReadyPayload is the payload of an EventBotReady.
type BotReadyPayload struct {
	TenantID string `json:"tenant_id"`
	Ready    bool   `json:"ready"`
	SelfID   string `json:"self_id,omitempty"`
}

// AuthErrorPayload is the payload of an EventAuthError.
type AuthErrorPayload struct {
	TenantID string `json:"tenant_id"`
	Reason   string `json:"reason"`
}

// Methods accepted from dashboard clients.
const (
	// MethodQRStart requests a connection for a tenant. If the tenant is
	// already connected the response is ready:true; if a pairing flow holds an
	// unexpired QR it is replayed as an EventQRCode; otherwise a new pairing
	// flow starts and QR codes arrive as events.
	MethodQRStart = "qr.start"

	// MethodTenantStatus returns the lifecycle state for a tenant.
	MethodTenantStatus = "tenant.status"
)
