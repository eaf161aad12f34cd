package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vnatgroup/wabridge/internal/config"
)

const eventBufferSize = 64

// bridgeFrame is the JSON envelope spoken by the WhatsApp bridge process.
type bridgeFrame struct {
	Type   string `json:"type"`
	QR     string `json:"qr,omitempty"`
	Me     string `json:"me,omitempty"`
	Reason string `json:"reason,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Body   string `json:"body,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// BridgeWS is a Transport over a WebSocket connection to the bridge process.
// One instance per tenant; the tenant id is passed as a query parameter so
// the bridge binds the connection to that tenant's device session.
type BridgeWS struct {
	tenantID string
	wsURL    string
	timeout  time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	events   chan Event
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewFactory returns a transport.Factory that dials the configured bridge.
func NewFactory(cfg config.BridgeConfig) Factory {
	timeout := time.Duration(cfg.HandshakeTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(tenantID string) (Transport, error) {
		wsURL, err := bridgeURL(cfg.URL, tenantID)
		if err != nil {
			return nil, err
		}
		return &BridgeWS{
			tenantID: tenantID,
			wsURL:    wsURL,
			timeout:  timeout,
			events:   make(chan Event, eventBufferSize),
		}, nil
	}
}

func bridgeURL(base, tenantID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("bridge url: %w", err)
	}
	q := u.Query()
	q.Set("tenant", tenantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start dials the bridge and begins the read loop.
func (t *BridgeWS) Start(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, t.wsURL, &websocket.DialOptions{
		HTTPClient: &http.Client{Timeout: t.timeout},
	})
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", t.wsURL, err)
	}
	conn.SetReadLimit(1 << 20) // 1MB, QR payloads are data-URI PNGs

	runCtx, runCancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.conn = conn
	t.cancel = runCancel
	t.mu.Unlock()

	slog.Debug("bridge connected", "tenant", t.tenantID, "url", t.wsURL)

	go t.readLoop(runCtx, conn)
	return nil
}

// readLoop translates bridge frames into Events until the connection drops.
// The channel always ends with a KindDisconnected event followed by close,
// so the tenant manager sees every termination exactly once.
func (t *BridgeWS) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(t.events)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.events <- disconnectEvent(ctx, err)
			return
		}

		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("invalid bridge frame", "tenant", t.tenantID, "error", err)
			continue
		}

		switch frame.Type {
		case "qr":
			t.events <- Event{Kind: KindQR, QR: frame.QR}
		case "authenticated":
			t.events <- Event{Kind: KindAuthenticated}
		case "ready":
			t.events <- Event{Kind: KindReady, SelfID: frame.Me}
		case "disconnected":
			// The bridge reports the reason before closing the socket.
			t.events <- Event{
				Kind:   KindDisconnected,
				Reason: frame.Reason,
				Clean:  frame.Reason == "LOGOUT" || frame.Reason == "logout",
			}
			return
		case "message":
			kind := frame.Kind
			if kind == "" {
				kind = MessageKindChat
			}
			t.events <- Event{
				Kind:        KindMessage,
				From:        frame.From,
				Body:        frame.Body,
				MessageKind: kind,
			}
		default:
			slog.Debug("unknown bridge frame type", "tenant", t.tenantID, "type", frame.Type)
		}
	}
}

// disconnectEvent maps a read error to a disconnect. A cancelled context is a
// deliberate local stop and counts as clean.
func disconnectEvent(ctx context.Context, err error) Event {
	if ctx.Err() != nil {
		return Event{Kind: KindDisconnected, Reason: "stopped", Clean: true}
	}
	status := websocket.CloseStatus(err)
	return Event{
		Kind:   KindDisconnected,
		Reason: fmt.Sprintf("connection lost (%d): %v", status, err),
		Clean:  status == websocket.StatusNormalClosure,
	}
}

// Send writes an outbound message frame. Serialized by mutex: the bridge
// socket allows one concurrent writer.
func (t *BridgeWS) Send(ctx context.Context, userID, text string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("bridge not connected for tenant %s", t.tenantID)
	}

	data, err := json.Marshal(bridgeFrame{Type: "send", To: userID, Body: text})
	if err != nil {
		return fmt.Errorf("marshal send frame: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send to bridge: %w", err)
	}
	return nil
}

func (t *BridgeWS) Events() <-chan Event { return t.events }

// Stop closes the connection; the read loop then emits its final disconnect.
func (t *BridgeWS) Stop() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		conn := t.conn
		cancel := t.cancel
		t.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "")
		}
	})
	return nil
}
