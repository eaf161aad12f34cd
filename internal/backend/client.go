// Package backend is the HTTP client for the conversational backend. The
// backend owns all conversation intelligence; this client only carries turns
// to it and normalizes the reply shapes it is known to produce.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vnatgroup/wabridge/internal/config"
)

// blacklistSentinel is the session token value the backend returns when the
// operator has decided this user should be blocked.
const blacklistSentinel = "blacklist"

var tracer = otel.Tracer("wabridge/backend")

// Reply is the normalized backend response to one conversation turn.
type Reply struct {
	// Message is the text to deliver. May be empty; callers substitute the
	// configured fallback.
	Message string
	// SessionID is the continuity token for the next turn of this
	// conversation. Empty means the backend did not rotate the token.
	SessionID string
}

// BlacklistDirective reports whether the backend ordered the sender blocked
// instead of answering.
func (r Reply) BlacklistDirective() bool {
	return strings.EqualFold(r.SessionID, blacklistSentinel)
}

// Client calls the conversational backend over HTTP.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// New creates a Client from config. The timeout bounds the whole exchange,
// the backend routinely takes tens of seconds on long LLM turns.
func New(cfg config.BackendConfig, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: timeout},
	}
}

// Turn is one debounced conversation turn bound for the backend.
type Turn struct {
	// TenantID is the tenant's outward identity (its phone number).
	TenantID string
	// UserID is the normalized end-user identity.
	UserID string
	// SessionID is the prior continuity token, empty on a fresh conversation.
	SessionID string
	// Message is the joined text of the turn.
	Message string
}

// Send posts one turn and returns the normalized reply. All turn fields
// travel as query parameters; the shape is fixed by the deployed backend.
func (c *Client) Send(ctx context.Context, turn Turn) (Reply, error) {
	ctx, span := tracer.Start(ctx, "backend.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", turn.TenantID),
		attribute.Int("message.len", len(turn.Message)),
	)

	q := url.Values{}
	q.Set("final_user", turn.UserID)
	q.Set("customer", turn.TenantID)
	if turn.SessionID != "" {
		q.Set("sess_id", turn.SessionID)
	}
	q.Set("message", turn.Message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Reply{}, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, fmt.Errorf("backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetStatus(codes.Error, resp.Status)
		return Reply{}, fmt.Errorf("backend: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("backend: read response: %w", err)
	}

	reply, err := decodeReply(data)
	if err != nil {
		return Reply{}, err
	}
	span.SetAttributes(attribute.Bool("reply.blacklist", reply.BlacklistDirective()))
	return reply, nil
}

// wireReply covers the response shapes the backend has shipped over time.
// Older deployments answer {risposta}, newer ones {message} or a nested
// {outputCustomer: {message}}.
type wireReply struct {
	Message        string `json:"message"`
	Risposta       string `json:"risposta"`
	SessID         string `json:"sess_id"`
	SessionID      string `json:"session_id"`
	OutputCustomer *struct {
		Message string `json:"message"`
		SessID  string `json:"sess_id"`
	} `json:"outputCustomer"`
}

func decodeReply(data []byte) (Reply, error) {
	var w wireReply
	if err := json.Unmarshal(data, &w); err != nil {
		// Some error paths answer plain text. Treat it as the message so the
		// user still gets something rather than a dropped turn.
		text := strings.TrimSpace(string(data))
		if text == "" {
			return Reply{}, fmt.Errorf("backend: empty response")
		}
		return Reply{Message: text}, nil
	}

	r := Reply{Message: w.Message, SessionID: firstNonEmpty(w.SessID, w.SessionID)}
	if r.Message == "" {
		r.Message = w.Risposta
	}
	if w.OutputCustomer != nil {
		if r.Message == "" {
			r.Message = w.OutputCustomer.Message
		}
		if r.SessionID == "" {
			r.SessionID = w.OutputCustomer.SessID
		}
	}
	return r, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
