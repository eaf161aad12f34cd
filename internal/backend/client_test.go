package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vnatgroup/wabridge/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.BackendConfig{URL: srv.URL, AuthToken: "secret"}, 5*time.Second)
}

func TestSend_CarriesTurnAsQueryParams(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got = map[string]string{
			"final_user": q.Get("final_user"),
			"customer":   q.Get("customer"),
			"sess_id":    q.Get("sess_id"),
			"message":    q.Get("message"),
			"auth":       r.Header.Get("Authorization"),
			"method":     r.Method,
		}
		w.Write([]byte(`{"message":"hola","sess_id":"abc"}`))
	})

	reply, err := c.Send(context.Background(), Turn{
		TenantID:  "34555",
		UserID:    "34666",
		SessionID: "prev",
		Message:   "hello world",
	})
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{
		"final_user": "34666",
		"customer":   "34555",
		"sess_id":    "prev",
		"message":    "hello world",
		"auth":       "Bearer secret",
		"method":     http.MethodPost,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if reply.Message != "hola" || reply.SessionID != "abc" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestSend_OmitsEmptySessionID(t *testing.T) {
	var hasSess bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hasSess = r.URL.Query().Has("sess_id")
		w.Write([]byte(`{"message":"ok"}`))
	})

	if _, err := c.Send(context.Background(), Turn{TenantID: "t", UserID: "u", Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if hasSess {
		t.Error("fresh conversation must not carry a sess_id param")
	}
}

func TestSend_NonOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := c.Send(context.Background(), Turn{Message: "x"}); err == nil {
		t.Fatal("want error on 500")
	}
}

func TestDecodeReply_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantMsg  string
		wantSess string
	}{
		{"message field", `{"message":"hi","sess_id":"s1"}`, "hi", "s1"},
		{"risposta field", `{"risposta":"ciao","sess_id":"s2"}`, "ciao", "s2"},
		{"nested outputCustomer", `{"outputCustomer":{"message":"deep","sess_id":"s3"}}`, "deep", "s3"},
		{"session_id alias", `{"message":"hi","session_id":"s4"}`, "hi", "s4"},
		{"plain text", `understood`, "understood", ""},
		{"empty message", `{"sess_id":"s5"}`, "", "s5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := decodeReply([]byte(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if r.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", r.Message, tt.wantMsg)
			}
			if r.SessionID != tt.wantSess {
				t.Errorf("session = %q, want %q", r.SessionID, tt.wantSess)
			}
		})
	}
}

func TestBlacklistDirective(t *testing.T) {
	if !(Reply{SessionID: "blacklist"}).BlacklistDirective() {
		t.Error("blacklist sentinel not detected")
	}
	if !(Reply{SessionID: "BLACKLIST"}).BlacklistDirective() {
		t.Error("sentinel should match case-insensitively")
	}
	if (Reply{SessionID: "sess-1"}).BlacklistDirective() {
		t.Error("ordinary token flagged as directive")
	}
}
