// Package gateway is the dashboard-facing WebSocket server. Operators connect
// to /ws, request tenant connections and watch tenant-scoped lifecycle events
// (QR codes, readiness, failures).
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vnatgroup/wabridge/internal/bus"
	"github.com/vnatgroup/wabridge/internal/config"
	"github.com/vnatgroup/wabridge/internal/tenant"
	"github.com/vnatgroup/wabridge/pkg/protocol"
)

// Connections is the tenant manager surface the gateway needs.
type Connections interface {
	RequestConnection(tenantID string) (tenant.ConnectionStatus, error)
	Status(tenantID string) tenant.State
}

// Server handles WebSocket and HTTP connections from dashboards.
type Server struct {
	cfg    config.GatewayConfig
	events *bus.Bus
	conns  Connections
	router *MethodRouter

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
}

// NewServer creates a gateway server.
func NewServer(cfg config.GatewayConfig, events *bus.Bus, conns Connections) *Server {
	s := &Server{
		cfg:     cfg,
		events:  events,
		conns:   conns,
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = NewMethodRouter(s)
	return s
}

// checkOrigin validates the Origin header against the configured whitelist.
// No configured origins means allow all; an empty Origin header (non-browser
// clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("origin rejected", "origin", origin)
	return false
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.buildMux(),
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.events.UnsubscribeAll(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// watchTenant subscribes the client to one tenant's lifecycle events. A QR
// retained from an in-flight pairing is replayed by the bus on subscribe.
func (s *Server) watchTenant(c *Client, tenantID string) {
	s.events.Subscribe(tenantID, c.id, func(_ string, ev bus.Event) {
		c.SendEvent(*protocol.NewEvent(ev.Name, ev.Payload))
	})
}

// StartTestServer listens on a random local port. Integration tests only.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: s.buildMux()}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
