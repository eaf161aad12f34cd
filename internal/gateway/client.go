package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vnatgroup/wabridge/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// Client is one connected dashboard.
type Client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	limiter *rate.Limiter

	send      chan interface{}
	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	var limiter *rate.Limiter
	if rpm := s.cfg.RateLimitRPM; rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5)
	}
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		server:  s,
		limiter: limiter,
		send:    make(chan interface{}, sendBuffer),
		closed:  make(chan struct{}),
	}
}

// Run pumps frames until the connection drops or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("client read error", "id", c.id, "error", err)
			}
			return
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil || req.Type != protocol.FrameTypeRequest {
			c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "malformed request frame"))
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrRateLimited, "too many requests"))
			continue
		}

		c.server.router.Dispatch(ctx, c, &req)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Debug("client write failed", "id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// SendEvent queues an event frame. Drops the frame if the client is backed up
// rather than blocking the publisher.
func (c *Client) SendEvent(ev protocol.EventFrame) {
	select {
	case c.send <- ev:
	case <-c.closed:
	default:
		slog.Warn("client send buffer full, dropping event", "id", c.id, "event", ev.Event)
	}
}

// SendResponse queues a response frame.
func (c *Client) SendResponse(res *protocol.ResponseFrame) {
	select {
	case c.send <- res:
	case <-c.closed:
	}
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}
