package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsPingInterval = 15 * time.Second
	// wsQueueSize bounds the requests waiting behind a running turn; beyond it
	// the reader stops reading from the connection.
	wsQueueSize = 4
)

// wsConn serializes writes to a websocket connection.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// writeFailure reports a turn that could not start as an error and finish
// pair so clients fold it like any other stream. It is only called from the
// turn loop, between turns.
func (c *wsConn) writeFailure(err error) error {
	if werr := c.writeJSON(domain.Event{Seq: 1, Type: domain.EventError, Error: err.Error()}); werr != nil {
		return werr
	}
	return c.writeJSON(domain.Event{Seq: 2, Type: domain.EventFinish, FinishReason: domain.FinishError})
}

// handleChatWebSocket runs chat turns over a websocket. Each client frame is
// a chat request and each server frame an event. Turns run one at a time in
// the order their frames arrived.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()
	conn := &wsConn{ws: ws}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Frames arriving during a turn wait here and run after it, so one turn's
	// events are never interleaved with another's.
	requests := make(chan domain.ChatRequest, wsQueueSize)

	// Reader goroutine: receives chat requests.
	go func() {
		defer cancel()
		for {
			var req domain.ChatRequest
			if err := ws.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("WebSocket read error", "error", err)
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case req := <-requests:
			if err := s.runWebSocketTurn(ctx, conn, r, req); err != nil {
				slog.Debug("WebSocket write error", "error", err)
				return
			}
		}
	}
}

func (s *Server) runWebSocketTurn(ctx context.Context, conn *wsConn, r *http.Request, req domain.ChatRequest) error {
	if len(req.Messages) == 0 {
		return conn.writeFailure(errNoMessages)
	}
	resp, err := s.orch.Start(ctx, s.turn(r, req))
	if err != nil {
		slog.Error("Chat turn failed to start", "error", err)
		return conn.writeFailure(err)
	}
	for ev := range resp.Events {
		if err := conn.writeJSON(ev); err != nil {
			return err
		}
	}
	return nil
}
