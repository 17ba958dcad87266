package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/neurocare-ai/eeg-assist/internal/middleware"
	"github.com/neurocare-ai/eeg-assist/internal/transport"
	"github.com/neurocare-ai/eeg-assist/pkg/metrics"
)

// wsConn wraps a websocket connection with a write lock and per-connection
// session bookkeeping. Generation streams write concurrently with control
// replies, so every write goes through writeFrame.
type wsConn struct {
	conn *websocket.Conn

	mu      sync.Mutex
	joined  map[string]bool
	running map[string]context.CancelFunc // session id -> generation cancel
}

func (c *wsConn) writeFrame(event string, data interface{}) error {
	frame, err := transport.MarshalFrame(event, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// handleWS handles GET /ws: the realtime side of the contract. Each inbound
// frame is a control message; generation streams run as goroutines writing
// assistant_update frames back on the same connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	metrics.WSConnectionsActive.Inc()
	defer metrics.WSConnectionsActive.Dec()

	c := &wsConn{
		conn:    conn,
		joined:  make(map[string]bool),
		running: make(map[string]context.CancelFunc),
	}
	defer func() {
		c.mu.Lock()
		for _, cancel := range c.running {
			cancel()
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		var frame transport.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("websocket read error", "error", err)
			}
			return
		}

		switch frame.Event {
		case transport.FrameJoin:
			var d transport.SessionData
			if err := unmarshalData(frame, &d); err != nil {
				continue
			}
			c.mu.Lock()
			c.joined[d.SessionID] = true
			c.mu.Unlock()

		case transport.FrameLeave:
			var d transport.SessionData
			if err := unmarshalData(frame, &d); err != nil {
				continue
			}
			c.mu.Lock()
			delete(c.joined, d.SessionID)
			if cancel, ok := c.running[d.SessionID]; ok {
				cancel()
				delete(c.running, d.SessionID)
			}
			c.mu.Unlock()

		case transport.FrameStart:
			var p transport.StartParams
			if err := unmarshalData(frame, &p); err != nil {
				continue
			}
			s.startGeneration(c, p)

		default:
			s.log.Debug("unhandled frame", "event", frame.Event)
		}
	}
}

// startGeneration validates a start_assistant request and spawns the
// generation stream.
func (s *Server) startGeneration(c *wsConn, p transport.StartParams) {
	if _, err := middleware.ParseToken(s.cfg.JWTSecret, p.Token); err != nil {
		_ = c.writeFrame(transport.FrameError, transport.ErrorData{
			SessionID: p.SessionID,
			Error:     "invalid token",
		})
		return
	}

	c.mu.Lock()
	joined := c.joined[p.SessionID]
	_, alreadyRunning := c.running[p.SessionID]
	c.mu.Unlock()

	if !joined {
		_ = c.writeFrame(transport.FrameError, transport.ErrorData{
			SessionID: p.SessionID,
			Error:     "session not joined",
		})
		return
	}
	if alreadyRunning {
		return
	}

	sess, ok := s.lookupSession(p.SessionID)
	if !ok {
		_ = c.writeFrame(transport.FrameError, transport.ErrorData{
			SessionID: p.SessionID,
			Error:     "unknown session",
		})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.running[p.SessionID] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.running, p.SessionID)
			c.mu.Unlock()
			cancel()
		}()
		s.generate(ctx, c, sess)
	}()
}

func unmarshalData(frame transport.Frame, out interface{}) error {
	return json.Unmarshal(frame.Data, out)
}
