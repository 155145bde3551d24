// Package realtime serves the per-document WebSocket session: presence on
// connect, selection and heartbeat messages from the client, and fan-out of
// document events the client did not cause.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"counsel/api/internal/domain"
	"counsel/api/internal/metrics"
	"counsel/api/internal/presence"
	"counsel/api/internal/pubsub"
	"counsel/api/internal/session"
	"counsel/api/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxPingPeriod  = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// Message types sent only to the connected client.
const (
	MessageReady = "session.ready"
	MessageError = "error"
)

// Message types accepted from the client.
const (
	ClientSelection = "selection"
	ClientHeartbeat = "heartbeat"
)

// Sessions is the coordinator surface the socket needs.
type Sessions interface {
	Join(ctx context.Context, documentID string, p session.Participant, origin string) (presence.Record, error)
	Leave(ctx context.Context, documentID, userID, origin string) bool
	UpdateSelection(ctx context.Context, documentID, userID string, sel *presence.Range, origin string) (presence.Record, error)
	Heartbeat(ctx context.Context, documentID, userID string) (presence.Record, error)
	Presence(ctx context.Context, documentID string) []presence.Record
	Subscribe(ctx context.Context, documentID string, h pubsub.Handler) (func(), error)
}

type Handler struct {
	sessions   Sessions
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewHandler accepts upgrades from allowedOrigin, or from any origin when it is "*" or empty.
func NewHandler(sessions Sessions, allowedOrigin string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:   sessions,
		logger:     logger,
		pingPeriod: maxPingPeriod,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
	}
}

func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// WithPresenceTimeout pings often enough that every open connection answers
// with a heartbeat at least three times per presence timeout.
func (h *Handler) WithPresenceTimeout(timeout time.Duration) *Handler {
	if timeout > 0 {
		h.pingPeriod = min(maxPingPeriod, timeout/3)
	}
	return h
}

type clientMessage struct {
	Type      string          `json:"type"`
	Selection *presence.Range `json:"selection"`
}

type readyPayload struct {
	ConnectionID string            `json:"connectionId"`
	Presence     []presence.Record `json:"presence"`
}

type client struct {
	id          string
	documentID  string
	participant session.Participant
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// enqueue drops the message and reports false when the client is gone or
// too slow to keep up.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Serve joins p to the document and upgrades the request. Errors before the
// upgrade are returned for the caller to render; later failures end the
// connection and are logged.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, documentID string, p session.Participant) error {
	connID := util.NewID("conn")
	if _, err := h.sessions.Join(r.Context(), documentID, p, connID); err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.sessions.Leave(context.Background(), documentID, p.UserID, connID)
		h.logger.Warn("websocket upgrade failed", "document_id", documentID, "error", err)
		return nil
	}
	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	c := &client{
		id:          connID,
		documentID:  documentID,
		participant: p,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
	log := h.logger.With("document_id", documentID, "user_id", p.UserID, "connection_id", connID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unsubscribe, err := h.sessions.Subscribe(ctx, documentID, func(event pubsub.Event) {
		if event.Origin == connID {
			return
		}
		raw, err := json.Marshal(event)
		if err != nil {
			return
		}
		if !c.enqueue(raw) {
			select {
			case <-c.done:
			default:
				log.Warn("realtime client too slow, disconnecting")
				c.close()
				_ = conn.Close()
			}
		}
	})
	if err != nil {
		log.Error("subscribe failed", "error", err)
		h.sessions.Leave(context.Background(), documentID, p.UserID, connID)
		_ = conn.Close()
		return nil
	}

	ready, _ := pubsub.NewEvent(MessageReady, documentID, "", readyPayload{
		ConnectionID: connID,
		Presence:     h.sessions.Presence(r.Context(), documentID),
	})
	raw, _ := json.Marshal(ready)
	c.enqueue(raw)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(c)
	}()

	log.Info("realtime session opened")
	h.readPump(c, log)

	unsubscribe()
	c.close()
	wg.Wait()
	_ = conn.Close()
	h.sessions.Leave(context.Background(), documentID, p.UserID, connID)
	log.Info("realtime session closed")
	return nil
}

func (h *Handler) readPump(c *client, log *slog.Logger) {
	documentID, userID := c.documentID, c.participant.UserID
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if err := h.touch(c); err != nil {
			log.Warn("presence heartbeat failed", "error", err)
		}
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("realtime read ended", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, documentID, "malformed message")
			continue
		}
		switch msg.Type {
		case ClientSelection:
			_, err = h.sessions.UpdateSelection(context.Background(), documentID, userID, msg.Selection, c.id)
		case ClientHeartbeat:
			err = h.touch(c)
		default:
			h.reply(c, documentID, "unknown message type "+msg.Type)
			continue
		}
		if err != nil {
			h.reply(c, documentID, err.Error())
		}
	}
}

// touch refreshes the connection's presence. A record the sweeper already
// dropped is joined again, since the connection is still open.
func (h *Handler) touch(c *client) error {
	ctx := context.Background()
	_, err := h.sessions.Heartbeat(ctx, c.documentID, c.participant.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		_, err = h.sessions.Join(ctx, c.documentID, c.participant, c.id)
	}
	return err
}

func (h *Handler) reply(c *client, documentID, message string) {
	event, err := pubsub.NewEvent(MessageError, documentID, "", map[string]string{"message": message})
	if err != nil {
		return
	}
	raw, _ := json.Marshal(event)
	c.enqueue(raw)
}

func (h *Handler) writePump(c *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
