package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"

	gw "github.com/gorilla/websocket"
)

type Conn = gw.Conn

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Lister reads a recipient's notifications; the handler uses it to send the
// unread count on connect.
type Lister interface {
	List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]notification.Record, int, error)
}

type Handler struct {
	hub    *Hub
	lister Lister
	logger *slog.Logger
}

func NewHandler(hub *Hub, lister Lister, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, lister: lister, logger: logger}
}

// ServeWS identifies the recipient by the X-User-ID header, or the user_id
// query parameter for browsers that cannot set headers on upgrade.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	recipientID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if recipientID == "" {
		recipientID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if recipientID == "" {
		http.Error(w, "missing user id", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	client := &Client{
		hub:         h.hub,
		conn:        conn,
		send:        make(chan []byte, 64),
		recipientID: recipientID,
	}

	// The hello frame is queued before registering so it is always first.
	if _, unread, err := h.lister.List(r.Context(), recipientID, true, 1, 0); err == nil {
		if b, err := json.Marshal(Frame{Kind: "hello", Unread: &unread}); err == nil {
			client.send <- b
		}
	}

	if !h.hub.join(client) {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
