package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
)

// Frame is one message sent to a connected client.
type Frame struct {
	Kind         string               `json:"kind"`
	Notification *notification.Record `json:"notification,omitempty"`
	Unread       *int                 `json:"unread,omitempty"`
}

type envelope struct {
	recipientID string
	frame       Frame
}

type Client struct {
	hub         *Hub
	conn        *Conn
	send        chan []byte
	recipientID string
}

// Hub fans stored notifications out to the websocket connections of their
// recipients. A recipient may hold several connections.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}
	clients    map[string]map[*Client]bool
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]bool),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.recipientID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.recipientID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			h.drop(c)
		case env := <-h.broadcast:
			msg, err := json.Marshal(env.frame)
			if err != nil {
				h.logger.Error("encode websocket frame", "err", err)
				continue
			}
			for c := range h.clients[env.recipientID] {
				select {
				case c.send <- msg:
				default:
					// Slow reader; it reconnects and refetches.
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	set, ok := h.clients[c.recipientID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.recipientID)
	}
}

// Push implements notification.Pusher. It never blocks the caller: when the
// hub is stopped or its queue is full the frame is dropped.
func (h *Hub) Push(recipientID string, r notification.Record) {
	env := envelope{recipientID: recipientID, frame: Frame{Kind: "notification", Notification: &r}}
	select {
	case h.broadcast <- env:
	case <-h.done:
	default:
		h.logger.Warn("websocket queue full, frame dropped", "recipient_id", recipientID, "type", r.Type)
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
