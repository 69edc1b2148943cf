package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"transferd/internal/models"
)

const (
	writeWait   = 10 * time.Second
	waitTimeout = 60 * time.Second
)

type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	last      []byte
	broadcast chan []byte
	upgrader  websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 16),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run writes broadcast messages to every client until ctx is done, then
// closes all connections.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			h.last = msg
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues msg for every connected client. New clients receive the
// most recent message when they connect.
func (h *Hub) Broadcast(msg models.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	h.broadcast <- data
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) WsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("Client connected", "remote_addr", r.RemoteAddr)
	h.mu.Lock()
	h.clients[conn] = true
	if h.last != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, h.last)
	}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		slog.Info("Client disconnected", "remote_addr", r.RemoteAddr)
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(waitTimeout))
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WS read error", "error", err)
			}
			break
		}
	}
}
