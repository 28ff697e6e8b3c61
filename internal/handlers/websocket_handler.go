package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"ebs-gateway/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte // owned by the hub
	replies chan []byte // owned by the read loop
}

// WebSocketHandler streams gateway decisions to connected admins. It is a
// gateway.Observer; slow clients lose messages instead of slowing requests.
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	log        *slog.Logger
}

func NewWebSocketHandler(log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Admin routes are already behind a bearer token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Observe queues a decision event for broadcast. Never blocks.
func (h *WebSocketHandler) Observe(ev gateway.Event) {
	message := map[string]interface{}{
		"type":      "decision",
		"data":      ev,
		"timestamp": ev.At.Unix(),
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		h.log.Debug("failed to marshal decision", "error", err)
		return
	}
	select {
	case h.broadcast <- jsonData:
	default:
	}
}

func (h *WebSocketHandler) HandleConnections(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: ws, send: make(chan []byte, sendBuffer), replies: make(chan []byte, 8)}
	select {
	case h.register <- client:
	case <-h.done:
		ws.Close()
		return
	}
	h.log.Debug("WebSocket client registered", "remote", c.Request.RemoteAddr)

	go h.writePump(client)
	h.readPump(client)
}

func (h *WebSocketHandler) readPump(client *wsClient) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	for {
		var msg map[string]interface{}
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var response map[string]interface{}
		switch msg["type"] {
		case "subscribe":
			response = map[string]interface{}{
				"type":      "subscribed",
				"message":   "Successfully subscribed to gateway decisions",
				"timestamp": time.Now().Unix(),
			}
		case "ping":
			response = map[string]interface{}{
				"type": "pong",
				"time": time.Now().Unix(),
			}
		default:
			response = map[string]interface{}{
				"type":      "error",
				"message":   "Unknown message type",
				"timestamp": time.Now().Unix(),
			}
		}
		data, _ := json.Marshal(response)
		select {
		case client.replies <- data:
		default:
		}
	}
}

// writePump is the only writer of client.conn.
func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case reply := <-client.replies:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// RunHub owns the client set until ctx is cancelled.
func (h *WebSocketHandler) RunHub(ctx context.Context) {
	h.log.Info("Starting WebSocket hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("Client registered", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Debug("Client unregistered", "total", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}
