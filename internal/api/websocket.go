package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crosslation/redline/core/engine"
	"github.com/crosslation/redline/core/report"
	"github.com/crosslation/redline/internal/logging"
)

// Message types pushed over the progress socket.
const (
	MessageJobUpdate   = "job_update"
	MessageJobComplete = "job_complete"
	MessageJobError    = "job_error"
)

const (
	// writeWait is the deadline for a single outbound frame.
	writeWait = 10 * time.Second
	// pongWait is how long a peer may go silent before its connection
	// is considered dead.
	pongWait = 60 * time.Second
	// pingPeriod must come in under pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound frames; the socket is broadcast-only
	// and expects nothing but control traffic from peers.
	maxMessageSize = 512
)

var (
	// GlobalHub is the shared WebSocket hub for broadcasting job progress.
	GlobalHub *Hub

	// upgrader accepts all origins; the hub is broadcast-only and
	// carries no client-specific state.
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
)

// ProgressMessage is one job progress event sent via WebSocket.
type ProgressMessage struct {
	Type      string                 `json:"type"`            // "job_update", "job_complete", "job_error"
	JobID     string                 `json:"job_id"`          // API job identifier
	State     string                 `json:"state,omitempty"` // engine phase
	Progress  int                    `json:"progress"`        // 0-100
	Message   string                 `json:"message,omitempty"`
	Timestamp string                 `json:"timestamp"` // ISO 8601 timestamp
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast messages out to every connected client. The clients
// map is owned by the Run goroutine; registration, removal, and broadcast
// are all serialized through the channels.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's main loop. It must run on exactly one goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			logging.WebSocketEvent("client_connected", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			logging.WebSocketEvent("client_disconnected", len(h.clients))

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; evict it rather than stall
					// every other peer.
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Broadcast sends a progress message to all connected clients.
func (h *Hub) Broadcast(msg ProgressMessage) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error("failed to marshal progress message", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		logging.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastJobUpdate sends a job progress update to all connected clients.
func BroadcastJobUpdate(jobID string, state engine.State, progress int, message string) {
	if GlobalHub == nil {
		return
	}

	GlobalHub.Broadcast(ProgressMessage{
		Type:     MessageJobUpdate,
		JobID:    jobID,
		State:    string(state),
		Progress: progress,
		Message:  message,
	})
}

// BroadcastJobComplete sends a completion message carrying the job summary.
func BroadcastJobComplete(jobID string, summary report.Summary, output string) {
	if GlobalHub == nil {
		return
	}

	GlobalHub.Broadcast(ProgressMessage{
		Type:     MessageJobComplete,
		JobID:    jobID,
		State:    string(engine.StateDone),
		Progress: 100,
		Message:  "transfer complete",
		Data: map[string]interface{}{
			"applied": summary.Applied,
			"skipped": summary.Skipped,
			"failed":  summary.Failed,
			"output":  output,
		},
	})
}

// BroadcastJobError sends a job failure message to all connected clients.
func BroadcastJobError(jobID, message string) {
	if GlobalHub == nil {
		return
	}

	GlobalHub.Broadcast(ProgressMessage{
		Type:    MessageJobError,
		JobID:   jobID,
		State:   string(engine.StateAborted),
		Message: message,
	})
}

// readPump drains the connection so control frames are processed, and
// unregisters the client when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error("websocket unexpected close", "error", err)
			}
			break
		}
	}
}

// writePump forwards queued messages to the connection and keeps the
// peer alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub evicted this client.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch whatever else is already queued into the frame,
			// newline separated.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket and registers
// clients with the hub.
func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if GlobalHub == nil {
		http.Error(w, "WebSocket hub not initialized", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  GlobalHub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
