package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/eventbus"
)

// Message types pushed to websocket clients.
const (
	MessageConnected            = "connected"
	MessageFlashLog             = "flash_log"
	MessageFlashProgress        = "flash_progress"
	MessageInstallationComplete = "installation_complete"
	MessageInstallationStatus   = "installation_status"
	MessagePong                 = "pong"
)

// Message is one websocket frame.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FlashLogData is the payload of a flash_log message.
type FlashLogData struct {
	Message   string `json:"message"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

// ProgressData is the payload of a flash_progress message.
type ProgressData struct {
	Progress int `json:"progress"`
}

// CompletionData is the payload of installation messages.
type CompletionData struct {
	Success    bool   `json:"success"`
	InProgress bool   `json:"in_progress,omitempty"`
	Message    string `json:"message"`
}

// Client represents a WebSocket client
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// directMessage is addressed to one client only.
type directMessage struct {
	client  *Client
	payload []byte
}

// Hub fans workflow events out to every connected websocket client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	reply      chan directMessage
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	done       chan struct{}

	// greet returns the messages a new client receives after "connected".
	greet func() []Message
}

// NewHub creates a hub. originAllowed validates the Origin header on
// upgrade requests; requests without one are accepted.
func NewHub(originAllowed func(string) bool, greet func() []Message) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		reply:      make(chan directMessage, 16),
		done:       make(chan struct{}),
		greet:      greet,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if originAllowed != nil {
					return originAllowed(origin)
				}
				return false
			},
		},
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run serves registrations and broadcasts until ctx ends, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.sendGreeting(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case m := <-h.reply:
			h.mu.RLock()
			if _, ok := h.clients[m.client]; ok {
				select {
				case m.client.send <- m.payload:
				default:
				}
			}
			h.mu.RUnlock()

		case payload := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Client's send channel is full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Forward relays workflow events from bus until ctx ends.
func (h *Hub) Forward(ctx context.Context, bus *eventbus.Bus, wg *sync.WaitGroup) {
	logs := eventbus.SubscribeTo(bus, eventbus.Flash.Log, eventbus.WithSubscriptionName("ws_log"), eventbus.WithContext(ctx))
	progress := eventbus.SubscribeTo(bus, eventbus.Flash.Progress, eventbus.WithSubscriptionName("ws_progress"), eventbus.WithContext(ctx))
	done := eventbus.SubscribeTo(bus, eventbus.Flash.InstallComplete, eventbus.WithSubscriptionName("ws_install"), eventbus.WithContext(ctx))

	wg.Add(3)
	go eventbus.ConsumeEnvelope(ctx, logs, wg, func(env eventbus.TypedEnvelope[eventbus.LogEvent]) {
		at := env.Payload.Timestamp
		if at.IsZero() {
			at = env.Timestamp
		}
		h.Broadcast(MessageFlashLog, FlashLogData{
			Message:   env.Payload.Message,
			Level:     string(env.Payload.Level),
			Timestamp: at.Format(time.RFC3339),
		})
	})
	go eventbus.Consume(ctx, progress, wg, func(ev eventbus.ProgressEvent) {
		h.Broadcast(MessageFlashProgress, ProgressData{Progress: ev.Percent})
	})
	go eventbus.Consume(ctx, done, wg, func(ev eventbus.InstallCompleteEvent) {
		h.Broadcast(MessageInstallationComplete, CompletionData{Success: ev.Success, Message: ev.Message})
	})
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msgType string, data any) {
	payload, err := encodeMessage(msgType, data)
	if err != nil {
		log.Printf("[WebSocket] marshal %s: %v", msgType, err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		log.Printf("[WebSocket] broadcast queue full, dropping %s", msgType)
	}
}

// HandleWebSocket handles WebSocket connection upgrades
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] upgrade error: %v", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) sendGreeting(client *Client) {
	msgs := []Message{{Type: MessageConnected, Data: map[string]string{"data": "Connected to BomberCat flasher"}}}
	if h.greet != nil {
		msgs = append(msgs, h.greet()...)
	}
	for _, m := range msgs {
		payload, err := encodeMessage(m.Type, m.Data)
		if err != nil {
			continue
		}
		select {
		case client.send <- payload:
		default:
		}
	}
}

func encodeMessage(msgType string, data any) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Data: data, Timestamp: time.Now()})
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongTimeout))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] client %s: %v", c.id, err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[WebSocket] client %s sent invalid message: %v", c.id, err)
			continue
		}

		switch msg.Type {
		case "ping":
			if payload, err := encodeMessage(MessagePong, nil); err == nil {
				select {
				case c.hub.reply <- directMessage{client: c, payload: payload}:
				case <-c.hub.done:
					return
				}
			}
		}
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
