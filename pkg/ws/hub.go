// Package ws fans derived view-model updates out to every connected
// dispatcher/admin viewer.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Viewer-facing message types.
const (
	MsgTypeInit             = "init"              // fleet snapshot + clusters on join
	MsgTypeClusterUpdate    = "cluster_update"    // recomputed clusters
	MsgTypeConnectionUpdate = "connection_update" // upstream state/quality change
	MsgTypeError            = "error"
)

// Message is the envelope for every frame sent to viewers.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InitData is the first frame a newly joined viewer receives.
type InitData struct {
	Drivers    interface{} `json:"drivers"`
	Clusters   interface{} `json:"clusters"`
	Connection interface{} `json:"connection"`
}

// Client is one connected viewer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected viewers and broadcasts to all of them.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	getInitData func() *InitData
}

// NewHub creates a hub; call Run in a goroutine.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetInitDataProvider installs the callback that builds the join payload.
func (h *Hub) SetInitDataProvider(provider func() *InitData) {
	h.getInitData = provider
}

// Run owns the client set until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("viewer connected", zap.Int("total_viewers", len(h.clients)))

			h.sendInitData(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("viewer disconnected", zap.Int("total_viewers", len(h.clients)))

		case message := <-h.broadcast:
			// Write lock: evicting a slow consumer mutates the client set.
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop the connection rather than block.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// sendInitData pushes the join payload to a fresh viewer.
func (h *Hub) sendInitData(client *Client) {
	if h.getInitData == nil {
		h.logger.Warn("no init data provider set")
		return
	}

	initData := h.getInitData()
	if initData == nil {
		return
	}

	data, err := json.Marshal(Message{Type: MsgTypeInit, Data: initData})
	if err != nil {
		h.logger.Error("marshal init data", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("init data dropped, viewer buffer full")
	}
}

// Broadcast sends a raw frame to all viewers.
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// BroadcastMessage sends a typed frame to all viewers.
func (h *Hub) BroadcastMessage(msgType string, data interface{}) {
	jsonData, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("marshal broadcast message", zap.Error(err))
		return
	}
	h.Broadcast(jsonData)
}

// BroadcastClusters pushes a recomputed cluster set.
func (h *Hub) BroadcastClusters(clusters interface{}) {
	h.BroadcastMessage(MsgTypeClusterUpdate, clusters)
}

// BroadcastConnection pushes an upstream connection status change.
func (h *Hub) BroadcastConnection(status interface{}) {
	h.BroadcastMessage(MsgTypeConnectionUpdate, status)
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Register adds the client to the hub.
func (c *Client) Register() {
	c.hub.register <- c
}

// Unregister removes the client from the hub.
func (c *Client) Unregister() {
	c.hub.unregister <- c
}

// ReadPump drains inbound frames to keep the connection alive; viewers are
// read-only consumers here.
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump sends buffered frames until the client goes away.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
