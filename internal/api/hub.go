// hub.go bridges the in-process bus to WebSocket clients. A client
// subscribes per channel with {"action":"subscribe","channel":"market:{id}:orderbook"}
// (or :price) and receives the normalized events the stream service
// publishes, in publish order per channel.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"market-intel/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware on the HTTP
	// side; the upgrade itself accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub tracks connected WebSocket clients.
type Hub struct {
	bus     *bus.Bus
	mu      sync.Mutex
	clients map[*wsClient]bool
	log     zerolog.Logger
}

// NewHub creates the hub.
func NewHub(b *bus.Bus, log zerolog.Logger) *Hub {
	return &Hub{
		bus:     b,
		clients: make(map[*wsClient]bool),
		log:     log.With().Str("component", "ws_hub").Logger(),
	}
}

// HandleWebSocket upgrades a connection and starts its pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		sub:  h.bus.Subscribe(),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Int("clients", count).Msg("client connected")

	go client.writePump()
	go client.readPump()
}

// Close drops every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
	}
	h.clients = make(map[*wsClient]bool)
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.bus.Unsubscribe(client.sub)
	h.log.Info().Int("clients", count).Msg("client disconnected")
}

// wsClient is one connected terminal session.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	sub  *bus.Subscription
}

// clientMsg is the inbound control message shape.
type clientMsg struct {
	Action  string `json:"action"` // subscribe | unsubscribe
	Channel string `json:"channel"`
}

// readPump consumes subscription control messages.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(data, &msg); err != nil || msg.Channel == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.sub.Add(msg.Channel)
		case "unsubscribe":
			c.sub.Remove(msg.Channel)
		}
	}
}

// writePump streams bus events to the socket.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the bus (slow consumer) or hub shutdown.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
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
