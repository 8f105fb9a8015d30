// Package ws pushes live order status updates to connected admin dashboards.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Dashboard origin validation happens at the reverse proxy.
		return true
	},
}

type OrderStatusUpdate struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Source         string `json:"source"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	Timestamp      string `json:"timestamp"`
}

type client struct {
	conn   *websocket.Conn
	send   chan OrderStatusUpdate
	hub    *Hub
	logger *logrus.Logger
}

type Hub struct {
	clients    map[*client]bool
	broadcast  chan OrderStatusUpdate
	register   chan *client
	unregister chan *client
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan OrderStatusUpdate, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()
			h.logger.WithField("client_count", len(h.clients)).Info("Dashboard client connected")

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			h.logger.WithField("client_count", len(h.clients)).Info("Dashboard client disconnected")

		case update := <-h.broadcast:
			// Mutating the client set needs the write lock so ClientCount
			// readers never observe a partial delete.
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- update:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastOrderStatus fans an order status change out to every connected
// dashboard. Drops the update if the broadcast buffer is full.
func (h *Hub) BroadcastOrderStatus(orderID, status, source, transactionRef string) {
	update := OrderStatusUpdate{
		OrderID:        orderID,
		Status:         status,
		Source:         source,
		TransactionRef: transactionRef,
		Timestamp:      time.Now().Format(time.RFC3339),
	}

	select {
	case h.broadcast <- update:
	default:
		h.logger.Warn("Broadcast channel full, dropping order status update")
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan OrderStatusUpdate, 256),
		hub:    h,
		logger: h.logger,
	}

	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case update, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(update)
			if err != nil {
				c.logger.WithError(err).Error("Failed to marshal order status update")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
