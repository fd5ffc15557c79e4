package services

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only ever send pings
	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

// Client is one change-feed connection of a user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
	}
}

// Serve registers the client and starts its pumps.
func (c *Client) Serve() {
	c.hub.Register(c)
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump answers ping events and detects disconnects. Clients cannot
// publish; anything other than a ping is ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", zap.Int64("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var ev api.Event
		if err := json.Unmarshal(message, &ev); err != nil || ev.Type != api.EventPing {
			continue
		}

		pong, err := api.NewEvent(api.EventPong, map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)})
		if err != nil {
			continue
		}
		data, err := json.Marshal(pong)
		if err != nil {
			continue
		}
		c.hub.deliver(c, data)
	}
}

// WritePump writes queued events to the connection. Events queued while a
// write is in progress are batched into one frame, one per line.
func (c *Client) WritePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
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

type delivery struct {
	userID  int64
	client  *Client
	message []byte
}

// Hub fans change-feed events out to the connections of the user they
// belong to. All client bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[int64]map[*Client]bool
	deliveries chan delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		deliveries: make(chan delivery, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish sends ev to every connection of userID. Events published after
// the hub stopped are dropped.
func (h *Hub) Publish(userID int64, ev api.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	select {
	case h.deliveries <- delivery{userID: userID, message: data}:
	case <-h.done:
	}
}

func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case h.deliveries <- delivery{client: client, message: data}:
	case <-h.done:
	}
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Run is the hub's main loop. It closes every connection when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.count.Store(0)
			for _, set := range h.clients {
				for client := range set {
					close(client.send)
				}
			}
			h.clients = make(map[int64]map[*Client]bool)
			return

		case client := <-h.register:
			set := h.clients[client.userID]
			if set == nil {
				set = make(map[*Client]bool)
				h.clients[client.userID] = set
			}
			set[client] = true
			h.count.Add(1)
			h.logger.Debug("client connected", zap.Int64("user_id", client.userID), zap.Int("connections", len(set)))

		case client := <-h.unregister:
			h.remove(client)

		case d := <-h.deliveries:
			if d.client != nil {
				if h.clients[d.client.userID][d.client] {
					h.send(d.client, d.message)
				}
				continue
			}
			for client := range h.clients[d.userID] {
				h.send(client, d.message)
			}
		}
	}
}

// send drops clients whose buffer is full; they are too slow to keep up.
func (h *Hub) send(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		h.logger.Warn("client send buffer full, disconnecting", zap.Int64("user_id", client.userID))
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	set := h.clients[client.userID]
	if !set[client] {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
	close(client.send)
	h.count.Add(-1)
	h.logger.Debug("client disconnected", zap.Int64("user_id", client.userID))
}
