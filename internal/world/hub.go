// Package world holds the in-process stand-ins for the game engine: player
// positions, platform terrain and message delivery to connected clients.
package world

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"sats-arena/internal/domain"
)

const (
	MsgChat = "chat"
	MsgUI   = "ui"
)

// Message is the frame sent to a client.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type ChatPayload struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// Client is the outbound queue of one connection. When the queue is full the
// oldest message is discarded so a slow reader never stalls the tick loop.
type Client struct {
	ID      string
	send    chan Message
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Messages is drained by the connection writer.
func (c *Client) Messages() <-chan Message { return c.send }

// Done is closed once the client is replaced or unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

// Dropped reports how many messages were discarded.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

func (c *Client) push(msg Message) {
	for {
		select {
		case c.send <- msg:
			return
		default:
		}
		select {
		case <-c.send:
			c.dropped.Add(1)
		default:
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub routes chat lines and UI events to player connections. It implements app.Notifier.
type Hub struct {
	buffer int
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		buffer:  buffer,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Register attaches a connection for playerID, replacing any previous one.
func (h *Hub) Register(playerID string) *Client {
	c := &Client{
		ID:   playerID,
		send: make(chan Message, h.buffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	old := h.clients[playerID]
	h.clients[playerID] = c
	h.mu.Unlock()
	if old != nil {
		h.logger.Info("connection replaced", "player", playerID)
		old.close()
	}
	return c
}

// Unregister detaches c. It reports false if c had already been replaced.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	current, ok := h.clients[c.ID]
	if ok && current == c {
		delete(h.clients, c.ID)
	}
	h.mu.Unlock()
	c.close()
	return ok && current == c
}

func (h *Hub) Chat(playerID, text, color string) {
	h.send(playerID, Message{Type: MsgChat, Payload: ChatPayload{Text: text, Color: color}})
}

func (h *Hub) UI(playerID string, ev domain.UIEvent) {
	h.send(playerID, Message{Type: MsgUI, Payload: ev})
}

// Broadcast delivers msg to every client.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.push(msg)
	}
}

func (h *Hub) send(playerID string, msg Message) {
	h.mu.RLock()
	c, ok := h.clients[playerID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.push(msg)
}
