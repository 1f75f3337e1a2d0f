package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
)

// Namespace separates the chat, presence and board channels of a project.
type Namespace string

const (
	NamespaceChat     Namespace = "chat"
	NamespacePresence Namespace = "presence"
	NamespaceBoard    Namespace = "board"
)

const (
	defaultQueueSize    = 64
	defaultPingInterval = 30 * time.Second
)

var (
	// ErrProjectIDRequired is returned when joining a room without a project id.
	ErrProjectIDRequired = errors.New("project id is required")
	// ErrUnknownClient is returned for operations on a client that is not registered.
	ErrUnknownClient = errors.New("client is not registered")
	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrQueueFull is returned when a client's outbound queue is full.
	ErrQueueFull = errors.New("client outbound queue is full")
)

// RoomKey returns the name of the room for a namespace and project.
func RoomKey(ns Namespace, projectID string) string {
	return string(ns) + ":" + projectID
}

// Envelope is the frame exchanged with socket clients.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   string `json:"ack,omitempty"`
}

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected socket. Writes go through a bounded queue drained
// by WritePump.
type Client struct {
	ID string

	conn      Conn
	send      chan []byte
	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once

	// guarded by Hub.mu
	rooms map[string]struct{}
}

// NewClient wraps conn. queueSize <= 0 selects the default.
func NewClient(id string, conn Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Client{
		ID:       id,
		conn:     conn,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

// WritePump writes queued frames and periodic pings until the client is
// closed or a write fails. Frames still queued at close are dropped.
func (c *Client) WritePump(pingInterval time.Duration) {
	defer close(c.pumpDone)
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if c.closed() {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if c.closed() {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close stops the write pump and closes the connection. Safe to call twice.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// PumpDone is closed when WritePump has returned. After that the connection
// is never written to again.
func (c *Client) PumpDone() <-chan struct{} {
	return c.pumpDone
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Hub tracks connected clients and their room memberships.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}
	mu      sync.RWMutex
	done    chan struct{}
	logger  types.Logger
}

// NewHub creates a new Hub.
func NewHub(logger types.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.logger.Info("Hub shutting down", "clients", h.ClientCount())
	h.closeAllClients()
	close(h.done)
}

// Wait blocks until Run has returned.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("Client registered", "clientID", c.ID)
}

// Unregister removes a client and all of its memberships. It is idempotent.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	for room := range c.rooms {
		h.removeMemberLocked(room, c)
	}
	delete(h.clients, c.ID)
	h.logger.Debug("Client unregistered", "clientID", c.ID)
}

// Join adds the client to the room of ns and projectID. Joining twice is a
// no-op.
func (h *Hub) Join(ns Namespace, projectID string, c *Client) error {
	if projectID == "" {
		return ErrProjectIDRequired
	}
	room := RoomKey(ns, projectID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return fmt.Errorf("join %s: %w", room, ErrUnknownClient)
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	return nil
}

// Leave removes the client from the room. Leaving a room the client is not in
// is a no-op.
func (h *Hub) Leave(ns Namespace, projectID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeMemberLocked(RoomKey(ns, projectID), c)
}

func (h *Hub) removeMemberLocked(room string, c *Client) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// IsMember reports whether the client is in the room.
func (h *Hub) IsMember(ns Namespace, projectID string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[RoomKey(ns, projectID)][c]
	return ok
}

// Broadcast delivers event to every member of the room except the given
// client, which may be nil. Clients whose queue is full are dropped. It
// returns the number of clients the frame was queued for.
func (h *Hub) Broadcast(ns Namespace, projectID, event string, payload any, except *Client) int {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("Failed to encode broadcast", "event", event, "error", err)
		return 0
	}

	var slow []*Client
	delivered := 0

	h.mu.RLock()
	for c := range h.rooms[RoomKey(ns, projectID)] {
		if c == except {
			continue
		}
		switch err := c.enqueue(data); {
		case err == nil:
			delivered++
		case errors.Is(err, ErrQueueFull):
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow client", "clientID", c.ID, "room", RoomKey(ns, projectID))
		h.Unregister(c)
		c.Close()
	}
	return delivered
}

// Send queues a frame for a single client.
func (h *Hub) Send(c *Client, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", env.Event, err)
	}
	if err := c.enqueue(data); err != nil {
		if errors.Is(err, ErrQueueFull) {
			h.logger.Warn("Dropping slow client", "clientID", c.ID)
			h.Unregister(c)
			c.Close()
		}
		return err
	}
	return nil
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// MemberCount returns the number of clients in a room.
func (h *Hub) MemberCount(ns Namespace, projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomKey(ns, projectID)])
}
