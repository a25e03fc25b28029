package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"taskboard/api/internal/util"
)

// Broadcaster delivers a named event to every connection in a room. The
// Mutation Service depends on this interface only, so a distributed backend
// can replace the in-process hub without changing callers.
type Broadcaster interface {
	Broadcast(ctx context.Context, room, event string, payload any) error
}

// Envelope is the wire shape of every server-to-client event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const sendBuffer = 64

// Conn is one attached websocket connection.
type Conn struct {
	ID     string
	UserID string

	nc net.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue reports false when the connection is closed or its queue is full.
func (c *Conn) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub owns the live connections and implements Broadcaster in-process. It is
// created at process start and torn down at shutdown; everything else gets
// it injected rather than reaching for a global.
type Hub struct {
	registry *Registry

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewHub(registry *Registry) *Hub {
	return &Hub{
		registry: registry,
		conns:    make(map[string]*Conn),
	}
}

// Attach registers a connection for a user, auto-joins its direct channel
// and starts the writer. The single writer goroutine per connection keeps
// events from one mutation in emission order.
func (h *Hub) Attach(userID string, nc net.Conn) *Conn {
	c := &Conn{
		ID:     util.NewID("conn"),
		UserID: userID,
		nc:     nc,
		send:   make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	h.registry.Join(UserRoom(userID), c.ID)

	go h.writeLoop(c)
	return c
}

func (h *Hub) writeLoop(c *Conn) {
	for msg := range c.send {
		if err := wsutil.WriteServerMessage(c.nc, ws.OpText, msg); err != nil {
			log.Printf("realtime: write to %s failed: %v", c.ID, err)
			h.Detach(c)
			for range c.send {
				// drain until closed so enqueue callers observe closed state
			}
			return
		}
	}
	_ = c.nc.Close()
}

// Detach removes the connection from every room and closes it.
func (h *Hub) Detach(c *Conn) {
	h.mu.Lock()
	_, present := h.conns[c.ID]
	delete(h.conns, c.ID)
	h.mu.Unlock()
	if !present {
		return
	}
	h.registry.DropConnection(c.ID)
	c.close()
	_ = c.nc.Close()
}

// JoinBoard subscribes the connection to a board's room. Idempotent.
func (h *Hub) JoinBoard(c *Conn, boardID string) {
	h.registry.Join(BoardRoom(boardID), c.ID)
}

// LeaveBoard unsubscribes the connection from a board's room.
func (h *Hub) LeaveBoard(c *Conn, boardID string) {
	h.registry.Leave(BoardRoom(boardID), c.ID)
}

// Broadcast sends the event to every connection currently in the room.
// Delivery is at-least-once for as long as a connection stays joined; a
// consumer too slow to drain its queue is detached and must re-fetch on
// reconnect.
func (h *Hub) Broadcast(_ context.Context, room, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	for _, connID := range h.registry.Members(room) {
		h.mu.Lock()
		c, ok := h.conns[connID]
		h.mu.Unlock()
		if !ok {
			continue
		}
		if !c.enqueue(msg) {
			log.Printf("realtime: %s cannot keep up, detaching", c.ID)
			h.Detach(c)
		}
	}
	return nil
}

// Shutdown detaches every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.Detach(c)
	}
}
