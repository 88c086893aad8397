package hub

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/thebowwman/delisim/internals/domain"
)

// Client receives raw messages broadcast on a delivery topic.
type Client interface {
	Send(b []byte)
}

// DeliveryHub fans messages for one delivery topic out to its subscribers and
// remembers the last one for late joiners.
type DeliveryHub struct {
	ID      string
	Topic   string
	mu      sync.RWMutex
	clients map[Client]struct{}
	last    []byte
}

func NewHub(id string) *DeliveryHub {
	return &DeliveryHub{
		ID:      id,
		Topic:   domain.Topic(id),
		clients: make(map[Client]struct{}),
	}
}

func (h *DeliveryHub) AddClient(c Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *DeliveryHub) RemoveClient(c Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *DeliveryHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast stores b as the last message and sends it to every subscriber.
func (h *DeliveryHub) Broadcast(b []byte) {
	h.mu.Lock()
	h.last = b
	clients := make([]Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Send(b)
	}
}

// Last returns the most recent broadcast, or nil.
func (h *DeliveryHub) Last() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Hubs is the in-memory registry of delivery hubs.
type Hubs struct {
	m sync.Map
}

func NewHubs() *Hubs { return &Hubs{} }

func (hs *Hubs) GetOrCreate(id string) *DeliveryHub {
	if v, ok := hs.m.Load(id); ok {
		return v.(*DeliveryHub)
	}
	h := NewHub(id)
	v, _ := hs.m.LoadOrStore(id, h)
	return v.(*DeliveryHub)
}

// Get returns the hub for id without creating one.
func (hs *Hubs) Get(id string) (*DeliveryHub, bool) {
	v, ok := hs.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*DeliveryHub), true
}

func (hs *Hubs) Name() string { return "websocket" }

// Send broadcasts payload on the delivery's topic.
func (hs *Hubs) Send(ctx context.Context, u domain.LocationUpdate, payload []byte) error {
	hs.GetOrCreate(u.DeliveryID).Broadcast(payload)
	return nil
}

// WSClient queues messages for one websocket subscriber. Send never blocks:
// when the queue is full the message is dropped, delivery is at most once.
type WSClient struct {
	conn *websocket.Conn
	out  chan []byte
}

func NewWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{
		conn: conn,
		out:  make(chan []byte, sendQueue),
	}
}

const sendQueue = 16

func (c *WSClient) Send(b []byte) {
	select {
	case c.out <- b:
	default:
	}
}

// WriteLoop writes queued messages until ctx is done or a write fails.
func (c *WSClient) WriteLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
