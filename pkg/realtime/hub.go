/**
 * @description
 * Websocket fan-out of donation hints to everyone watching a campaign page. Each
 * connection subscribes to exactly one campaign; Broadcast pushes a payload to all
 * subscribers of that campaign on this instance.
 *
 * @notes
 * - Every connection has one writer goroutine fed by a buffered channel. A subscriber
 *   that falls behind by more than the buffer is disconnected rather than blocking
 *   the broadcaster.
 * - Clients may send the text frame "ping" and receive "pong"; protocol pings are
 *   answered by the library. Connections silent past the heartbeat timeout are closed.
 */

package realtime

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer     = 16
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// Options tune the heartbeat. Zero values take the defaults.
type Options struct {
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration
	// CheckOrigin overrides the upgrader's origin check. Nil accepts same-origin only.
	CheckOrigin func(r *http.Request) bool
}

type client struct {
	id         uint64
	campaignID uuid.UUID
	conn       *websocket.Conn
	send       chan []byte

	mu     sync.Mutex
	closed bool
}

// offer queues payload without blocking. It reports false when the buffer is full.
func (c *client) offer(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) shut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub tracks campaign subscriptions.
type Hub struct {
	upgrader         websocket.Upgrader
	pingInterval     time.Duration
	heartbeatTimeout time.Duration

	mu      sync.RWMutex
	clients map[uuid.UUID]map[uint64]*client
	nextID  atomic.Uint64
	closed  bool
}

func NewHub(opts Options) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 10 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 30 * time.Second
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		pingInterval:     opts.PingInterval,
		heartbeatTimeout: opts.HeartbeatTimeout,
		clients:          make(map[uuid.UUID]map[uint64]*client),
	}
}

// Serve upgrades the request and subscribes it to campaignID until the peer leaves.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, campaignID uuid.UUID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("level=warn component=realtime msg=\"websocket upgrade failed\" campaign_id=%s remote=%s err=%v", campaignID, r.RemoteAddr, err)
		return
	}

	c := &client{
		id:         h.nextID.Add(1),
		campaignID: campaignID,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
	}
	if !h.add(c) {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Printf("level=info component=realtime msg=\"subscriber connected\" campaign_id=%s conn_id=%d", campaignID, c.id)

	go h.writeLoop(c)
	h.readLoop(c)
}

// Broadcast queues payload for every subscriber of campaignID.
func (h *Hub) Broadcast(campaignID uuid.UUID, payload []byte) {
	h.mu.RLock()
	subs := make([]*client, 0, len(h.clients[campaignID]))
	for _, c := range h.clients[campaignID] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		if !c.offer(payload) {
			log.Printf("level=warn component=realtime msg=\"slow subscriber dropped\" campaign_id=%s conn_id=%d", campaignID, c.id)
			h.remove(c)
		}
	}
}

// Subscribers returns the number of live connections for campaignID.
func (h *Hub) Subscribers(campaignID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[campaignID])
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, subs := range h.clients {
		for _, c := range subs {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.remove(c)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	subs, ok := h.clients[c.campaignID]
	if !ok {
		subs = make(map[uint64]*client)
		h.clients[c.campaignID] = subs
	}
	subs[c.id] = c
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if subs, ok := h.clients[c.campaignID]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.clients, c.campaignID)
		}
	}
	h.mu.Unlock()
	c.shut()
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		log.Printf("level=info component=realtime msg=\"subscriber disconnected\" campaign_id=%s conn_id=%d", c.campaignID, c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	extend := func() { c.conn.SetReadDeadline(time.Now().Add(h.heartbeatTimeout)) }
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("level=warn component=realtime msg=\"websocket read error\" conn_id=%d err=%v", c.id, err)
			}
			return
		}
		extend()
		if messageType == websocket.TextMessage && string(message) == "ping" {
			c.offer([]byte("pong"))
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
