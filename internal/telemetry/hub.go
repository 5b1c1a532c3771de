package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/junction/internal/monitoring"
)

// ErrBroadcastFailure marks a payload that could not be delivered. A
// failure for one viewer never blocks the others.
var ErrBroadcastFailure = errors.New("broadcast failure")

const (
	defaultWriteTimeout = 2 * time.Second
	maxCommandMessage   = 4096
)

// CommandMessage is what viewers send to override the signals.
type CommandMessage struct {
	Command string `json:"command"`
}

// Reply answers a CommandMessage on the same connection.
type Reply struct {
	Ack   string `json:"ack,omitempty"`
	Error string `json:"error,omitempty"`
}

// HubStats counts deliveries since the hub started.
type HubStats struct {
	Clients   int   `json:"clients"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Hub fans payloads out to connected viewers. Each viewer has its own
// writer goroutine fed through a one-slot mailbox: a slow viewer only ever
// sees the newest payload and never delays the control loop.
type Hub struct {
	commands     *CommandQueue
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logf         monitoring.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

type client struct {
	id      string
	conn    *websocket.Conn
	mailbox chan []byte
	replies chan []byte
	done    chan struct{}
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub returns a hub that queues viewer commands on commands.
func NewHub(commands *CommandQueue) *Hub {
	return &Hub{
		commands:     commands,
		writeTimeout: defaultWriteTimeout,
		logf:         monitoring.Tagged("telemetry"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			// Viewers are served from anywhere on the local network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the viewer until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		mailbox: make(chan []byte, 1),
		replies: make(chan []byte, 4),
		done:    make(chan struct{}),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logf("viewer %s connected from %s", c.id, r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)

	h.unregister(c)
	c.close()
	h.logf("viewer %s disconnected", c.id)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(maxCommandMessage)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logf("viewer %s read: %v", c.id, err)
			}
			return
		}
		reply := h.handleCommand(data)
		b, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		select {
		case c.replies <- b:
		case <-c.done:
			return
		default:
			// Viewer is not reading; drop the reply.
		}
	}
}

func (h *Hub) handleCommand(data []byte) Reply {
	var msg CommandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Reply{Error: fmt.Sprintf("malformed message: %v", err)}
	}
	cmd, err := h.commands.Submit(msg.Command)
	if err != nil {
		h.logf("rejected command %q: %v", msg.Command, err)
		return Reply{Error: err.Error()}
	}
	return Reply{Ack: cmd.String()}
}

func (h *Hub) writeLoop(c *client) {
	for {
		var msg []byte
		select {
		case <-c.done:
			return
		case msg = <-c.replies:
		case msg = <-c.mailbox:
		}
		c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			// A failed write leaves the connection unusable.
			h.failed.Add(1)
			h.logf("viewer %s: %v: %v", c.id, ErrBroadcastFailure, err)
			c.close()
			return
		}
		h.delivered.Add(1)
	}
}

// Broadcast queues payload for every viewer. A viewer still busy with the
// previous payload has it replaced.
func (h *Hub) Broadcast(payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBroadcastFailure, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.mailbox <- b:
			continue
		default:
		}
		select {
		case <-c.mailbox:
			h.dropped.Add(1)
		default:
		}
		select {
		case c.mailbox <- b:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:   h.Clients(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
		Failed:    h.failed.Load(),
	}
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.close()
	}
}
