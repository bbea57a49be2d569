package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/omochice/barcodechat/pkg/protocol"
)

// Direction tells which side opened a connection.
type Direction int

const (
	// Inbound connections were accepted by a host.
	Inbound Direction = iota
	// Outbound connections were dialed by a peer.
	Outbound
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound-from-client"
	case Outbound:
		return "outbound-to-server"
	default:
		return "unknown"
	}
}

// Client is one live connection owned by a role.
type Client struct {
	ID          string
	Conn        Conn
	Transport   string
	Direction   Direction
	Limiter     *rate.Limiter
	ConnectedAt time.Time
}

// NewClient wraps conn with a fresh id. A nil limiter never throttles.
func NewClient(conn Conn, transport string, dir Direction, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		Transport:   transport,
		Direction:   dir,
		Limiter:     limiter,
		ConnectedAt: time.Now(),
	}
}

// Hub is the host's set of active connections. Every add, remove and
// iteration goes through mu; writes happen on a snapshot outside the lock.
type Hub struct {
	clients      map[string]*Client
	mu           sync.RWMutex
	logger       *slog.Logger
	writeTimeout time.Duration
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithWriteTimeout bounds each broadcast write. Zero means no bound.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.writeTimeout = d
	}
}

// NewHub creates a new Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[string]*Client),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("client registered", "client_id", client.ID, "remote_addr", client.Conn.RemoteAddr())
}

// Unregister removes a client from the hub and reports whether it was present.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	delete(h.clients, client.ID)
	h.logger.Debug("client unregistered", "client_id", client.ID)
	return true
}

// Contains reports whether a client with id is registered.
func (h *Hub) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a snapshot of the registered clients, oldest first.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Client) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return out
}

// Broadcast writes data to every client except the sender (nil sends to all)
// and returns how many writes succeeded. A client whose write fails is closed
// and removed; the rest still receive the record. A record the connection
// refuses before writing anything (empty or oversized) leaves it in place.
func (h *Hub) Broadcast(ctx context.Context, data []byte, except *Client) int {
	delivered := 0
	for _, c := range h.Clients() {
		if c == except {
			continue
		}
		if err := h.write(ctx, c, data); err != nil {
			if rejected(err) {
				h.logger.Warn("record rejected", "client_id", c.ID, "size", len(data), "error", err)
				continue
			}
			h.logger.Warn("broadcast write failed", "client_id", c.ID, "remote_addr", c.Conn.RemoteAddr(), "error", err)
			h.Drop(c)
			continue
		}
		delivered++
	}
	return delivered
}

func rejected(err error) bool {
	return errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrEmptyFrame)
}

func (h *Hub) write(ctx context.Context, c *Client, data []byte) error {
	if h.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.writeTimeout)
		defer cancel()
	}
	return c.Conn.Write(ctx, data)
}

// Drop closes the client's connection and removes it from the hub.
func (h *Hub) Drop(c *Client) {
	h.Unregister(c)
	if err := c.Conn.Close(); err != nil {
		h.logger.Debug("close failed", "client_id", c.ID, "error", err)
	}
}

// CloseAll closes and removes every client, returning how many there were.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for id, c := range clients {
		if err := c.Conn.Close(); err != nil {
			h.logger.Debug("close failed", "client_id", id, "error", err)
		}
	}
	return len(clients)
}
