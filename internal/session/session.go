// Package session owns the chat role of this process: disconnected, hosting
// peers, or connected to a host. It turns user input into envelopes and
// delivers every message, local or remote, to a chat.Sink.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/omochice/barcodechat/internal/chat"
	"github.com/omochice/barcodechat/internal/client"
	"github.com/omochice/barcodechat/internal/config"
	"github.com/omochice/barcodechat/internal/server"
	"github.com/omochice/barcodechat/pkg/barcode"
	"github.com/omochice/barcodechat/pkg/protocol"
)

// Connection describes one live connection of the current role.
type Connection struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Transport   string    `json:"transport"`
	Direction   string    `json:"direction"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Manager is the role state machine. All methods are safe for concurrent use.
type Manager struct {
	cfg    *config.Config
	format protocol.Format
	layout barcode.Layout
	sink   chat.Sink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes role transitions; mu guards the fields below it.
	opMu   sync.Mutex
	mu     sync.RWMutex
	status chat.Status
	host   *server.Server
	peer   *client.Client
	gen    uint64
	// lostErr is why the role of the current generation ended while it
	// was still starting.
	lostErr error

	history *history
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink sets where messages and state changes are delivered.
func WithSink(sink chat.Sink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLayout sets the barcode layout used for rendered messages.
func WithLayout(l barcode.Layout) Option {
	return func(m *Manager) {
		m.layout = l
	}
}

// New creates a disconnected Manager. A nil cfg uses config.Default.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	format, err := protocol.ParseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidValue, err)
	}

	m := &Manager{
		cfg:     cfg,
		format:  format,
		layout:  barcode.DefaultLayout,
		sink:    chat.NopSink{},
		logger:  slog.Default(),
		history: newHistory(cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.layout.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidValue, err)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// BecomeHost starts accepting peers on port. The listener is released by
// DisconnectAll.
func (m *Manager) BecomeHost(ctx context.Context, port int) error {
	if err := config.ValidatePort(port); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	gen, err := m.claim()
	if err != nil {
		return err
	}

	srv, err := server.Listen(m.ctx, port,
		server.WithLogger(m.logger),
		server.WithWSPort(m.cfg.WSPort),
		server.WithMaxFrameSize(m.cfg.MaxFrameSize),
		server.WithWriteTimeout(m.cfg.WriteTimeout),
		server.WithHandshakeTimeout(m.cfg.HandshakeTimeout),
		server.WithRateLimit(m.cfg.RateLimit, m.cfg.RateBurst),
		server.WithMessageHandler(func(_ *chat.Client, env protocol.Envelope) {
			m.deliver(OriginRemote, env.Text)
		}),
		server.WithJoinHandler(func(c *chat.Client) {
			m.peersChanged(gen, "peer joined", c, nil)
		}),
		server.WithLeaveHandler(func(c *chat.Client, err error) {
			m.peersChanged(gen, "peer left", c, err)
		}),
		server.WithCloseHandler(func(err error) {
			m.roleLost(gen, err)
		}),
	)
	if err != nil {
		return &BindError{Port: port, Err: err}
	}

	status, err := m.publish(gen, chat.Status{State: chat.StateHosting, Port: srv.Port()}, srv, nil)
	if err != nil {
		_ = srv.Close()
		return &BindError{Port: port, Err: err}
	}

	m.logger.Info("hosting", "port", status.Port, "ws_addr", srv.WSAddr())
	m.sink.OnConnectionStateChanged(status)
	return nil
}

// BecomePeer connects to the host at host:port.
func (m *Manager) BecomePeer(ctx context.Context, host string, port int) error {
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("%w: host must not be empty", config.ErrInvalidValue)
	}
	if err := config.ValidatePort(port); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	gen, err := m.claim()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	peer, err := client.Dial(m.ctx, addr,
		client.WithLogger(m.logger),
		client.WithTransport(m.cfg.Transport),
		client.WithConnectTimeout(m.cfg.ConnectTimeout),
		client.WithMaxFrameSize(m.cfg.MaxFrameSize),
		client.WithMessageHandler(func(env protocol.Envelope) {
			m.deliver(OriginRemote, env.Text)
		}),
		client.WithCloseHandler(func(err error) {
			m.roleLost(gen, err)
		}),
	)
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}
	if err := ctx.Err(); err != nil {
		_ = peer.Close()
		return &ConnectError{Addr: addr, Err: err}
	}

	status, err := m.publish(gen, chat.Status{State: chat.StateConnected, Host: host, Port: port}, nil, peer)
	if err != nil {
		_ = peer.Close()
		return &ConnectError{Addr: addr, Err: err}
	}

	m.logger.Info("connected", "addr", addr, "transport", m.cfg.Transport)
	m.sink.OnConnectionStateChanged(status)
	return nil
}

// claim checks that no role is active and returns the generation the new
// role will run under.
func (m *Manager) claim() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State != chat.StateDisconnected {
		return 0, ErrRoleConflict
	}
	m.gen++
	m.lostErr = nil
	return m.gen, nil
}

// publish makes a started role current, unless it already ended while
// starting, in which case the reason is returned and nothing changes.
func (m *Manager) publish(gen uint64, status chat.Status, host *server.Server, peer *client.Client) (chat.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		if m.lostErr != nil {
			return chat.Status{}, fmt.Errorf("%w: %w", errRoleEnded, m.lostErr)
		}
		return chat.Status{}, errRoleEnded
	}
	if host != nil {
		status.Connections = host.ClientCount()
	}
	m.host, m.peer, m.status = host, peer, status
	return status, nil
}

// roleLost handles a role ending on its own. Stale generations are ignored.
func (m *Manager) roleLost(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	if m.status.State == chat.StateDisconnected {
		// still starting; publish sees the new generation
		m.gen++
		m.lostErr = err
		m.mu.Unlock()
		return
	}
	prev := m.status
	m.host, m.peer = nil, nil
	m.status = chat.Status{}
	m.gen++
	m.mu.Unlock()

	m.logger.Warn("role ended", "state", prev.State.String(), "error", err)
	m.sink.OnConnectionStateChanged(chat.Status{})
}

// peersChanged reports a peer joining or leaving the host of generation gen.
func (m *Manager) peersChanged(gen uint64, event string, c *chat.Client, err error) {
	m.mu.Lock()
	if m.gen != gen || m.host == nil {
		m.mu.Unlock()
		return
	}
	m.status.Connections = m.host.ClientCount()
	status := m.status
	m.mu.Unlock()

	log := m.logger.With("client_id", c.ID, "remote_addr", c.Conn.RemoteAddr(), "connections", status.Connections)
	if err != nil {
		log = log.With("error", err)
	}
	log.Info(event)
	m.sink.OnConnectionStateChanged(status)
}

// DisconnectAll ends the current role, closing every listener and
// connection and waiting for their goroutines. It is a no-op when already
// disconnected.
func (m *Manager) DisconnectAll() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	prev := m.status
	host, peer := m.host, m.peer
	m.host, m.peer = nil, nil
	m.status = chat.Status{}
	m.gen++
	m.mu.Unlock()

	if host != nil {
		_ = host.Close()
	}
	if peer != nil {
		_ = peer.Close()
	}

	if prev.State != chat.StateDisconnected {
		m.logger.Info("disconnected", "previous", prev.String())
		m.sink.OnConnectionStateChanged(chat.Status{})
	}
	return nil
}

// Close disconnects and releases the Manager.
func (m *Manager) Close() error {
	err := m.DisconnectAll()
	m.cancel()
	return err
}

// Normalize applies the configured text normalization.
func (m *Manager) Normalize(text string) string {
	if m.cfg.Uppercase {
		return strings.ToUpper(text)
	}
	return text
}

// Send transmits text under the current role and then delivers it locally.
// An empty message is ignored; one that cannot fit in a frame is refused
// with ErrMessageTooLarge. A host delivers locally even if some peers
// failed; a peer whose write failed gets a *SendError and shows nothing.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = m.Normalize(text)
	if text == "" {
		return nil
	}

	m.mu.RLock()
	state, host, peer := m.status.State, m.host, m.peer
	m.mu.RUnlock()
	if state == chat.StateDisconnected {
		return ErrNotConnected
	}

	data, err := protocol.New(text, time.Now()).Marshal(m.format)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if limit := m.cfg.MaxFrameSize; limit > 0 && len(data) > limit {
		return fmt.Errorf("%w: %d byte record exceeds the %d byte limit", ErrMessageTooLarge, len(data), limit)
	}

	switch {
	case host != nil:
		n := host.Broadcast(ctx, data)
		m.logger.Debug("message broadcast", "size", len(data), "recipients", n)
	case peer != nil:
		if err := peer.Send(ctx, data); err != nil {
			m.logger.Warn("send failed", "error", err)
			return &SendError{Err: err}
		}
	}

	m.deliver(OriginLocal, text)
	return nil
}

func (m *Manager) deliver(origin Origin, text string) {
	m.history.add(Entry{Origin: origin, Text: text, At: time.Now()})
	if origin == OriginLocal {
		m.sink.OnLocalMessage(text)
	} else {
		m.sink.OnRemoteMessage(text)
	}
	m.sink.OnBarcodeRendered(barcode.Render(barcode.Encode(text), m.layout))
}

// Status returns the current role.
func (m *Manager) Status() chat.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Connections returns the live connections of the current role: every
// accepted peer when hosting, the host link when connected.
func (m *Manager) Connections() []Connection {
	m.mu.RLock()
	host, peer := m.host, m.peer
	m.mu.RUnlock()

	var clients []*chat.Client
	switch {
	case host != nil:
		clients = host.Clients()
	case peer != nil:
		clients = []*chat.Client{peer.Link()}
	}

	out := make([]Connection, 0, len(clients))
	for _, c := range clients {
		out = append(out, Connection{
			ID:          c.ID,
			RemoteAddr:  c.Conn.RemoteAddr(),
			Transport:   c.Transport,
			Direction:   c.Direction.String(),
			ConnectedAt: c.ConnectedAt,
		})
	}
	return out
}

// History returns the delivered messages, oldest first.
func (m *Manager) History() []Entry {
	return m.history.snapshot()
}

// Layout returns the barcode layout used for rendered messages.
func (m *Manager) Layout() barcode.Layout {
	return m.layout
}
