// Package server implements the host side of the relay: it accepts peers on
// a raw TCP port and, optionally, a WebSocket port, and relays every record
// a peer sends to all the other peers.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/omochice/barcodechat/internal/chat"
	"github.com/omochice/barcodechat/internal/transport/tcp"
	"github.com/omochice/barcodechat/internal/transport/ws"
	"github.com/omochice/barcodechat/pkg/protocol"
)

// MessageHandler is called for every well-formed record a peer sends, before
// the record is relayed. It may be called from many goroutines at once.
type MessageHandler func(client *chat.Client, env protocol.Envelope)

// JoinHandler is called after a peer has been registered.
type JoinHandler func(client *chat.Client)

// LeaveHandler is called after a peer has been removed, with the error that
// ended its connection. Peers closed by the host stopping are not reported.
type LeaveHandler func(client *chat.Client, err error)

// CloseHandler is called once when the host stops on its own, e.g. because
// a listener failed. It is not called after Close.
type CloseHandler func(err error)

// Server is a running host.
type Server struct {
	tcpLn net.Listener
	wsLn  net.Listener
	hub   *chat.Hub

	logger           *slog.Logger
	wsPort           int
	maxFrameSize     int
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
	rateLimit        rate.Limit
	rateBurst        int
	onMessage        MessageHandler
	onJoin           JoinHandler
	onLeave          LeaveHandler
	onClosed         CloseHandler

	cancel  context.CancelFunc
	accepts *errgroup.Group
	readers errgroup.Group
	closing atomic.Bool
	done    chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithWSPort also accepts WebSocket peers on port. Zero disables it.
func WithWSPort(port int) Option {
	return func(s *Server) {
		s.wsPort = port
	}
}

// WithMaxFrameSize limits the size of a single record.
func WithMaxFrameSize(n int) Option {
	return func(s *Server) {
		s.maxFrameSize = n
	}
}

// WithWriteTimeout bounds each relayed write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// WithHandshakeTimeout bounds the WebSocket upgrade of an accepted peer.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.handshakeTimeout = d
	}
}

// WithRateLimit limits how many records per second each peer may send.
// Records over the limit are dropped. A zero limit disables limiting.
func WithRateLimit(limit float64, burst int) Option {
	return func(s *Server) {
		s.rateLimit = rate.Limit(limit)
		s.rateBurst = burst
	}
}

// WithMessageHandler sets the handler for received records.
func WithMessageHandler(h MessageHandler) Option {
	return func(s *Server) {
		s.onMessage = h
	}
}

// WithJoinHandler sets the handler for peers joining.
func WithJoinHandler(h JoinHandler) Option {
	return func(s *Server) {
		s.onJoin = h
	}
}

// WithLeaveHandler sets the handler for peers leaving or being dropped.
func WithLeaveHandler(h LeaveHandler) Option {
	return func(s *Server) {
		s.onLeave = h
	}
}

// WithCloseHandler sets the handler for unplanned shutdown.
func WithCloseHandler(h CloseHandler) Option {
	return func(s *Server) {
		s.onClosed = h
	}
}

// Listen binds port on all interfaces and starts accepting peers.
// Port 0 picks a free port. The host runs until Close is called, ctx is
// canceled or a listener fails.
func Listen(ctx context.Context, port int, opts ...Option) (*Server, error) {
	s := &Server{
		logger:           slog.Default(),
		maxFrameSize:     protocol.DefaultMaxFrameSize,
		handshakeTimeout: 10 * time.Second,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = chat.NewHub(chat.WithHubLogger(s.logger), chat.WithWriteTimeout(s.writeTimeout))

	var lc net.ListenConfig
	tcpLn, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to start TCP listener: %w", err)
	}
	s.tcpLn = tcpLn

	if s.wsPort != 0 {
		wsLn, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(s.wsPort)))
		if err != nil {
			tcpLn.Close()
			return nil, fmt.Errorf("failed to start WebSocket listener: %w", err)
		}
		s.wsLn = wsLn
	}

	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.accepts = g
	context.AfterFunc(gctx, s.closeListeners)

	g.Go(func() error { return s.acceptLoop(gctx, s.tcpLn, tcp.Name) })
	s.logger.Info("host started", "transport", tcp.Name, "addr", s.tcpLn.Addr().String())
	if s.wsLn != nil {
		g.Go(func() error { return s.acceptLoop(gctx, s.wsLn, ws.Name) })
		s.logger.Info("host started", "transport", ws.Name, "addr", s.wsLn.Addr().String())
	}

	go s.run()
	return s, nil
}

// run tears the host down once every accept loop has returned.
func (s *Server) run() {
	defer close(s.done)

	err := s.accepts.Wait()
	closed := s.hub.CloseAll()
	_ = s.readers.Wait()
	s.cancel()

	s.logger.Info("host stopped", "port", s.Port(), "closed_connections", closed)
	if err != nil && !s.closing.Load() {
		s.logger.Error("host terminated", "error", err)
		if s.onClosed != nil {
			s.onClosed(err)
		}
	}
}

func (s *Server) closeListeners() {
	if err := s.tcpLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("failed to close listener", "error", err)
	}
	if s.wsLn != nil {
		if err := s.wsLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("failed to close listener", "error", err)
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, transport string) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("accept on %s failed: %w", ln.Addr(), err)
		}

		s.logger.Debug("accepted connection", "transport", transport, "remote_addr", raw.RemoteAddr().String())
		s.readers.Go(func() error {
			s.serve(ctx, raw, transport)
			return nil
		})
	}
}

func (s *Server) wrap(ctx context.Context, raw net.Conn, transport string) (chat.Conn, error) {
	if transport == ws.Name {
		stop := context.AfterFunc(ctx, func() { raw.Close() })
		defer stop()
		return ws.Upgrade(raw, s.handshakeTimeout, ws.WithMaxFrameSize(s.maxFrameSize))
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return tcp.NewConn(raw, tcp.WithMaxFrameSize(s.maxFrameSize)), nil
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.rateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(s.rateLimit, s.rateBurst)
}

// serve is the per-connection reader: it delivers and relays each record
// until the connection fails, then removes the connection.
func (s *Server) serve(ctx context.Context, raw net.Conn, transport string) {
	conn, err := s.wrap(ctx, raw, transport)
	if err != nil {
		s.logger.Warn("handshake failed", "remote_addr", raw.RemoteAddr().String(), "error", err)
		raw.Close()
		return
	}

	client := chat.NewClient(conn, transport, chat.Inbound, s.newLimiter())
	s.hub.Register(client)
	var readErr error
	defer func() {
		s.hub.Drop(client)
		if s.onLeave != nil && ctx.Err() == nil {
			s.onLeave(client, readErr)
		}
	}()
	if ctx.Err() != nil {
		return
	}

	log := s.logger.With("client_id", client.ID, "remote_addr", client.Conn.RemoteAddr(), "transport", transport)
	log.Info("client connected", "total_clients", s.hub.ClientCount())
	if s.onJoin != nil {
		s.onJoin(client)
	}

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			readErr = err
			s.logReadError(log, err)
			return
		}

		if !client.Limiter.Allow() {
			log.Warn("rate limit exceeded, dropping record", "size", len(data))
			continue
		}

		env, err := protocol.Unmarshal(data)
		if err != nil {
			log.Warn("dropping malformed record", "size", len(data), "error", err)
			continue
		}

		if s.onMessage != nil {
			s.onMessage(client, env)
		}
		relayed := s.hub.Broadcast(ctx, data, client)
		log.Debug("record relayed", "size", len(data), "recipients", relayed)
	}
}

func (s *Server) logReadError(log *slog.Logger, err error) {
	switch {
	case errors.Is(err, io.EOF):
		log.Info("client disconnected")
	case errors.Is(err, context.Canceled), tcp.IsClosedError(err):
		log.Debug("client connection closed", "error", err)
	case errors.Is(err, protocol.ErrFrameTooLarge):
		log.Warn("closing client: frame too large", "error", err)
	default:
		log.Warn("client read failed", "error", err)
	}
}

// Broadcast writes a locally originated record to every connected peer and
// returns how many writes succeeded.
func (s *Server) Broadcast(ctx context.Context, data []byte) int {
	return s.hub.Broadcast(ctx, data, nil)
}

// Close stops accepting, closes every connection and waits for all of the
// host's goroutines to exit. It is safe to call more than once.
func (s *Server) Close() error {
	s.closing.Store(true)
	s.cancel()
	<-s.done
	return nil
}

// Done is closed once the host has fully stopped.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Clients returns a snapshot of the connected peers.
func (s *Server) Clients() []*chat.Client {
	return s.hub.Clients()
}

// ClientCount returns the number of connected peers.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// Addr returns the TCP listener's address.
func (s *Server) Addr() string {
	return s.tcpLn.Addr().String()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if addr, ok := s.tcpLn.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// WSAddr returns the WebSocket listener's address, or "" when disabled.
func (s *Server) WSAddr() string {
	if s.wsLn == nil {
		return ""
	}
	return s.wsLn.Addr().String()
}
