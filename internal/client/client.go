// Package client implements the peer side of the relay: a single outbound
// connection to a host, a receive loop and a send path.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/omochice/barcodechat/internal/chat"
	"github.com/omochice/barcodechat/internal/transport/tcp"
	"github.com/omochice/barcodechat/internal/transport/ws"
	"github.com/omochice/barcodechat/pkg/protocol"
)

// ErrUnknownTransport is returned by Dial for a transport other than tcp or ws.
var ErrUnknownTransport = errors.New("unknown transport")

// Client is a live connection from this peer to a host.
type Client struct {
	link *chat.Client
	addr string

	logger         *slog.Logger
	transport      string
	connectTimeout time.Duration
	maxFrameSize   int
	onMessage      func(protocol.Envelope)
	onClosed       func(error)

	cancel  context.CancelFunc
	closing atomic.Bool
	done    chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTransport selects tcp (default) or ws.
func WithTransport(name string) Option {
	return func(c *Client) {
		c.transport = name
	}
}

// WithConnectTimeout bounds the connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.connectTimeout = d
	}
}

// WithMaxFrameSize limits the size of a single record.
func WithMaxFrameSize(n int) Option {
	return func(c *Client) {
		c.maxFrameSize = n
	}
}

// WithMessageHandler sets the handler for records received from the host.
func WithMessageHandler(h func(protocol.Envelope)) Option {
	return func(c *Client) {
		c.onMessage = h
	}
}

// WithCloseHandler sets the handler called when the connection is lost.
// It runs on the receive goroutine and must not call Close.
func WithCloseHandler(h func(error)) Option {
	return func(c *Client) {
		c.onClosed = h
	}
}

// Dial connects to the host at addr and starts receiving.
// The connection lives until Close is called, ctx is canceled or the host
// goes away.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := &Client{
		addr:           addr,
		logger:         slog.Default(),
		transport:      tcp.Name,
		connectTimeout: 5 * time.Second,
		maxFrameSize:   protocol.DefaultMaxFrameSize,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	var (
		conn chat.Conn
		err  error
	)
	switch c.transport {
	case tcp.Name:
		conn, err = tcp.Dial(ctx, addr, c.connectTimeout, tcp.WithMaxFrameSize(c.maxFrameSize))
	case ws.Name:
		conn, err = ws.Dial(ctx, addr, c.connectTimeout, ws.WithMaxFrameSize(c.maxFrameSize))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, c.transport)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c.link = chat.NewClient(conn, c.transport, chat.Outbound, nil)
	c.logger = c.logger.With("client_id", c.link.ID, "remote_addr", addr, "transport", c.transport)
	c.logger.Info("connected to host")

	ctx, c.cancel = context.WithCancel(ctx)
	go c.receive(ctx)
	return c, nil
}

func (c *Client) receive(ctx context.Context) {
	defer close(c.done)

	var err error
	for {
		var data []byte
		data, err = c.link.Conn.Read(ctx)
		if err != nil {
			break
		}

		env, perr := protocol.Unmarshal(data)
		if perr != nil {
			c.logger.Warn("dropping malformed record", "size", len(data), "error", perr)
			continue
		}
		if c.onMessage != nil {
			c.onMessage(env)
		}
	}

	_ = c.link.Conn.Close()
	c.cancel()
	if c.closing.Load() {
		c.logger.Debug("receive loop stopped")
		return
	}

	if errors.Is(err, io.EOF) {
		c.logger.Info("host closed the connection")
	} else {
		c.logger.Warn("connection to host lost", "error", err)
	}
	if c.onClosed != nil {
		c.onClosed(err)
	}
}

// Send writes one record to the host.
func (c *Client) Send(ctx context.Context, data []byte) error {
	if err := c.link.Conn.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to send record: %w", err)
	}
	return nil
}

// Close closes the connection and waits for the receive loop to exit.
// It is safe to call more than once.
func (c *Client) Close() error {
	c.closing.Store(true)
	c.cancel()
	err := c.link.Conn.Close()
	<-c.done
	return err
}

// Done is closed once the receive loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Link describes the outbound connection.
func (c *Client) Link() *chat.Client {
	return c.link
}

// Addr returns the host address this client dialed.
func (c *Client) Addr() string {
	return c.addr
}
