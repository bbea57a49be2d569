// Package tcp provides the length-prefixed TCP transport.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/omochice/barcodechat/pkg/protocol"
)

// Name is the transport name reported for TCP connections.
const Name = "tcp"

// Conn adapts net.Conn to chat.Conn interface.
// Records are framed with a 4-byte big-endian length prefix.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxSize int

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Conn.
type Option func(*Conn)

// WithMaxFrameSize limits the size of a single record in both directions.
func WithMaxFrameSize(n int) Option {
	return func(c *Conn) {
		c.maxSize = n
	}
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn, opts ...Option) *Conn {
	c := &Conn{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		maxSize: protocol.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial opens a framed TCP connection to addr.
func Dial(ctx context.Context, addr string, timeout time.Duration, opts ...Option) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewConn(conn, opts...), nil
}

// Read implements chat.Conn.
// Blocks until one whole frame has arrived; ctx cancellation unblocks it.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	deadline, hasDeadline := ctx.Deadline()
	_ = c.conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := protocol.ReadFrame(c.reader, c.maxSize)
	if err != nil {
		return nil, contextError(ctx, hasDeadline, err)
	}
	return data, nil
}

// contextError reports a read interrupted by ctx as ctx's error.
func contextError(ctx context.Context, hasDeadline bool, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if hasDeadline && errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

// Write implements chat.Conn.
// Concurrent writers are serialized so frames never interleave.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)

	if err := protocol.WriteFrame(c.conn, data, c.maxSize); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// IsClosedError reports whether err comes from using a closed connection.
func IsClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
