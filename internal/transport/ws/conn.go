// Package ws provides the WebSocket transport built on gobwas/ws.
// One binary WebSocket message carries exactly one record.
package ws

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

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/barcodechat/pkg/protocol"
)

// Name is the transport name reported for WebSocket connections.
const Name = "ws"

// Conn adapts a gobwas/ws connection to chat.Conn interface.
type Conn struct {
	conn    net.Conn
	rw      io.ReadWriter
	state   ws.State
	maxSize int

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Conn.
type Option func(*Conn)

// WithMaxFrameSize limits the size of a single record.
func WithMaxFrameSize(n int) Option {
	return func(c *Conn) {
		c.maxSize = n
	}
}

type readWriter struct {
	io.Reader
	io.Writer
}

// lockedWriter routes control frame replies made while reading through the
// same lock as data writes.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}

func newConn(conn net.Conn, br *bufio.Reader, state ws.State, opts []Option) *Conn {
	c := &Conn{
		conn:    conn,
		state:   state,
		maxSize: protocol.DefaultMaxFrameSize,
	}
	var r io.Reader = conn
	if br != nil {
		// the handshake reader may hold frames sent right after the upgrade
		r = io.MultiReader(br, conn)
	}
	c.rw = readWriter{Reader: r, Writer: lockedWriter{c: c}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upgrade performs the server side of the WebSocket handshake on an accepted
// connection. The handshake must finish within timeout when it is positive.
func Upgrade(conn net.Conn, timeout time.Duration, opts ...Option) (*Conn, error) {
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	if _, err := ws.Upgrade(conn); err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return newConn(conn, nil, ws.StateServerSide, opts), nil
}

// Dial opens a WebSocket connection to addr (host:port).
func Dial(ctx context.Context, addr string, timeout time.Duration, opts ...Option) (*Conn, error) {
	d := ws.Dialer{Timeout: timeout}
	conn, br, _, err := d.Dial(ctx, "ws://"+addr+"/")
	if err != nil {
		return nil, err
	}
	return newConn(conn, br, ws.StateClientSide, opts), nil
}

// Read implements chat.Conn.
// Control frames are answered internally; a close frame reads as io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	deadline, hasDeadline := ctx.Deadline()
	_ = c.conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := c.readMessage()
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if hasDeadline && errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return data, nil
}

// readMessage reads the next data message, answering control frames on the
// way. A frame or message above maxSize is refused before its payload is read.
func (c *Conn) readMessage() ([]byte, error) {
	control := wsutil.ControlFrameHandler(c.rw, c.state)
	rd := &wsutil.Reader{
		Source:         c.rw,
		State:          c.state,
		CheckUTF8:      true,
		MaxFrameSize:   int64(c.maxSize),
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			if errors.Is(err, wsutil.ErrFrameTooLarge) {
				return nil, fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrFrameTooLarge, hdr.Length, c.maxSize)
			}
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpBinary|ws.OpText) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		if c.maxSize <= 0 {
			return io.ReadAll(rd)
		}
		// fragments may add up past the limit
		data, err := io.ReadAll(io.LimitReader(rd, int64(c.maxSize)+1))
		if err != nil {
			return nil, err
		}
		if len(data) > c.maxSize {
			return nil, fmt.Errorf("%w: more than %d bytes", protocol.ErrFrameTooLarge, c.maxSize)
		}
		return data, nil
	}
}

// Write implements chat.Conn.
// Writes a binary message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return protocol.ErrEmptyFrame
	}
	if c.maxSize > 0 && len(data) > c.maxSize {
		return fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrFrameTooLarge, len(data), c.maxSize)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)

	var err error
	if c.state.ServerSide() {
		err = wsutil.WriteServerBinary(c.conn, data)
	} else {
		err = wsutil.WriteClientBinary(c.conn, data)
	}
	if err != nil {
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

// Close implements chat.Conn.
// A close frame is sent on a best-effort basis before the socket is closed.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		// skip the close frame when a writer is stuck; closing the socket unblocks it
		if c.wmu.TryLock() {
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
			if c.state.ServerSide() {
				_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
			} else {
				_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
			}
			c.wmu.Unlock()
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
