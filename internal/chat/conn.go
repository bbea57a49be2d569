// Package chat provides the transport-agnostic pieces shared by the host and
// peer roles: connections, the connection set and the display sink.
package chat

import "context"

// Conn abstracts a bidirectional record stream for both TCP and WebSocket.
// Each Read returns exactly one record and each Write sends exactly one;
// framing is the transport's job.
type Conn interface {
	// Read reads a single record.
	// Returns io.EOF when the connection is closed by the remote side.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single record. Safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection. Safe to call more than once.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
