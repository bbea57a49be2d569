package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRoleConflict is returned when a role is requested while another
	// role is still active. The active role is left untouched.
	ErrRoleConflict = errors.New("a role is already active; disconnect first")
	// ErrNotConnected is returned by Send when there is no active role.
	ErrNotConnected = errors.New("not connected")
	// ErrMessageTooLarge is returned by Send when the encoded record would
	// exceed the configured frame size. Nothing is sent.
	ErrMessageTooLarge = errors.New("message too large")
	// errRoleEnded is reported when a role stops before it finished starting.
	errRoleEnded = errors.New("connection closed while starting")
)

// BindError reports a failure to listen on the host port.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to host on port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ConnectError reports a failure to reach a host.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// SendError reports a failed write from a peer to its host. The message
// was not delivered locally.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send message: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
