package chat

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/omochice/barcodechat/pkg/barcode"
)

// State is the role state of a session.
type State int

const (
	StateDisconnected State = iota
	StateHosting
	StateConnected
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHosting:
		return "hosting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Status describes the current role and its endpoint.
type Status struct {
	State State
	Host  string // remote host when connected
	Port  int    // listen port when hosting, remote port when connected

	// Connections is the number of accepted peers while hosting.
	Connections int
}

// Addr returns host:port for a connected status.
func (s Status) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s Status) String() string {
	switch s.State {
	case StateHosting:
		if s.Connections > 0 {
			return fmt.Sprintf("Hosting on port %d (%d connected)", s.Port, s.Connections)
		}
		return fmt.Sprintf("Hosting on port %d", s.Port)
	case StateConnected:
		return "Connected to " + s.Addr()
	default:
		return "Disconnected"
	}
}

// Sink receives everything meant for presentation. Methods may be called
// from several goroutines at once.
type Sink interface {
	OnLocalMessage(text string)
	OnRemoteMessage(text string)
	OnBarcodeRendered(img barcode.Image)
	OnConnectionStateChanged(status Status)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnLocalMessage(string) {}
func (NopSink) OnRemoteMessage(string) {}
func (NopSink) OnBarcodeRendered(barcode.Image) {}
func (NopSink) OnConnectionStateChanged(Status) {}

// MultiSink fans every call out to several sinks in order.
type MultiSink struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMultiSink creates a MultiSink over sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Add appends a sink.
func (m *MultiSink) Add(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

func (m *MultiSink) each(fn func(Sink)) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	for _, s := range sinks {
		fn(s)
	}
}

func (m *MultiSink) OnLocalMessage(text string) {
	m.each(func(s Sink) { s.OnLocalMessage(text) })
}

func (m *MultiSink) OnRemoteMessage(text string) {
	m.each(func(s Sink) { s.OnRemoteMessage(text) })
}

func (m *MultiSink) OnBarcodeRendered(img barcode.Image) {
	m.each(func(s Sink) { s.OnBarcodeRendered(img) })
}

func (m *MultiSink) OnConnectionStateChanged(status Status) {
	m.each(func(s Sink) { s.OnConnectionStateChanged(status) })
}
