package session

import (
	"sync"
	"time"
)

// Origin tells where a transcript entry came from.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// String returns the string representation of Origin
func (o Origin) String() string {
	if o == OriginLocal {
		return "local"
	}
	return "remote"
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Entry is one delivered message.
type Entry struct {
	Origin Origin    `json:"origin"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// history keeps the most recent entries, oldest first.
type history struct {
	mu      sync.Mutex
	entries []Entry
	size    int
}

func newHistory(size int) *history {
	return &history{size: size}
}

func (h *history) add(e Entry) {
	if h.size <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.size {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.size-1]
	}
	h.entries = append(h.entries, e)
}

func (h *history) snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}
