package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/barcodechat/internal/chat"
	"github.com/omochice/barcodechat/internal/session"
	"github.com/omochice/barcodechat/pkg/barcode"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestConsole(t *testing.T) (*Console, *lockedBuffer) {
	t.Helper()
	colorEnabled = false

	inRC, inW := readline.NewFillableStdin(bytes.NewBuffer(nil))
	out := &lockedBuffer{}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 "",
		DisableAutoSaveHistory: true,
		Stdin:                  inRC,
		StdinWriter:            inW,
		Stdout:                 out,
		Stderr:                 io.Discard,
		UniqueEditLine:         true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rl.Close() })
	return NewWithReadline(rl), out
}

type fakeController struct {
	hostPort int
	joined   string
	sent     []string
	disc     int
	err      error
	status   chat.Status
	conns    []session.Connection
}

func (f *fakeController) BecomeHost(_ context.Context, port int) error {
	f.hostPort = port
	return f.err
}

func (f *fakeController) BecomePeer(_ context.Context, host string, port int) error {
	f.joined = host + ":" + strconv.Itoa(port)
	return f.err
}

func (f *fakeController) DisconnectAll() error {
	f.disc++
	return nil
}

func (f *fakeController) Send(_ context.Context, text string) error {
	f.sent = append(f.sent, text)
	return f.err
}

func (f *fakeController) Status() chat.Status {
	return f.status
}

func (f *fakeController) Connections() []session.Connection {
	return f.conns
}

func TestConsole_Sink(t *testing.T) {
	c, out := newTestConsole(t)

	c.OnLocalMessage("HELLO")
	c.OnRemoteMessage("WORLD")
	c.OnConnectionStateChanged(chat.Status{State: chat.StateHosting, Port: 40000})
	c.OnConnectionStateChanged(chat.Status{State: chat.StateConnected, Host: "10.0.0.1", Port: 40000})
	c.OnConnectionStateChanged(chat.Status{})

	got := out.String()
	assert.Contains(t, got, "YOU » HELLO")
	assert.Contains(t, got, "REMOTE » WORLD")
	assert.Contains(t, got, "HOSTING ON PORT 40000")
	assert.Contains(t, got, "CONNECTED TO 10.0.0.1:40000")
	assert.Contains(t, got, "DISCONNECTED")
}

func TestConsole_OnBarcodeRendered(t *testing.T) {
	c, out := newTestConsole(t)

	c.OnBarcodeRendered(barcode.RenderText("B0"))
	before := out.String()
	c.OnBarcodeRendered(barcode.RenderText(""))

	assert.Contains(t, before, "[||| |||][|||||| ]")
	assert.Equal(t, before, out.String(), "empty barcode prints nothing")
}

func TestConsole_Execute(t *testing.T) {
	tests := []struct {
		line  string
		check func(t *testing.T, f *fakeController, out string)
	}{
		{
			line: "hello there",
			check: func(t *testing.T, f *fakeController, _ string) {
				assert.Equal(t, []string{"hello there"}, f.sent)
			},
		},
		{
			line: "/host 40000",
			check: func(t *testing.T, f *fakeController, _ string) {
				assert.Equal(t, 40000, f.hostPort)
			},
		},
		{
			line: "/host abc",
			check: func(t *testing.T, f *fakeController, out string) {
				assert.Zero(t, f.hostPort)
				assert.Contains(t, out, `invalid port "abc"`)
			},
		},
		{
			line: "/join 10.0.0.1 40000",
			check: func(t *testing.T, f *fakeController, _ string) {
				assert.Equal(t, "10.0.0.1:40000", f.joined)
			},
		},
		{
			line: "/join 10.0.0.1:40001",
			check: func(t *testing.T, f *fakeController, _ string) {
				assert.Equal(t, "10.0.0.1:40001", f.joined)
			},
		},
		{
			line: "/join",
			check: func(t *testing.T, f *fakeController, out string) {
				assert.Empty(t, f.joined)
				assert.Contains(t, out, "usage: /join HOST PORT")
			},
		},
		{
			line: "/disconnect",
			check: func(t *testing.T, f *fakeController, _ string) {
				assert.Equal(t, 1, f.disc)
			},
		},
		{
			line: "/status",
			check: func(t *testing.T, _ *fakeController, out string) {
				assert.Contains(t, out, "DISCONNECTED")
			},
		},
		{
			line: "/peers",
			check: func(t *testing.T, _ *fakeController, out string) {
				assert.Contains(t, out, "no connections")
			},
		},
		{
			line: "/help",
			check: func(t *testing.T, _ *fakeController, out string) {
				assert.Contains(t, out, "/join HOST PORT")
			},
		},
		{
			line: "/bogus",
			check: func(t *testing.T, _ *fakeController, out string) {
				assert.Contains(t, out, "unknown command /bogus")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, out := newTestConsole(t)
			f := &fakeController{}
			assert.False(t, c.Execute(context.Background(), f, tt.line))
			tt.check(t, f, out.String())
		})
	}
}

func TestConsole_ExecuteQuit(t *testing.T) {
	c, _ := newTestConsole(t)
	assert.True(t, c.Execute(context.Background(), &fakeController{}, "/quit"))
}

func TestConsole_ExecuteReportsErrors(t *testing.T) {
	c, out := newTestConsole(t)
	f := &fakeController{err: errors.New("not connected")}

	c.Execute(context.Background(), f, "hi")
	assert.Contains(t, out.String(), "error: not connected")
}

func TestConsole_Peers(t *testing.T) {
	c, out := newTestConsole(t)
	f := &fakeController{conns: []session.Connection{{
		ID:         "0123456789abcdef",
		RemoteAddr: "10.0.0.2:51000",
		Transport:  "tcp",
		Direction:  chat.Inbound.String(),
	}}}

	c.Execute(context.Background(), f, "/peers")
	assert.Contains(t, out.String(), "01234567  tcp  10.0.0.2:51000  inbound-from-client")
}

func TestParseTarget(t *testing.T) {
	host, port, err := parseTarget([]string{"[::1]:40000"})
	require.NoError(t, err)
	assert.Equal(t, "::1", host)
	assert.Equal(t, 40000, port)

	_, _, err = parseTarget([]string{"host", "x"})
	assert.Error(t, err)
	_, _, err = parseTarget([]string{"a", "b", "c"})
	assert.Error(t, err)
}
