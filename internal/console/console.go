// Package console is the interactive terminal front end: it prints chat
// traffic and barcodes above a readline prompt and turns input lines into
// commands or messages.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/omochice/barcodechat/internal/chat"
	"github.com/omochice/barcodechat/internal/session"
	"github.com/omochice/barcodechat/pkg/barcode"
)

// DefaultPrompt is shown in front of the input line.
const DefaultPrompt = "» "

var colorEnabled = os.Getenv("NO_COLOR") == ""

// C wraps s in an ANSI color code unless NO_COLOR is set.
func C(s, code string) string {
	if !colorEnabled {
		return s
	}
	return code + s + "\x1b[0m"
}

const (
	CBold = "\x1b[1m"
	CDim  = "\x1b[2m"
	CRed  = "\x1b[31m"
	CCyan = "\x1b[36m"
	CYel  = "\x1b[33m"
)

// Controller is the part of session.Manager the console drives.
type Controller interface {
	BecomeHost(ctx context.Context, port int) error
	BecomePeer(ctx context.Context, host string, port int) error
	DisconnectAll() error
	Send(ctx context.Context, text string) error
	Status() chat.Status
	Connections() []session.Connection
}

var _ Controller = (*session.Manager)(nil)

// Console is a goroutine-safe chat.Sink over a readline instance.
type Console struct {
	rl *readline.Instance
	mu sync.Mutex
}

var _ chat.Sink = (*Console)(nil)

// New creates a console reading from the terminal.
func New(prompt string) (*Console, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return nil, err
	}
	return &Console{rl: rl}, nil
}

// NewWithReadline wraps an existing readline instance.
func NewWithReadline(rl *readline.Instance) *Console {
	return &Console{rl: rl}
}

// Close closes the console.
func (c *Console) Close() error {
	return c.rl.Close()
}

// Println prints a line above the prompt without clobbering user input.
func (c *Console) Println(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.rl.Stdout().Write([]byte("\r" + msg + "\n"))
	c.rl.Refresh()
}

// Errorln prints err.
func (c *Console) Errorln(err error) {
	c.Println(C("error: "+err.Error(), CRed))
}

func (c *Console) OnLocalMessage(text string) {
	c.Println(C("YOU", CBold) + " » " + text)
}

func (c *Console) OnRemoteMessage(text string) {
	c.Println(C("REMOTE", CBold+CCyan) + " » " + text)
}

// OnBarcodeRendered prints the bar tokens of each symbol read back from img.
func (c *Console) OnBarcodeRendered(img barcode.Image) {
	if img.Empty() {
		return
	}
	results := barcode.Scan(img)
	tokens := make([]string, len(results))
	for i, r := range results {
		tokens[i] = string(r.Pattern)
	}
	c.Println("  " + C("["+strings.Join(tokens, "][")+"]", CYel))
}

func (c *Console) OnConnectionStateChanged(status chat.Status) {
	c.Println(C(strings.ToUpper(status.String()), CDim))
}

// Run reads lines until /quit, Ctrl+C, end of input or ctx is done.
func (c *Console) Run(ctx context.Context, ctl Controller) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		for {
			line, err := c.rl.Readline()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			if c.Execute(ctx, ctl, line) {
				return nil
			}
		}
	}
}

// Execute handles one input line and reports whether the user asked to quit.
func (c *Console) Execute(ctx context.Context, ctl Controller, line string) bool {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "/") {
		if err := ctl.Send(ctx, line); err != nil {
			c.Errorln(err)
		}
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/host":
		if len(args) != 1 {
			c.Println("usage: /host PORT")
			return false
		}
		port, err := strconv.Atoi(args[0])
		if err != nil {
			c.Errorln(fmt.Errorf("invalid port %q", args[0]))
			return false
		}
		if err := ctl.BecomeHost(ctx, port); err != nil {
			c.Errorln(err)
		}
	case "/join":
		host, port, err := parseTarget(args)
		if err != nil {
			c.Errorln(err)
			c.Println("usage: /join HOST PORT")
			return false
		}
		if err := ctl.BecomePeer(ctx, host, port); err != nil {
			c.Errorln(err)
		}
	case "/disconnect":
		if err := ctl.DisconnectAll(); err != nil {
			c.Errorln(err)
		}
	case "/status":
		c.Println(strings.ToUpper(ctl.Status().String()))
	case "/peers":
		conns := ctl.Connections()
		if len(conns) == 0 {
			c.Println("no connections")
		}
		for _, conn := range conns {
			c.Println(fmt.Sprintf("  %s  %-4s %s  %s", shortID(conn.ID), conn.Transport, conn.RemoteAddr, conn.Direction))
		}
	case "/help":
		c.printHelp()
	case "/quit", "/exit":
		return true
	default:
		c.Println("unknown command " + cmd + ", try /help")
	}
	return false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseTarget accepts "HOST PORT" or "HOST:PORT".
func parseTarget(args []string) (string, int, error) {
	var host, portStr string
	switch len(args) {
	case 1:
		h, p, err := net.SplitHostPort(args[0])
		if err != nil {
			return "", 0, err
		}
		host, portStr = h, p
	case 2:
		host, portStr = args[0], args[1]
	default:
		return "", 0, errors.New("expected a host and a port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

func (c *Console) printHelp() {
	c.Println(C("commands:", CBold))
	c.Println("  /host PORT        host a chat on PORT")
	c.Println("  /join HOST PORT   connect to a host")
	c.Println("  /disconnect       leave the current chat")
	c.Println("  /status           show the connection state")
	c.Println("  /peers            list live connections")
	c.Println("  /quit             exit")
	c.Println("anything else is sent as a message")
}
