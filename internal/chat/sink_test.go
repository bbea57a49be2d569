package chat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omochice/barcodechat/internal/chat"
	"github.com/omochice/barcodechat/pkg/barcode"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status chat.Status
		want   string
	}{
		{status: chat.Status{}, want: "Disconnected"},
		{status: chat.Status{State: chat.StateHosting, Port: 40000}, want: "Hosting on port 40000"},
		{status: chat.Status{State: chat.StateHosting, Port: 40000, Connections: 2}, want: "Hosting on port 40000 (2 connected)"},
		{status: chat.Status{State: chat.StateConnected, Host: "127.0.0.1", Port: 40000}, want: "Connected to 127.0.0.1:40000"},
		{status: chat.Status{State: chat.StateConnected, Host: "::1", Port: 2000}, want: "Connected to [::1]:2000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

type countingSink struct {
	chat.NopSink
	local, remote, barcodes, states int
}

func (c *countingSink) OnLocalMessage(string) { c.local++ }
func (c *countingSink) OnRemoteMessage(string) { c.remote++ }
func (c *countingSink) OnBarcodeRendered(barcode.Image) { c.barcodes++ }
func (c *countingSink) OnConnectionStateChanged(chat.Status) { c.states++ }

func TestMultiSink(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := chat.NewMultiSink(a)
	m.Add(b)

	m.OnLocalMessage("x")
	m.OnRemoteMessage("y")
	m.OnBarcodeRendered(barcode.RenderText("X"))
	m.OnConnectionStateChanged(chat.Status{})

	for _, s := range []*countingSink{a, b} {
		assert.Equal(t, 1, s.local)
		assert.Equal(t, 1, s.remote)
		assert.Equal(t, 1, s.barcodes)
		assert.Equal(t, 1, s.states)
	}
}
