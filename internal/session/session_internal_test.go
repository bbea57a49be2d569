package session

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/barcodechat/internal/chat"
)

func TestManager_RoleLostWhileStarting(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	defer m.Close()

	// the link drops before the role is published
	gen, err := m.claim()
	require.NoError(t, err)
	m.roleLost(gen, io.EOF)

	_, err = m.publish(gen, chat.Status{State: chat.StateConnected, Host: "127.0.0.1", Port: 40000}, nil, nil)
	assert.ErrorIs(t, err, errRoleEnded)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, chat.StateDisconnected, m.Status().State)

	// the next role starts normally
	gen, err = m.claim()
	require.NoError(t, err)
	status, err := m.publish(gen, chat.Status{State: chat.StateConnected, Host: "127.0.0.1", Port: 40000}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, status, m.Status())
}

func TestManager_StaleRoleLostIsIgnored(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	defer m.Close()

	old, err := m.claim()
	require.NoError(t, err)
	gen, err := m.claim()
	require.NoError(t, err)

	m.roleLost(old, io.EOF)
	_, err = m.publish(gen, chat.Status{State: chat.StateHosting, Port: 40000}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, chat.StateHosting, m.Status().State)
}
