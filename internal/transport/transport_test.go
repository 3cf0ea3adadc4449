// ABOUTME: Tests for UDP socket setup
// ABOUTME: Tests multicast and unicast listeners on the loopback interface
package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnicastLoopback(t *testing.T) {
	c, err := ListenUnicast(context.Background(), Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Group())

	local := c.LocalAddr().(*net.UDPAddr)
	to := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: local.Port}

	_, err = c.WriteTo([]byte("Ohm "), to)
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 64)
	n, _, err := c.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "Ohm ", string(buf[:n]))
}

func TestReadTimeout(t *testing.T) {
	c, err := ListenUnicast(context.Background(), Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	_, _, err = c.ReadFrom(make([]byte, 16))
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.False(t, IsTimeout(net.ErrClosed))
}

func TestListenMulticastRejectsUnicastAddress(t *testing.T) {
	_, err := ListenMulticast(context.Background(), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 51972}, Options{})
	assert.Error(t, err)
}

func TestListenMulticast(t *testing.T) {
	group := &net.UDPAddr{IP: net.IPv4(239, 255, 77, 77), Port: 51999}
	c, err := ListenMulticast(context.Background(), group, Options{})
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer c.Close()

	assert.Equal(t, group, c.Group())
}

func TestUnknownInterface(t *testing.T) {
	_, err := ListenUnicast(context.Background(), Options{Interface: "does-not-exist0"})
	assert.Error(t, err)
}
