//go:build unix

// ABOUTME: Address reuse for multicast sockets on unix platforms
// ABOUTME: Sets SO_REUSEADDR before bind via the ListenConfig control hook
package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func reuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
