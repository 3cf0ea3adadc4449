//go:build !unix

// ABOUTME: Address reuse fallback for platforms without unix sockopts
// ABOUTME: Binds without SO_REUSEADDR
package transport

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
