// ABOUTME: In-memory packet connection for tests
// ABOUTME: Queues inbound datagrams, records outbound ones, fakes read timeouts
package transporttest

import (
	"net"
	"sync"
	"time"
)

// Packet is one datagram with its peer address
type Packet struct {
	Data []byte
	Addr net.Addr
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// Conn is an in-memory packet socket. Reads never
// block: an empty queue calls Idle and then reports a timeout, which lets
// a test advance a fake clock once per poll.
type Conn struct {
	// Idle runs each time a read finds nothing queued
	Idle func()

	// WriteErr, if set, decides the error returned for a write
	WriteErr func(addr net.Addr) error

	Local net.Addr

	mu       sync.Mutex
	inbound  []Packet
	sent     []Packet
	closed   bool
	deadline time.Time
	reads    int
}

// NewConn returns a connection bound to a fixed loopback address
func NewConn() *Conn {
	return &Conn{Local: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}}
}

// Deliver queues a datagram for the next read
func (c *Conn) Deliver(data []byte, from net.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, Packet{Data: append([]byte(nil), data...), Addr: from})
}

func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	c.reads++
	if len(c.inbound) > 0 {
		pkt := c.inbound[0]
		c.inbound = c.inbound[1:]
		c.mu.Unlock()
		return copy(p, pkt.Data), pkt.Addr, nil
	}
	idle := c.Idle
	c.mu.Unlock()

	if idle != nil {
		idle()
	} else {
		time.Sleep(time.Millisecond)
	}
	return 0, nil, timeoutError{}
}

func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.WriteErr != nil {
		if err := c.WriteErr(addr); err != nil {
			return 0, err
		}
	}
	c.sent = append(c.sent, Packet{Data: append([]byte(nil), p...), Addr: addr})
	return len(p), nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *Conn) LocalAddr() net.Addr {
	return c.Local
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Sent returns a copy of every datagram written so far
func (c *Conn) Sent() []Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Packet(nil), c.sent...)
}

// Pending reports how many delivered datagrams are still unread
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbound)
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Deadline returns the last read deadline set
func (c *Conn) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}
