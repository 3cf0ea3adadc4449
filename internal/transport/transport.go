// ABOUTME: UDP socket setup for Songcast streams and discovery
// ABOUTME: Multicast group membership, unicast sockets and read timeouts
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// socketBufferSize is the receive buffer requested for stream sockets.
// Audio arrives in bursts and a small default buffer drops frames.
const socketBufferSize = 2 * 1024 * 1024

// Conn is a UDP socket, optionally joined to a multicast group
type Conn struct {
	*net.UDPConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr
	iface *net.Interface
}

// Options selects the network interface used for multicast traffic
type Options struct {
	Interface string // Interface name; empty lets the OS choose
	TTL       int    // Multicast TTL for outgoing datagrams; 0 keeps the default
}

func (o Options) lookup() (*net.Interface, error) {
	if o.Interface == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(o.Interface)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", o.Interface, err)
	}
	return ifi, nil
}

// ListenMulticast binds the group address with address reuse so several
// receivers on one host can share a stream, then joins the group.
func ListenMulticast(ctx context.Context, group *net.UDPAddr, opts Options) (*Conn, error) {
	if group == nil || !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%v is not a multicast address", group)
	}

	ifi, err := opts.lookup()
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: reuseAddr}
	pconn, err := lc.ListenPacket(ctx, "udp4", group.String())
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", group, err)
	}
	udp := pconn.(*net.UDPConn)

	c := &Conn{UDPConn: udp, pc: ipv4.NewPacketConn(udp), group: group, iface: ifi}
	if err := c.pc.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
		udp.Close()
		return nil, fmt.Errorf("failed to join group %s: %w", group.IP, err)
	}
	if err := c.configureMulticast(opts); err != nil {
		c.Close()
		return nil, err
	}

	c.tuneBuffer()

	logrus.WithFields(logrus.Fields{
		"function":  "ListenMulticast",
		"group":     group.String(),
		"interface": opts.Interface,
	}).Debug("Joined multicast group")

	return c, nil
}

// ListenUnicast binds an ephemeral port for a unicast stream or for
// discovery queries sent to a multicast group.
func ListenUnicast(ctx context.Context, opts Options) (*Conn, error) {
	ifi, err := opts.lookup()
	if err != nil {
		return nil, err
	}

	bind := "0.0.0.0:0"
	if ifi != nil {
		if ip := interfaceIPv4(ifi); ip != nil {
			bind = net.JoinHostPort(ip.String(), "0")
		}
	}

	var lc net.ListenConfig
	pconn, err := lc.ListenPacket(ctx, "udp4", bind)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", bind, err)
	}
	udp := pconn.(*net.UDPConn)

	c := &Conn{UDPConn: udp, pc: ipv4.NewPacketConn(udp), iface: ifi}
	if err := c.configureMulticast(opts); err != nil {
		c.Close()
		return nil, err
	}
	c.tuneBuffer()

	return c, nil
}

func (c *Conn) configureMulticast(opts Options) error {
	if c.iface != nil {
		if err := c.pc.SetMulticastInterface(c.iface); err != nil {
			return fmt.Errorf("failed to set multicast interface: %w", err)
		}
	}
	if opts.TTL > 0 {
		if err := c.pc.SetMulticastTTL(opts.TTL); err != nil {
			return fmt.Errorf("failed to set multicast TTL: %w", err)
		}
	}
	return nil
}

func (c *Conn) tuneBuffer() {
	if err := c.SetReadBuffer(socketBufferSize); err != nil {
		// Some systems cap the buffer size; the default still works
		logrus.WithFields(logrus.Fields{
			"buffer_size": socketBufferSize,
			"error":       err.Error(),
		}).Warn("Could not set UDP receive buffer size")
	}
}

// Group returns the joined multicast group, or nil for unicast sockets
func (c *Conn) Group() *net.UDPAddr {
	return c.group
}

// Close leaves the multicast group if joined and closes the socket
func (c *Conn) Close() error {
	if c.group != nil {
		_ = c.pc.LeaveGroup(c.iface, &net.UDPAddr{IP: c.group.IP})
	}
	return c.UDPConn.Close()
}

// IsTimeout reports whether err is a read deadline expiring
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func interfaceIPv4(ifi *net.Interface) net.IP {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			if v4 := ipnet.IP.To4(); v4 != nil {
				return v4
			}
		}
	}
	return nil
}
