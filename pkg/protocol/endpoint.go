// ABOUTME: Stream endpoint addressing
// ABOUTME: Parses ohz/ohm/ohu URIs into scheme, host, port and path
package protocol

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URI schemes understood by the receiver
const (
	SchemeZone      = "ohz" // Zone to be resolved via discovery
	SchemeMulticast = "ohm" // Multicast stream
	SchemeUnicast   = "ohu" // Unicast stream
)

// Discovery defaults
const (
	DiscoveryGroup = "239.255.255.250"
	DiscoveryPort  = 51972
)

var (
	// ErrInvalidURI is returned when a URI cannot be parsed
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnknownScheme is returned for schemes other than ohz, ohm and ohu
	ErrUnknownScheme = errors.New("unknown URI scheme")
)

// Endpoint is a parsed stream or zone URI
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// ParseEndpoint parses a Songcast URI such as ohm://239.255.255.250:51972
// or ohz://239.255.90.90:51972/0012345678.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w %q: %v", ErrInvalidURI, raw, err)
	}

	ep := Endpoint{
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Hostname(),
		Path:   strings.TrimPrefix(u.Path, "/"),
	}

	switch ep.Scheme {
	case SchemeZone, SchemeMulticast, SchemeUnicast:
	default:
		return Endpoint{}, fmt.Errorf("%w %q", ErrUnknownScheme, u.Scheme)
	}

	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("%w %q: missing host", ErrInvalidURI, raw)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Endpoint{}, fmt.Errorf("%w %q: bad port %q", ErrInvalidURI, raw, p)
		}
		ep.Port = port
	} else {
		ep.Port = DiscoveryPort
	}

	return ep, nil
}

// Multicast reports whether the endpoint is a multicast stream
func (e Endpoint) Multicast() bool {
	return e.Scheme == SchemeMulticast
}

// UDPAddr resolves the endpoint host and port
func (e Endpoint) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
}

// String formats the endpoint back into a URI
func (e Endpoint) String() string {
	s := fmt.Sprintf("%s://%s", e.Scheme, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
	if e.Path != "" {
		s += "/" + e.Path
	}
	return s
}
