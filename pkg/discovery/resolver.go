// ABOUTME: Ohz preset and zone resolver
// ABOUTME: Repeats queries until a matching answer arrives, then parses the URI
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ohreceiver/ohreceiver/internal/retry"
	"github.com/ohreceiver/ohreceiver/internal/transport"
	"github.com/ohreceiver/ohreceiver/pkg/protocol"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPoll is how long each query waits for an answer
	DefaultPoll = 100 * time.Millisecond

	// DefaultMaxHops bounds chains of zone URIs resolving to other zones
	DefaultMaxHops = 4

	maxDatagram = 65536
)

var (
	// ErrNoAnswer means a query window closed without a matching reply
	ErrNoAnswer = errors.New("discovery: no matching answer")

	// ErrTooManyHops is returned when zone resolution does not reach a stream
	ErrTooManyHops = errors.New("discovery: too many zone hops")

	// ErrNotZone is returned when ResolveZone is given a non-ohz endpoint
	ErrNotZone = errors.New("discovery: endpoint is not a zone")
)

// PacketConn is the socket the resolver queries through
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	SetReadDeadline(t time.Time) error
}

// MetadataResolver turns a preset's metadata document into a stream URI
type MetadataResolver interface {
	ResolveURI(metadata []byte) (string, error)
}

// Config tunes the resolver; zero values select the defaults
type Config struct {
	Group   *net.UDPAddr  // Preset query destination
	Poll    time.Duration // Answer window per query
	MaxHops int
	Retry   retry.Config // Outer loop; zero value retries until ctx ends
}

// Resolver answers preset and zone lookups over one socket
type Resolver struct {
	conn   PacketConn
	meta   MetadataResolver
	config Config
	buf    []byte
}

// NewResolver creates a resolver. The connection is not closed by the
// resolver.
func NewResolver(conn PacketConn, meta MetadataResolver, config Config) *Resolver {
	if config.Group == nil {
		config.Group = &net.UDPAddr{IP: net.ParseIP(protocol.DiscoveryGroup), Port: protocol.DiscoveryPort}
	}
	if config.Poll <= 0 {
		config.Poll = DefaultPoll
	}
	if config.MaxHops <= 0 {
		config.MaxHops = DefaultMaxHops
	}

	return &Resolver{
		conn:   conn,
		meta:   meta,
		config: config,
		buf:    make([]byte, maxDatagram),
	}
}

// ResolvePreset asks the network for a preset's metadata and returns the
// endpoint named by it. Non-matching answers are ignored; the query
// repeats until an answer arrives or ctx ends.
func (r *Resolver) ResolvePreset(ctx context.Context, preset uint32) (protocol.Endpoint, error) {
	log := logrus.WithFields(logrus.Fields{"preset": preset, "group": r.config.Group.String()})
	query := protocol.EncodeOhz(&protocol.PresetQuery{Preset: preset})

	metadata, err := retry.DoWithResult(ctx, r.retryConfig(log), func(ctx context.Context) ([]byte, error) {
		msg, err := r.exchange(ctx, query, r.config.Group, func(m protocol.OhzMessage) bool {
			info, ok := m.(*protocol.PresetInfo)
			return ok && info.Preset == preset
		})
		if err != nil {
			return nil, err
		}
		return msg.(*protocol.PresetInfo).Metadata, nil
	})
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("preset %d: %w", preset, err)
	}

	uri, err := r.meta.ResolveURI(metadata)
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("preset %d: %w", preset, err)
	}

	log.WithField("uri", uri).Info("Resolved preset")
	return protocol.ParseEndpoint(uri)
}

// ResolveZone asks a zone's sender for the URI currently streaming to it.
// Only an answer echoing exactly the same zone is accepted.
func (r *Resolver) ResolveZone(ctx context.Context, ep protocol.Endpoint) (protocol.Endpoint, error) {
	if ep.Scheme != protocol.SchemeZone {
		return protocol.Endpoint{}, fmt.Errorf("%w: %s", ErrNotZone, ep)
	}

	to, err := ep.UDPAddr()
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("zone %s: %w", ep, err)
	}

	log := logrus.WithFields(logrus.Fields{"zone": ep.Path, "endpoint": ep.String()})
	query := protocol.EncodeOhz(&protocol.ZoneQuery{Zone: ep.Path})

	uri, err := retry.DoWithResult(ctx, r.retryConfig(log), func(ctx context.Context) (string, error) {
		msg, err := r.exchange(ctx, query, to, func(m protocol.OhzMessage) bool {
			z, ok := m.(*protocol.ZoneURI)
			return ok && z.Zone == ep.Path
		})
		if err != nil {
			return "", err
		}
		return msg.(*protocol.ZoneURI).URI, nil
	})
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("zone %s: %w", ep, err)
	}

	log.WithField("uri", uri).Info("Resolved zone")
	return protocol.ParseEndpoint(uri)
}

// Resolve follows zone endpoints until it reaches a stream endpoint.
// Stream endpoints are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, ep protocol.Endpoint) (protocol.Endpoint, error) {
	for hop := 0; ep.Scheme == protocol.SchemeZone; hop++ {
		if hop == r.config.MaxHops {
			return protocol.Endpoint{}, fmt.Errorf("%w: stopped at %s", ErrTooManyHops, ep)
		}
		next, err := r.ResolveZone(ctx, ep)
		if err != nil {
			return protocol.Endpoint{}, err
		}
		ep = next
	}
	return ep, nil
}

func (r *Resolver) retryConfig(log *logrus.Entry) retry.Config {
	cfg := r.config.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error) {
			if attempt%50 == 0 {
				log.WithField("attempts", attempt).Debug("Still waiting for discovery answer")
			}
		}
	}
	return cfg
}

// exchange sends one query and reads until the poll window closes or an
// answer passes accept. Anything else on the socket is noise.
func (r *Resolver) exchange(ctx context.Context, query []byte, to net.Addr, accept func(protocol.OhzMessage) bool) (protocol.OhzMessage, error) {
	if _, err := r.conn.WriteTo(query, to); err != nil {
		err = fmt.Errorf("failed to send query: %w", err)
		if errors.Is(err, net.ErrClosed) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	deadline := time.Now().Add(r.config.Poll)
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return nil, retry.Permanent(err)
	}

	for ctx.Err() == nil {
		n, _, err := r.conn.ReadFrom(r.buf)
		if err != nil {
			if transport.IsTimeout(err) {
				return nil, ErrNoAnswer
			}
			return nil, retry.Permanent(fmt.Errorf("failed to read answer: %w", err))
		}

		msg, ok := protocol.DecodeOhz(r.buf[:n])
		if ok && accept(msg) {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNoAnswer
		}
	}
	return nil, ctx.Err()
}
