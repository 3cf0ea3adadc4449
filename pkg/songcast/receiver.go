// ABOUTME: High-level receiver API
// ABOUTME: Resolves a preset or URI to a stream and runs sessions against it
package songcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ohreceiver/ohreceiver/internal/metadata"
	"github.com/ohreceiver/ohreceiver/internal/transport"
	"github.com/ohreceiver/ohreceiver/pkg/audio/output"
	"github.com/ohreceiver/ohreceiver/pkg/discovery"
	"github.com/ohreceiver/ohreceiver/pkg/protocol"
	playback "github.com/ohreceiver/ohreceiver/pkg/sync"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoSource is returned when neither a preset nor a URI is configured
	ErrNoSource = errors.New("no preset or URI given")

	// ErrSourceConflict is returned when both a preset and a URI are configured
	ErrSourceConflict = errors.New("preset and URI are mutually exclusive")

	// ErrNoVolume is returned when the output has no volume control
	ErrNoVolume = errors.New("output has no volume control")
)

// ReceiverConfig holds receiver configuration
type ReceiverConfig struct {
	// URI is an ohz, ohm or ohu URI to play
	URI string

	// Preset is resolved via discovery when UsePreset is set
	Preset    uint32
	UsePreset bool

	// Output plays the stream (default: null output)
	Output output.Output

	// Transport selects the network interface
	Transport transport.Options

	// DiscoveryTimeout bounds preset and zone resolution; zero waits
	// until the context ends
	DiscoveryTimeout time.Duration

	// RestartOnHalt starts a new session after the sender halts
	RestartOnHalt bool

	RequestResend bool
	Jitter        JitterConfig
	Time          playback.TimeProvider
	Metrics       *Metrics
	Callbacks     Callbacks

	// OnEndpoint is called with each resolved stream endpoint
	OnEndpoint func(protocol.Endpoint)
}

// closableConn is a discovery socket the receiver owns
type closableConn interface {
	discovery.PacketConn
	Close() error
}

// Receiver plays one Songcast source, restarting sessions as configured
type Receiver struct {
	config ReceiverConfig
	log    *logrus.Entry

	// Socket factories, replaced in tests
	listen        func(ctx context.Context, ep protocol.Endpoint) (PacketConn, error)
	discoveryConn func(ctx context.Context) (closableConn, error)

	mu       sync.Mutex
	endpoint protocol.Endpoint
	stats    Stats
	sessions int
}

// NewReceiver validates config and creates a receiver
func NewReceiver(config ReceiverConfig) (*Receiver, error) {
	switch {
	case config.UsePreset && config.URI != "":
		return nil, ErrSourceConflict
	case !config.UsePreset && config.URI == "":
		return nil, ErrNoSource
	}
	if config.URI != "" {
		if _, err := protocol.ParseEndpoint(config.URI); err != nil {
			return nil, err
		}
	}
	if config.Output == nil {
		config.Output = output.NewNull()
	}

	r := &Receiver{
		config: config,
		log:    logrus.WithField("component", "receiver"),
	}
	r.listen = r.listenStream
	r.discoveryConn = r.listenDiscovery
	return r, nil
}

// Run resolves the source and plays it until ctx ends, the sender halts
// (unless RestartOnHalt is set) or a fatal error occurs
func (r *Receiver) Run(ctx context.Context) error {
	for {
		ep, err := r.Resolve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		conn, err := r.listen(ctx, ep)
		if err != nil {
			return err
		}

		sess := NewSession(conn, r.sessionConfig(ep))
		r.mu.Lock()
		r.sessions++
		r.mu.Unlock()

		r.log.WithFields(logrus.Fields{
			"session":  sess.ID(),
			"endpoint": ep.String(),
		}).Info("Starting session")

		if err := sess.Run(ctx); err != nil {
			return fmt.Errorf("session %s: %w", sess.ID(), err)
		}

		if !sess.Halted() || !r.config.RestartOnHalt || ctx.Err() != nil {
			return nil
		}
		r.log.Info("Sender halted, restarting")
	}
}

// Resolve turns the configured source into a stream endpoint, querying
// the network for presets and zones
func (r *Receiver) Resolve(ctx context.Context) (protocol.Endpoint, error) {
	var ep protocol.Endpoint
	if !r.config.UsePreset {
		var err error
		ep, err = protocol.ParseEndpoint(r.config.URI)
		if err != nil {
			return protocol.Endpoint{}, err
		}
		if ep.Scheme != protocol.SchemeZone {
			r.setEndpoint(ep)
			return ep, nil
		}
	}

	if r.config.DiscoveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.DiscoveryTimeout)
		defer cancel()
	}

	conn, err := r.discoveryConn(ctx)
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("discovery socket: %w", err)
	}
	defer conn.Close()

	res := discovery.NewResolver(conn, metadata.Default, discovery.Config{})
	if r.config.UsePreset {
		ep, err = res.ResolvePreset(ctx, r.config.Preset)
		if err != nil {
			return protocol.Endpoint{}, err
		}
	}

	ep, err = res.Resolve(ctx, ep)
	if err != nil {
		return protocol.Endpoint{}, err
	}
	r.setEndpoint(ep)
	return ep, nil
}

func (r *Receiver) setEndpoint(ep protocol.Endpoint) {
	r.mu.Lock()
	r.endpoint = ep
	r.mu.Unlock()

	r.log.WithField("endpoint", ep.String()).Info("Stream endpoint")
	if r.config.OnEndpoint != nil {
		r.config.OnEndpoint(ep)
	}
}

func (r *Receiver) sessionConfig(ep protocol.Endpoint) Config {
	cb := r.config.Callbacks
	userStats := cb.OnStats
	cb.OnStats = func(s Stats) {
		r.mu.Lock()
		r.stats = s
		r.mu.Unlock()
		if userStats != nil {
			userStats(s)
		}
	}

	return Config{
		Endpoint:      ep,
		Output:        r.config.Output,
		Time:          r.config.Time,
		Jitter:        r.config.Jitter,
		RequestResend: r.config.RequestResend,
		Metrics:       r.config.Metrics,
		Callbacks:     cb,
	}
}

func (r *Receiver) listenStream(ctx context.Context, ep protocol.Endpoint) (PacketConn, error) {
	addr, err := ep.UDPAddr()
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ep, err)
	}
	if ep.Multicast() {
		return transport.ListenMulticast(ctx, addr, r.config.Transport)
	}
	return transport.ListenUnicast(ctx, r.config.Transport)
}

func (r *Receiver) listenDiscovery(ctx context.Context) (closableConn, error) {
	group := &net.UDPAddr{IP: net.ParseIP(protocol.DiscoveryGroup), Port: protocol.DiscoveryPort}
	return transport.ListenMulticast(ctx, group, r.config.Transport)
}

// Endpoint returns the most recently resolved stream endpoint
func (r *Receiver) Endpoint() protocol.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint
}

// Stats returns the latest snapshot published by the running session
func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Sessions returns how many sessions have been started
func (r *Receiver) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}

// SetVolume sets the output volume (0-100)
func (r *Receiver) SetVolume(volume int) error {
	vc, ok := r.config.Output.(output.VolumeControl)
	if !ok {
		return ErrNoVolume
	}
	vc.SetVolume(volume)
	return nil
}

// SetMuted mutes or unmutes the output
func (r *Receiver) SetMuted(muted bool) error {
	vc, ok := r.config.Output.(output.VolumeControl)
	if !ok {
		return ErrNoVolume
	}
	vc.SetMuted(muted)
	return nil
}
