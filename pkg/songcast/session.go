// ABOUTME: Streaming session for one Songcast playback attempt
// ABOUTME: Keepalive, message dispatch, relay to slaves, jitter buffering and sink control
package songcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ohreceiver/ohreceiver/internal/metadata"
	"github.com/ohreceiver/ohreceiver/internal/transport"
	"github.com/ohreceiver/ohreceiver/pkg/audio"
	"github.com/ohreceiver/ohreceiver/pkg/audio/output"
	"github.com/ohreceiver/ohreceiver/pkg/protocol"
	playback "github.com/ohreceiver/ohreceiver/pkg/sync"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Timing defaults
const (
	DefaultKeepalive     = 750 * time.Millisecond
	DefaultPoll          = 100 * time.Millisecond
	DefaultStatsInterval = 500 * time.Millisecond

	maxDatagram = 65536
)

// ErrClosed is returned when Run is called on a finished session
var ErrClosed = errors.New("session closed")

// State is the lifecycle stage of a session
type State int

const (
	StateJoining State = iota
	StateListening
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateListening:
		return "listening"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PacketConn is the socket a session receives and sends on
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// TrackInfo is a track announcement with its parsed display fields
type TrackInfo struct {
	Sequence uint32
	URI      string
	Metadata string
	Details  metadata.Track
}

// Stats is a snapshot of session progress
type Stats struct {
	SessionID    string
	State        State
	Format       audio.Format
	Codec        string
	Latency      time.Duration
	Buffered     time.Duration
	Quality      playback.Quality
	Jitter       JitterStats
	Pending      int
	Played       uint64
	Overdue      uint64
	Reconfigures uint64
	Relayed      uint64
	RelayErrors  uint64
	Keepalives   uint64
	Noise        uint64
	Slaves       int
}

// Callbacks deliver informational events. All run on the session goroutine
// and must not block.
type Callbacks struct {
	OnStateChange func(State)
	OnTrack       func(TrackInfo)
	OnMetatext    func(string)
	OnLostFrames  func(frames []uint32)
	OnSlaves      func(slaves []*net.UDPAddr)
	OnStats       func(Stats)
}

// Config configures a session
type Config struct {
	Endpoint protocol.Endpoint
	Output   output.Output
	Time     playback.TimeProvider

	Keepalive     time.Duration
	Poll          time.Duration
	StatsInterval time.Duration
	Jitter        JitterConfig

	// RequestResend asks the sender to retransmit frames found missing
	RequestResend bool

	Metrics   *Metrics
	Callbacks Callbacks
}

// Session runs one playback attempt from join to close. It is driven by a
// single goroutine in Run; nothing in it is safe for concurrent use except
// through the callbacks it invokes.
type Session struct {
	id     string
	config Config
	conn   PacketConn
	dest   *net.UDPAddr
	log    *logrus.Entry
	noise  *rate.Limiter

	state      State
	slaves     []*net.UDPAddr
	jitter     *JitterBuffer
	clock      *playback.PlaybackClock
	format     audio.Format
	codec      string
	sinkOpen   bool
	halting    bool
	halted     bool
	lastListen time.Time
	lastStats  time.Time
	buf        []byte

	played       uint64
	overdue      uint64
	reconfigures uint64
	relayed      uint64
	relayErrors  uint64
	keepalives   uint64
	noiseCount   uint64
}

// NewSession creates a session over conn, which it owns and closes. For
// multicast endpoints conn must already be a member of the group.
func NewSession(conn PacketConn, config Config) *Session {
	if config.Time == nil {
		config.Time = playback.SystemTime{}
	}
	if config.Output == nil {
		config.Output = output.NewNull()
	}
	if config.Keepalive <= 0 {
		config.Keepalive = DefaultKeepalive
	}
	if config.Poll <= 0 {
		config.Poll = DefaultPoll
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = DefaultStatsInterval
	}

	id := uuid.New().String()

	return &Session{
		id:     id,
		config: config,
		conn:   conn,
		log: logrus.WithFields(logrus.Fields{
			"session":  id[:8],
			"endpoint": config.Endpoint.String(),
		}),
		noise:  rate.NewLimiter(rate.Every(time.Second), 5),
		jitter: NewJitterBuffer(config.Jitter),
		clock:  playback.NewPlaybackClock(config.Time),
		buf:    make([]byte, maxDatagram),
	}
}

// ID returns the session's unique identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Halted reports whether the session ended because the sender halted
func (s *Session) Halted() bool {
	return s.halted
}

// Run joins the stream and plays it until the sender halts, ctx ends or
// a fatal error occurs. Cancellation sends LEAVE and drains the sink; it
// is not an error.
func (s *Session) Run(ctx context.Context) error {
	if s.state == StateClosed {
		return ErrClosed
	}

	dest, err := s.config.Endpoint.UDPAddr()
	if err != nil {
		s.fail()
		return fmt.Errorf("resolve %s: %w", s.config.Endpoint, err)
	}
	s.dest = dest

	s.setState(StateJoining)
	if err := s.send(protocol.Join{}); err != nil {
		s.fail()
		return fmt.Errorf("join: %w", err)
	}
	if err := s.send(protocol.Listen{}); err != nil {
		s.fail()
		return fmt.Errorf("listen: %w", err)
	}
	now := s.config.Time.Now()
	s.lastListen = now
	s.lastStats = now
	s.setState(StateListening)

	s.log.Info("Session started")

	for {
		if ctx.Err() != nil {
			s.leave()
			return nil
		}

		now := s.config.Time.Now()
		if now.Sub(s.lastListen) >= s.config.Keepalive {
			if err := s.send(protocol.Listen{}); err != nil && s.noise.Allow() {
				s.log.WithError(err).Warn("Keepalive send failed")
			}
			s.lastListen = now
			s.keepalives++
			s.config.Metrics.keepalive()
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readWait(now))); err != nil {
			s.fail()
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, from, err := s.conn.ReadFrom(s.buf)
		if err != nil {
			if transport.IsTimeout(err) {
				if err := s.service(); err != nil {
					s.fail()
					return err
				}
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			s.fail()
			return fmt.Errorf("receive: %w", err)
		}

		if err := s.handle(s.buf[:n], from); err != nil {
			s.fail()
			return err
		}
		if err := s.service(); err != nil {
			s.fail()
			return err
		}

		if s.halting {
			return s.halt()
		}
	}
}

// readWait is how long the next read may block: the poll interval, cut
// short when a held frame falls due sooner
func (s *Session) readWait(now time.Time) time.Duration {
	wait := s.config.Poll
	if due, ok := s.jitter.NextDue(); ok {
		if d := due.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// handle relays and dispatches one datagram
func (s *Session) handle(datagram []byte, from net.Addr) error {
	s.config.Metrics.packet(len(datagram))

	typ, ok := protocol.PeekOhmType(datagram)
	if !ok {
		s.dropNoise("bad header", from)
		return nil
	}

	if typ.Relayed() && len(s.slaves) > 0 {
		s.relay(datagram)
	}

	msg, ok := protocol.DecodeOhm(datagram)
	if !ok {
		s.dropNoise("malformed "+typ.String(), from)
		return nil
	}
	s.config.Metrics.message(typ.String())

	switch m := msg.(type) {
	case protocol.Join, protocol.Leave:
		// Other receivers joining or leaving the group
	case protocol.Listen:
		if s.config.Endpoint.Multicast() {
			s.lastListen = s.config.Time.Now()
		}
	case *protocol.Audio:
		return s.handleAudio(m)
	case *protocol.Track:
		s.handleTrack(m)
	case *protocol.Metatext:
		s.log.WithField("text", m.Text).Debug("Metatext")
		if cb := s.config.Callbacks.OnMetatext; cb != nil {
			cb(m.Text)
		}
	case *protocol.Slave:
		s.slaves = m.Slaves
		s.config.Metrics.setSlaves(len(m.Slaves))
		s.log.WithField("slaves", len(m.Slaves)).Info("Slave list replaced")
		if cb := s.config.Callbacks.OnSlaves; cb != nil {
			cb(m.Slaves)
		}
	case *protocol.Resend:
		s.config.Metrics.senderLostFrames(len(m.Frames))
		s.log.WithFields(logrus.Fields{
			"count":  len(m.Frames),
			"frames": m.Frames,
		}).Info("Lost frames reported")
		if cb := s.config.Callbacks.OnLostFrames; cb != nil {
			cb(m.Frames)
		}
	case *protocol.UnknownOhm:
		if s.noise.Allow() {
			s.log.WithFields(logrus.Fields{
				"type": uint8(m.MsgType),
				"from": addrString(from),
			}).Info("Unrecognized message type")
		}
	}
	return nil
}

func (s *Session) relay(datagram []byte) {
	for _, slave := range s.slaves {
		_, err := s.conn.WriteTo(datagram, slave)
		s.config.Metrics.relay(err)
		if err != nil {
			s.relayErrors++
			if s.noise.Allow() {
				s.log.WithError(err).WithField("slave", slave.String()).Debug("Relay failed")
			}
			continue
		}
		s.relayed++
	}
}

func (s *Session) handleTrack(t *protocol.Track) {
	info := TrackInfo{Sequence: t.Sequence, URI: t.URI, Metadata: t.Metadata}
	details, err := metadata.ParseTrack([]byte(t.Metadata))
	if err != nil {
		s.log.WithError(err).Debug("Track metadata not parseable")
	}
	info.Details = details

	s.log.WithFields(logrus.Fields{
		"uri":   t.URI,
		"title": details.Title,
	}).Info("Track")

	if cb := s.config.Callbacks.OnTrack; cb != nil {
		cb(info)
	}
}

func (s *Session) handleAudio(a *protocol.Audio) error {
	if !isPCM(a.Codec) {
		if a.Halt() {
			s.halting = true
		}
		if s.noise.Allow() {
			s.log.WithField("codec", a.Codec).Warn("Codec not playable, relaying only")
		}
		s.codec = a.Codec
		s.activate()
		return nil
	}

	format := audio.Format{
		SampleRate: int(a.SampleRate),
		Channels:   int(a.Channels),
		BitDepth:   int(a.BitDepth),
	}
	if err := format.Valid(); err != nil {
		if errors.Is(err, audio.ErrUnsupportedBitDepth) {
			return fmt.Errorf("frame %d: %w", a.Frame, err)
		}
		s.dropNoise(err.Error(), nil)
		return nil
	}

	latency := s.clock.Update(a.SampleRate, a.MediaLatency)
	s.config.Metrics.setLatency(latency.Seconds())

	now := s.config.Time.Now()
	gaps, ok := s.jitter.Push(Entry{
		Seq:   a.Frame,
		Due:   playback.DueTime(now, latency),
		Audio: a,
	})
	if !ok {
		s.config.Metrics.duplicate()
		return nil
	}
	if a.Halt() {
		s.halting = true
	}
	s.codec = a.Codec
	s.activate()

	if len(gaps) > 0 {
		s.config.Metrics.gaps(len(gaps))
		if s.noise.Allow() {
			s.log.WithFields(logrus.Fields{
				"frame":   a.Frame,
				"missing": len(gaps),
			}).Debug("Gap detected")
		}
		if s.config.RequestResend {
			if err := s.send(&protocol.Resend{Frames: gaps}); err != nil && s.noise.Allow() {
				s.log.WithError(err).Debug("Resend request failed")
			}
		}
	}
	return nil
}

func (s *Session) activate() {
	if s.state == StateListening {
		s.setState(StateActive)
	}
}

// service plays every frame the jitter buffer releases now
func (s *Session) service() error {
	now := s.config.Time.Now()
	for {
		e, skipped, ok := s.jitter.Pop(now)
		if !ok {
			break
		}
		if err := s.deliver(e, skipped, now, true); err != nil {
			return err
		}
	}
	s.config.Metrics.setPending(s.jitter.Len())
	s.maybeStats(now)
	return nil
}

func (s *Session) deliver(e Entry, skipped uint32, now time.Time, dropOverdue bool) error {
	if skipped > 0 {
		s.clock.RecordLate(int(skipped))
		s.config.Metrics.lost(skipped)
	}

	if dropOverdue && playback.Overdue(now, e.Due, s.clock.Latency()) {
		s.overdue++
		s.clock.RecordLate(1)
		s.config.Metrics.overdue()
		return nil
	}

	return s.play(e.Audio)
}

// play writes one frame, reconfiguring the sink first when the format
// differs from the one it is open with
func (s *Session) play(a *protocol.Audio) error {
	format := audio.Format{
		SampleRate: int(a.SampleRate),
		Channels:   int(a.Channels),
		BitDepth:   int(a.BitDepth),
	}

	samples, err := audio.DecodePCM(payload(a), format.BitDepth)
	if err != nil {
		return fmt.Errorf("frame %d: %w", a.Frame, err)
	}

	if !s.sinkOpen || format != s.format {
		if s.sinkOpen {
			if err := s.config.Output.Drain(); err != nil {
				s.log.WithError(err).Warn("Drain before reconfigure failed")
			}
			s.reconfigures++
			s.config.Metrics.reconfigure()
		}

		depth := playback.TargetBuffer(s.clock.Latency())
		if err := s.config.Output.Open(format, depth); err != nil {
			return fmt.Errorf("open output %s: %w", format, err)
		}
		s.sinkOpen = true

		s.log.WithFields(logrus.Fields{
			"format": format.String(),
			"buffer": depth.String(),
		}).Info("Output configured")
		s.format = format
	}

	if err := s.config.Output.Write(samples); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	s.played++
	s.clock.RecordPlayed()
	s.config.Metrics.played()
	return nil
}

// halt plays out everything held, drains the sink and closes
func (s *Session) halt() error {
	s.log.Info("Sender halted")
	s.setState(StateDraining)

	now := s.config.Time.Now()
	for {
		e, skipped, ok := s.jitter.Flush()
		if !ok {
			break
		}
		if err := s.deliver(e, skipped, now, false); err != nil {
			s.fail()
			return err
		}
	}

	s.closeSink(true)
	s.halted = true
	s.finish()
	return nil
}

// leave tells the sender this receiver is going and shuts down cleanly
func (s *Session) leave() {
	if err := s.send(protocol.Leave{}); err != nil {
		s.log.WithError(err).Debug("Leave send failed")
	}
	s.setState(StateDraining)
	s.closeSink(true)
	s.finish()
	s.log.Info("Session left")
}

// fail releases resources after a fatal error
func (s *Session) fail() {
	s.closeSink(false)
	s.finish()
}

func (s *Session) closeSink(drain bool) {
	if !s.sinkOpen {
		return
	}
	if drain {
		if err := s.config.Output.Drain(); err != nil {
			s.log.WithError(err).Warn("Drain failed")
		}
	}
	if err := s.config.Output.Close(); err != nil {
		s.log.WithError(err).Warn("Output close failed")
	}
	s.sinkOpen = false
}

func (s *Session) finish() {
	if s.state == StateClosed {
		return
	}
	s.conn.Close()
	s.setState(StateClosed)
	s.maybeStats(time.Time{})
}

func (s *Session) send(m protocol.OhmMessage) error {
	_, err := s.conn.WriteTo(protocol.EncodeOhm(m), s.dest)
	return err
}

func (s *Session) setState(state State) {
	if s.state == state && state != StateJoining {
		return
	}
	s.state = state
	s.config.Metrics.setState(state)
	s.log.WithField("state", state.String()).Debug("State changed")
	if cb := s.config.Callbacks.OnStateChange; cb != nil {
		cb(state)
	}
}

func (s *Session) dropNoise(reason string, from net.Addr) {
	s.noiseCount++
	s.config.Metrics.noise()
	if s.noise.Allow() {
		s.log.WithFields(logrus.Fields{
			"reason": reason,
			"from":   addrString(from),
		}).Debug("Dropped datagram")
	}
}

// maybeStats publishes a snapshot at most once per interval. A zero now
// forces publication.
func (s *Session) maybeStats(now time.Time) {
	cb := s.config.Callbacks.OnStats
	if cb == nil {
		return
	}
	if !now.IsZero() && now.Sub(s.lastStats) < s.config.StatsInterval {
		return
	}
	if !now.IsZero() {
		s.lastStats = now
	}
	cb(s.Stats())
}

// Stats returns a snapshot of session progress
func (s *Session) Stats() Stats {
	latency, _, _ := s.clock.Stats()
	var buffered time.Duration
	if s.sinkOpen {
		buffered = s.config.Output.Buffered()
	}
	return Stats{
		SessionID:    s.id,
		State:        s.state,
		Format:       s.format,
		Codec:        s.codec,
		Latency:      latency,
		Buffered:     buffered,
		Quality:      s.clock.CheckQuality(),
		Jitter:       s.jitter.Stats(),
		Pending:      s.jitter.Len(),
		Played:       s.played,
		Overdue:      s.overdue,
		Reconfigures: s.reconfigures,
		Relayed:      s.relayed,
		RelayErrors:  s.relayErrors,
		Keepalives:   s.keepalives,
		Noise:        s.noiseCount,
		Slaves:       len(s.slaves),
	}
}

// payload is the audio the header accounts for; trailing bytes are ignored
func payload(a *protocol.Audio) []byte {
	n := int(a.SampleCount) * int(a.Channels) * int(a.BitDepth) / 8
	if n < len(a.Data) {
		return a.Data[:n]
	}
	return a.Data
}

func isPCM(codec string) bool {
	return codec == "" || strings.EqualFold(codec, "PCM")
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
