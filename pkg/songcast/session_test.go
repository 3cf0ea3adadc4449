// ABOUTME: Tests for the streaming session
// ABOUTME: Drives sessions with an in-memory socket, a fake clock and a recording output
package songcast

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ohreceiver/ohreceiver/internal/transport/transporttest"
	"github.com/ohreceiver/ohreceiver/pkg/audio"
	"github.com/ohreceiver/ohreceiver/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 100ms at 44.1kHz family
const latency100ms = 256 * 44100 / 10

var sender = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 51972}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingOutput logs every call it receives
type recordingOutput struct {
	mu      sync.Mutex
	calls   []string
	samples int
	openErr error
}

func (o *recordingOutput) Open(format audio.Format, bufferDepth time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "open "+format.String())
	return o.openErr
}

func (o *recordingOutput) Write(samples []int32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "write")
	o.samples += len(samples)
	return nil
}

func (o *recordingOutput) Drain() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "drain")
	return nil
}

func (o *recordingOutput) Buffered() time.Duration { return 0 }

func (o *recordingOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "close")
	return nil
}

func (o *recordingOutput) Calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...)
}

type harness struct {
	t      *testing.T
	conn   *transporttest.Conn
	clock  *fakeClock
	out    *recordingOutput
	ctx    context.Context
	cancel context.CancelFunc
	start  time.Time

	// step is how far the clock moves per idle poll
	step time.Duration
	// stopAfter cancels the run once this much fake time has passed
	stopAfter time.Duration
	// onIdle runs after each clock step with the elapsed fake time
	onIdle func(elapsed time.Duration)

	mu     sync.Mutex
	states []State
	polls  int
}

func newHarness(t *testing.T, stopAfter time.Duration) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		t:         t,
		conn:      transporttest.NewConn(),
		clock:     &fakeClock{now: time.Unix(1700000000, 0)},
		out:       &recordingOutput{},
		ctx:       ctx,
		cancel:    cancel,
		step:      100 * time.Millisecond,
		stopAfter: stopAfter,
	}
	h.start = h.clock.Now()

	h.conn.Idle = func() {
		h.polls++
		if h.polls > 100000 {
			h.cancel()
			return
		}
		h.clock.Advance(h.step)
		elapsed := h.clock.Now().Sub(h.start)
		if h.onIdle != nil {
			h.onIdle(elapsed)
		}
		if h.stopAfter > 0 && elapsed >= h.stopAfter {
			h.cancel()
		}
	}
	return h
}

func (h *harness) session(uri string, mutate func(*Config)) *Session {
	ep, err := protocol.ParseEndpoint(uri)
	require.NoError(h.t, err)

	cfg := Config{
		Endpoint: ep,
		Output:   h.out,
		Time:     h.clock,
	}
	cfg.Callbacks.OnStateChange = func(s State) {
		h.mu.Lock()
		h.states = append(h.states, s)
		h.mu.Unlock()
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewSession(h.conn, cfg)
}

func (h *harness) deliver(m protocol.OhmMessage) {
	h.conn.Deliver(protocol.EncodeOhm(m), sender)
}

// sentTypes lists the Ohm types sent to addr
func (h *harness) sentTypes(addr string) []protocol.OhmType {
	var out []protocol.OhmType
	for _, p := range h.conn.Sent() {
		if p.Addr.String() != addr {
			continue
		}
		typ, ok := protocol.PeekOhmType(p.Data)
		require.True(h.t, ok)
		out = append(out, typ)
	}
	return out
}

func (h *harness) sentTo(addr string) [][]byte {
	var out [][]byte
	for _, p := range h.conn.Sent() {
		if p.Addr.String() == addr {
			out = append(out, p.Data)
		}
	}
	return out
}

func frame(seq uint32, rate uint32, bitDepth uint8) *protocol.Audio {
	return &protocol.Audio{
		SampleCount:  2,
		Frame:        seq,
		MediaLatency: latency100ms,
		SampleRate:   rate,
		BitDepth:     bitDepth,
		Channels:     2,
		Codec:        "PCM",
		Data:         make([]byte, 2*2*int(bitDepth)/8),
	}
}

func halting(a *protocol.Audio) *protocol.Audio {
	a.Flags |= protocol.FlagHalt
	return a
}

func TestKeepaliveSequence(t *testing.T) {
	h := newHarness(t, time.Second)
	s := h.session("ohm://239.255.255.250:51972", nil)

	require.NoError(t, s.Run(h.ctx))

	assert.Equal(t, []protocol.OhmType{
		protocol.OhmJoin,
		protocol.OhmListen,
		protocol.OhmListen, // 800ms, first poll past 750ms
		protocol.OhmLeave,
	}, h.sentTypes("239.255.255.250:51972"))
	assert.True(t, h.conn.Closed())
	assert.Equal(t, StateClosed, s.State())
	assert.False(t, s.Halted())
}

func TestListenFromPeerResetsKeepalive(t *testing.T) {
	h := newHarness(t, time.Second)
	h.onIdle = func(elapsed time.Duration) {
		if elapsed == 700*time.Millisecond {
			h.conn.Deliver(protocol.EncodeOhm(protocol.Listen{}), &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 51972})
		}
	}
	s := h.session("ohm://239.255.255.250:51972", nil)

	require.NoError(t, s.Run(h.ctx))

	assert.Equal(t, []protocol.OhmType{
		protocol.OhmJoin,
		protocol.OhmListen,
		protocol.OhmLeave,
	}, h.sentTypes("239.255.255.250:51972"))
}

func TestUnicastIgnoresPeerListen(t *testing.T) {
	h := newHarness(t, time.Second)
	h.onIdle = func(elapsed time.Duration) {
		if elapsed == 700*time.Millisecond {
			h.deliver(protocol.Listen{})
		}
	}
	s := h.session("ohu://192.168.1.10:51972", nil)

	require.NoError(t, s.Run(h.ctx))

	assert.Equal(t, []protocol.OhmType{
		protocol.OhmJoin,
		protocol.OhmListen,
		protocol.OhmListen,
		protocol.OhmLeave,
	}, h.sentTypes("192.168.1.10:51972"))
}

func TestStateProgression(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", nil)
	h.deliver(frame(1, 44100, 16))

	require.NoError(t, s.Run(h.ctx))

	assert.Equal(t, []State{StateJoining, StateListening, StateActive, StateDraining, StateClosed}, h.states)
}

func TestRelayToSlaves(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)

	slaveA := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 51972}
	slaveB := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 51973}

	var reported []*net.UDPAddr
	s := h.session("ohm://239.255.255.250:51972", func(c *Config) {
		c.Callbacks.OnSlaves = func(slaves []*net.UDPAddr) { reported = slaves }
	})

	audioBytes := protocol.EncodeOhm(frame(1, 44100, 16))
	trackBytes := protocol.EncodeOhm(&protocol.Track{Sequence: 1, URI: "http://x/1.flac"})
	textBytes := protocol.EncodeOhm(&protocol.Metatext{Sequence: 1, Text: "Now playing"})

	h.deliver(&protocol.Slave{Slaves: []*net.UDPAddr{slaveA, slaveB}})
	h.conn.Deliver(audioBytes, sender)
	h.conn.Deliver(trackBytes, sender)
	h.conn.Deliver(textBytes, sender)
	h.deliver(protocol.Listen{})

	require.NoError(t, s.Run(h.ctx))

	require.Len(t, reported, 2)
	for _, slave := range []*net.UDPAddr{slaveA, slaveB} {
		assert.Equal(t, [][]byte{audioBytes, trackBytes, textBytes}, h.sentTo(slave.String()),
			"slave %s receives relayed datagrams unchanged", slave)
	}
	assert.Equal(t, uint64(6), s.Stats().Relayed)
}

func TestEmptySlaveListStopsRelay(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	slave := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 51972}
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(&protocol.Slave{Slaves: []*net.UDPAddr{slave}})
	h.deliver(frame(1, 44100, 16))
	h.deliver(&protocol.Slave{})
	h.deliver(frame(2, 44100, 16))

	require.NoError(t, s.Run(h.ctx))

	assert.Len(t, h.sentTo(slave.String()), 1)
	for _, p := range h.conn.Sent() {
		typ, _ := protocol.PeekOhmType(p.Data)
		if typ == protocol.OhmAudio {
			assert.Equal(t, slave.String(), p.Addr.String())
		}
	}
}

func TestNoRelayWithoutSlaves(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(&protocol.Track{Sequence: 1, URI: "http://x/1.flac"})
	h.deliver(&protocol.Metatext{Sequence: 1, Text: "Now playing"})

	require.NoError(t, s.Run(h.ctx))

	for _, p := range h.conn.Sent() {
		assert.Equal(t, "239.255.255.250:51972", p.Addr.String())
		typ, _ := protocol.PeekOhmType(p.Data)
		assert.NotEqual(t, protocol.OhmTrack, typ)
		assert.NotEqual(t, protocol.OhmMetatext, typ)
	}
	assert.Zero(t, s.Stats().Relayed)
}

func TestRelayErrorsAreIgnored(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	bad := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 51972}
	good := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 51972}
	h.conn.WriteErr = func(addr net.Addr) error {
		if addr.String() == bad.String() {
			return errors.New("host unreachable")
		}
		return nil
	}
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(&protocol.Slave{Slaves: []*net.UDPAddr{bad, good}})
	h.deliver(frame(1, 44100, 16))
	h.deliver(frame(2, 44100, 16))

	require.NoError(t, s.Run(h.ctx))

	assert.Len(t, h.sentTo(good.String()), 2)
	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.RelayErrors)
	assert.Equal(t, uint64(2), stats.Played)
}

func TestFormatChangeReopensOnce(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(frame(1, 44100, 16))
	h.deliver(frame(2, 44100, 16))
	h.deliver(frame(3, 48000, 24))
	h.deliver(frame(4, 48000, 24))

	require.NoError(t, s.Run(h.ctx))

	assert.Equal(t, []string{
		"open 44100Hz/2ch/16bit",
		"write",
		"write",
		"drain",
		"open 48000Hz/2ch/24bit",
		"write",
		"write",
		"drain",
		"close",
	}, h.out.Calls())
	assert.Equal(t, uint64(1), s.Stats().Reconfigures)
}

func TestHaltDrainsAndCloses(t *testing.T) {
	h := newHarness(t, 0)
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(frame(1, 44100, 16))
	h.deliver(halting(frame(2, 44100, 16)))
	h.deliver(frame(3, 44100, 16))

	require.NoError(t, s.Run(h.ctx))

	assert.True(t, s.Halted())
	assert.Equal(t, 1, h.conn.Pending(), "nothing is read after the halt frame")
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []string{"open 44100Hz/2ch/16bit", "write", "write", "drain", "close"}, h.out.Calls())
	assert.Equal(t, []State{StateJoining, StateListening, StateActive, StateDraining, StateClosed}, h.states)
	assert.True(t, h.conn.Closed())
	assert.NotContains(t, h.sentTypes("239.255.255.250:51972"), protocol.OhmLeave)
}

func TestDuplicateHaltFrameIsIgnored(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(frame(1, 44100, 16))
	h.deliver(frame(2, 44100, 16))
	h.deliver(frame(3, 44100, 16))
	h.deliver(halting(frame(2, 44100, 16)))

	require.NoError(t, s.Run(h.ctx))

	assert.False(t, s.Halted())
	assert.Contains(t, h.sentTypes("239.255.255.250:51972"), protocol.OhmLeave)
	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Played)
	assert.Equal(t, uint64(1), stats.Jitter.Duplicates)
}

func TestTrailingPayloadBytesAreNotPlayed(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", nil)

	padded := frame(1, 44100, 16)
	padded.Data = append(padded.Data, 0x7f, 0x7f, 0x7f)
	h.deliver(padded)

	require.NoError(t, s.Run(h.ctx))

	assert.Equal(t, uint64(1), s.Stats().Played)
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	assert.Equal(t, 4, h.out.samples, "two samples on two channels")
}

func TestHaltFlushesHeldFrames(t *testing.T) {
	h := newHarness(t, 0)
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(frame(1, 44100, 16))
	h.deliver(halting(frame(3, 44100, 16)))

	require.NoError(t, s.Run(h.ctx))

	assert.Equal(t, []string{"open 44100Hz/2ch/16bit", "write", "write", "drain", "close"}, h.out.Calls())
	assert.Equal(t, uint64(1), s.Stats().Jitter.Lost)
}

func TestUnsupportedBitDepthIsFatal(t *testing.T) {
	h := newHarness(t, time.Second)
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(frame(1, 44100, 8))

	err := s.Run(h.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, audio.ErrUnsupportedBitDepth)
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, h.conn.Closed())
	assert.Empty(t, h.out.Calls())
}

func TestOutputOpenFailureIsFatal(t *testing.T) {
	h := newHarness(t, time.Second)
	h.out.openErr = errors.New("no device")
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(frame(1, 44100, 16))

	err := s.Run(h.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")
}

func TestReceiveErrorIsFatal(t *testing.T) {
	h := newHarness(t, time.Second)
	h.onIdle = func(elapsed time.Duration) {
		if elapsed == 300*time.Millisecond {
			h.conn.Close()
		}
	}
	s := h.session("ohm://239.255.255.250:51972", nil)

	err := s.Run(h.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestNonPCMIsRelayedNotPlayed(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	slave := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 51972}
	s := h.session("ohm://239.255.255.250:51972", nil)

	flac := frame(1, 44100, 24)
	flac.Codec = "FLAC"
	h.deliver(&protocol.Slave{Slaves: []*net.UDPAddr{slave}})
	h.deliver(flac)

	require.NoError(t, s.Run(h.ctx))

	assert.Empty(t, h.out.Calls())
	assert.Len(t, h.sentTo(slave.String()), 1)
	assert.Contains(t, h.states, StateActive)
}

func TestSenderLostFramesReported(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)

	var lost []uint32
	s := h.session("ohm://239.255.255.250:51972", func(c *Config) {
		c.Callbacks.OnLostFrames = func(frames []uint32) { lost = append(lost, frames...) }
	})
	h.deliver(&protocol.Resend{Frames: []uint32{5, 6}})

	require.NoError(t, s.Run(h.ctx))
	assert.Equal(t, []uint32{5, 6}, lost)
}

func TestTrackAndMetatextCallbacks(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)

	var track TrackInfo
	var texts []string
	s := h.session("ohm://239.255.255.250:51972", func(c *Config) {
		c.Callbacks.OnTrack = func(ti TrackInfo) { track = ti }
		c.Callbacks.OnMetatext = func(text string) { texts = append(texts, text) }
	})

	didl := `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/"
  xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/"
  xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">
  <item><dc:title>Blue in Green</dc:title><dc:creator>Miles Davis</dc:creator></item>
</DIDL-Lite>`
	h.deliver(&protocol.Track{Sequence: 7, URI: "http://x/3.flac", Metadata: didl})
	h.deliver(&protocol.Metatext{Sequence: 1, Text: "Radio Paradise"})

	require.NoError(t, s.Run(h.ctx))

	assert.Equal(t, uint32(7), track.Sequence)
	assert.Equal(t, "http://x/3.flac", track.URI)
	assert.Equal(t, "Blue in Green", track.Details.Title)
	assert.Equal(t, "Miles Davis", track.Details.Artist)
	assert.Equal(t, []string{"Radio Paradise"}, texts)
}

func TestNoiseIsDropped(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", nil)

	truncated := protocol.EncodeOhm(frame(1, 44100, 16))[:20]
	truncated[6], truncated[7] = 0, 20

	h.conn.Deliver([]byte("hello"), sender)
	h.conn.Deliver(protocol.EncodeOhz(&protocol.ZoneQuery{Zone: "abc"}), sender)
	h.conn.Deliver(truncated, sender)
	h.deliver(frame(2, 44100, 16))

	require.NoError(t, s.Run(h.ctx))

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Noise)
	assert.Equal(t, uint64(1), stats.Played)
}

func TestDuplicateFramesPlayOnce(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(frame(1, 44100, 16))
	h.deliver(frame(2, 44100, 16))
	h.deliver(frame(2, 44100, 16))
	h.deliver(frame(1, 44100, 16))

	require.NoError(t, s.Run(h.ctx))

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Played)
	assert.Equal(t, uint64(2), stats.Jitter.Duplicates)
}

func TestOverdueFrameDropped(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	h.step = time.Second
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(frame(1, 44100, 16))
	h.deliver(frame(3, 44100, 16))

	require.NoError(t, s.Run(h.ctx))

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Played)
	assert.Equal(t, uint64(1), stats.Overdue)
	assert.Equal(t, uint64(1), stats.Jitter.Lost)
}

func TestResendRequestedForGaps(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", func(c *Config) {
		c.RequestResend = true
	})

	h.deliver(frame(1, 44100, 16))
	h.deliver(frame(4, 44100, 16))

	require.NoError(t, s.Run(h.ctx))

	var requested []uint32
	for _, data := range h.sentTo("239.255.255.250:51972") {
		msg, ok := protocol.DecodeOhm(data)
		require.True(t, ok)
		if r, ok := msg.(*protocol.Resend); ok {
			requested = append(requested, r.Frames...)
		}
	}
	assert.Equal(t, []uint32{2, 3}, requested)
}

func TestNoResendByDefault(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", nil)

	h.deliver(frame(1, 44100, 16))
	h.deliver(frame(4, 44100, 16))

	require.NoError(t, s.Run(h.ctx))
	assert.NotContains(t, h.sentTypes("239.255.255.250:51972"), protocol.OhmResend)
}

func TestStatsPublishedPeriodically(t *testing.T) {
	h := newHarness(t, 2*time.Second)

	var snapshots []Stats
	s := h.session("ohm://239.255.255.250:51972", func(c *Config) {
		c.Callbacks.OnStats = func(st Stats) { snapshots = append(snapshots, st) }
	})
	h.deliver(frame(1, 44100, 16))

	require.NoError(t, s.Run(h.ctx))

	// Every 500ms over 2s, plus the final snapshot at close
	require.Len(t, snapshots, 5)
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, StateClosed, last.State)
	assert.Equal(t, s.ID(), last.SessionID)
	assert.Equal(t, 100*time.Millisecond, last.Latency)
	assert.Equal(t, uint64(1), last.Played)
}

func TestRunAfterCloseFails(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	s := h.session("ohm://239.255.255.250:51972", nil)

	require.NoError(t, s.Run(h.ctx))
	assert.ErrorIs(t, s.Run(context.Background()), ErrClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "joining", StateJoining.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
