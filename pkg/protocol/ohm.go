// ABOUTME: Ohm streaming message definitions
// ABOUTME: Encodes and decodes join/listen/leave, audio, track, metatext, slave and resend
package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
)

// OhmType identifies an Ohm message
type OhmType uint8

const (
	OhmJoin     OhmType = 0
	OhmListen   OhmType = 1
	OhmLeave    OhmType = 2
	OhmAudio    OhmType = 3
	OhmTrack    OhmType = 4
	OhmMetatext OhmType = 5
	OhmSlave    OhmType = 6
	OhmResend   OhmType = 7
)

func (t OhmType) String() string {
	switch t {
	case OhmJoin:
		return "join"
	case OhmListen:
		return "listen"
	case OhmLeave:
		return "leave"
	case OhmAudio:
		return "audio"
	case OhmTrack:
		return "track"
	case OhmMetatext:
		return "metatext"
	case OhmSlave:
		return "slave"
	case OhmResend:
		return "resend"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Relayed reports whether messages of this type are forwarded to slaves
func (t OhmType) Relayed() bool {
	return t == OhmAudio || t == OhmTrack || t == OhmMetatext
}

// Audio flags
const (
	FlagHalt        = 1 << 0
	FlagLossless    = 1 << 1
	FlagTimestamped = 1 << 2
	FlagResent      = 1 << 3
)

// AudioHeaderSize is the audio header length excluding the codec name
const AudioHeaderSize = 50

// OhmMessage is any decoded Ohm message
type OhmMessage interface {
	Type() OhmType
	appendPayload(b []byte) []byte
}

// Join asks the sender to start streaming
type Join struct{}

// Listen keeps a session alive
type Listen struct{}

// Leave ends a session
type Leave struct{}

// Audio carries one frame of audio
type Audio struct {
	Flags            uint8
	SampleCount      uint16
	Frame            uint32 // Sequence number, wraps at 2^32
	NetworkTimestamp uint32
	MediaLatency     uint32 // Units of 1/(256*family) seconds
	MediaTimestamp   uint32
	SampleStart      uint64
	SamplesTotal     uint64
	SampleRate       uint32
	BitRate          uint32
	VolumeOffset     int16
	BitDepth         uint8
	Channels         uint8
	Codec            string
	Data             []byte
}

// Halt reports whether this is the last frame before the sender stops
func (a *Audio) Halt() bool { return a.Flags&FlagHalt != 0 }

// Resent reports whether the frame is a retransmission
func (a *Audio) Resent() bool { return a.Flags&FlagResent != 0 }

// Track announces the current track
type Track struct {
	Sequence uint32
	URI      string
	Metadata string
}

// Metatext carries free-form stream text (e.g. radio now-playing)
type Metatext struct {
	Sequence uint32
	Text     string
}

// Slave replaces the set of downstream receivers to relay to
type Slave struct {
	Slaves []*net.UDPAddr
}

// Resend lists frame numbers; sent by receivers to request retransmission
// and seen on the group as a report of frames other receivers lost
type Resend struct {
	Frames []uint32
}

// UnknownOhm is a header-valid message of a type this package does not know
type UnknownOhm struct {
	MsgType OhmType
	Payload []byte
}

func (Join) Type() OhmType { return OhmJoin }
func (Listen) Type() OhmType { return OhmListen }
func (Leave) Type() OhmType { return OhmLeave }
func (*Audio) Type() OhmType { return OhmAudio }
func (*Track) Type() OhmType { return OhmTrack }
func (*Metatext) Type() OhmType { return OhmMetatext }
func (*Slave) Type() OhmType { return OhmSlave }
func (*Resend) Type() OhmType { return OhmResend }
func (u *UnknownOhm) Type() OhmType { return u.MsgType }

func (Join) appendPayload(b []byte) []byte { return b }
func (Listen) appendPayload(b []byte) []byte { return b }
func (Leave) appendPayload(b []byte) []byte { return b }

func (a *Audio) appendPayload(b []byte) []byte {
	codec := a.Codec
	if len(codec) > 255 {
		codec = codec[:255]
	}
	b = append(b, AudioHeaderSize, a.Flags)
	b = binary.BigEndian.AppendUint16(b, a.SampleCount)
	b = binary.BigEndian.AppendUint32(b, a.Frame)
	b = binary.BigEndian.AppendUint32(b, a.NetworkTimestamp)
	b = binary.BigEndian.AppendUint32(b, a.MediaLatency)
	b = binary.BigEndian.AppendUint32(b, a.MediaTimestamp)
	b = binary.BigEndian.AppendUint64(b, a.SampleStart)
	b = binary.BigEndian.AppendUint64(b, a.SamplesTotal)
	b = binary.BigEndian.AppendUint32(b, a.SampleRate)
	b = binary.BigEndian.AppendUint32(b, a.BitRate)
	b = binary.BigEndian.AppendUint16(b, uint16(a.VolumeOffset))
	b = append(b, a.BitDepth, a.Channels, 0, uint8(len(codec)))
	b = append(b, codec...)
	return append(b, a.Data...)
}

func (t *Track) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, t.Sequence)
	b = binary.BigEndian.AppendUint32(b, uint32(len(t.URI)))
	b = binary.BigEndian.AppendUint32(b, uint32(len(t.Metadata)))
	b = append(b, t.URI...)
	return append(b, t.Metadata...)
}

func (m *Metatext) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Sequence)
	b = binary.BigEndian.AppendUint32(b, uint32(len(m.Text)))
	return append(b, m.Text...)
}

func (s *Slave) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s.Slaves)))
	for _, addr := range s.Slaves {
		var ip [4]byte
		if v4 := addr.IP.To4(); v4 != nil {
			copy(ip[:], v4)
		}
		b = append(b, ip[:]...)
		b = binary.BigEndian.AppendUint16(b, uint16(addr.Port))
	}
	return b
}

func (r *Resend) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(r.Frames)))
	for _, f := range r.Frames {
		b = binary.BigEndian.AppendUint32(b, f)
	}
	return b
}

func (u *UnknownOhm) appendPayload(b []byte) []byte {
	return append(b, u.Payload...)
}

// EncodeOhm serializes an Ohm message including its header
func EncodeOhm(m OhmMessage) []byte {
	payload := m.appendPayload(nil)
	b := make([]byte, 0, HeaderSize+len(payload))
	b = appendHeader(b, ohmSignature, uint8(m.Type()), HeaderSize+len(payload))
	return append(b, payload...)
}

// PeekOhmType validates the header of an Ohm datagram and returns its type
// without decoding the payload
func PeekOhmType(b []byte) (OhmType, bool) {
	h, ok := parseHeader(b, ohmSignature)
	if !ok {
		return 0, false
	}
	return OhmType(h.Type), true
}

// DecodeOhm parses an Ohm datagram. It returns false for anything that is
// not a well-formed Ohm v1 message.
func DecodeOhm(b []byte) (OhmMessage, bool) {
	h, ok := parseHeader(b, ohmSignature)
	if !ok {
		return nil, false
	}

	r := newReader(b)
	var msg OhmMessage

	switch OhmType(h.Type) {
	case OhmJoin:
		msg = Join{}
	case OhmListen:
		msg = Listen{}
	case OhmLeave:
		msg = Leave{}
	case OhmAudio:
		msg = decodeAudio(r)
	case OhmTrack:
		t := &Track{Sequence: r.u32()}
		uriLen, metaLen := r.u32(), r.u32()
		t.URI = string(r.bytes(uriLen))
		t.Metadata = string(r.bytes(metaLen))
		msg = t
	case OhmMetatext:
		m := &Metatext{Sequence: r.u32()}
		m.Text = string(r.bytes(r.u32()))
		msg = m
	case OhmSlave:
		msg = decodeSlave(r)
	case OhmResend:
		msg = decodeResend(r)
	default:
		msg = &UnknownOhm{MsgType: OhmType(h.Type), Payload: r.rest()}
	}

	if r.bad || msg == nil {
		return nil, false
	}
	return msg, true
}

func decodeAudio(r *reader) OhmMessage {
	a := &Audio{}
	headerBytes := r.u8()
	a.Flags = r.u8()
	a.SampleCount = r.u16()
	a.Frame = r.u32()
	a.NetworkTimestamp = r.u32()
	a.MediaLatency = r.u32()
	a.MediaTimestamp = r.u32()
	a.SampleStart = r.u64()
	a.SamplesTotal = r.u64()
	a.SampleRate = r.u32()
	a.BitRate = r.u32()
	a.VolumeOffset = int16(r.u16())
	a.BitDepth = r.u8()
	a.Channels = r.u8()
	r.u8() // reserved
	codecLen := r.u8()

	if headerBytes < AudioHeaderSize {
		return nil
	}
	// Skip header extensions a newer sender may add
	r.take(int(headerBytes) - AudioHeaderSize)

	a.Codec = string(r.bytes(uint32(codecLen)))
	a.Data = r.rest()
	return a
}

func decodeSlave(r *reader) OhmMessage {
	count := r.u32()
	// Each entry is 6 bytes; reject counts the datagram cannot hold
	if uint64(count)*6 > uint64(len(r.buf)) {
		return nil
	}
	s := &Slave{Slaves: make([]*net.UDPAddr, 0, count)}
	for i := uint32(0); i < count; i++ {
		ip := r.take(4)
		port := r.u16()
		if r.bad {
			return nil
		}
		s.Slaves = append(s.Slaves, &net.UDPAddr{
			IP:   net.IPv4(ip[0], ip[1], ip[2], ip[3]),
			Port: int(port),
		})
	}
	return s
}

func decodeResend(r *reader) OhmMessage {
	count := r.u32()
	if uint64(count)*4 > uint64(len(r.buf)) {
		return nil
	}
	m := &Resend{Frames: make([]uint32, 0, count)}
	for i := uint32(0); i < count; i++ {
		m.Frames = append(m.Frames, r.u32())
	}
	return m
}
