// ABOUTME: Tests for Ohm message encoding and decoding
// ABOUTME: Covers every message type, truncation and foreign datagrams
package protocol

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAudio() *Audio {
	return &Audio{
		Flags:            FlagLossless | FlagTimestamped,
		SampleCount:      2,
		Frame:            0xfffffffe,
		NetworkTimestamp: 1234,
		MediaLatency:     0x0000ac44 * 256 / 10,
		MediaTimestamp:   99,
		SampleStart:      100,
		SamplesTotal:     1 << 40,
		SampleRate:       44100,
		BitRate:          1411200,
		VolumeOffset:     -3,
		BitDepth:         16,
		Channels:         2,
		Codec:            "PCM",
		Data:             []byte{0, 1, 2, 3, 4, 5, 6, 7},
	}
}

func TestAudioLayout(t *testing.T) {
	b := EncodeOhm(sampleAudio())

	require.Len(t, b, HeaderSize+AudioHeaderSize+3+8)
	assert.Equal(t, []byte("Ohm "), b[0:4])
	assert.Equal(t, uint8(Version), b[4])
	assert.Equal(t, uint8(OhmAudio), b[5])
	assert.Equal(t, uint16(len(b)), binary.BigEndian.Uint16(b[6:8]))

	p := b[HeaderSize:]
	assert.Equal(t, uint8(AudioHeaderSize), p[0])
	assert.Equal(t, uint32(0xfffffffe), binary.BigEndian.Uint32(p[4:8]))
	assert.Equal(t, uint32(44100), binary.BigEndian.Uint32(p[36:40]))
	assert.Equal(t, uint8(16), p[46])
	assert.Equal(t, uint8(2), p[47])
	assert.Equal(t, uint8(3), p[49])
	assert.Equal(t, "PCM", string(p[50:53]))
}

func TestDecodeAudio(t *testing.T) {
	want := sampleAudio()
	msg, ok := DecodeOhm(EncodeOhm(want))
	require.True(t, ok)

	got, ok := msg.(*Audio)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.False(t, got.Halt())
	assert.False(t, got.Resent())
}

func TestDecodeAudioHeaderExtension(t *testing.T) {
	b := EncodeOhm(sampleAudio())
	// Grow the audio header by four bytes of extension data
	ext := append([]byte{}, b[:HeaderSize+AudioHeaderSize]...)
	ext[HeaderSize] = AudioHeaderSize + 4
	ext = append(ext, 0xde, 0xad, 0xbe, 0xef)
	ext = append(ext, b[HeaderSize+AudioHeaderSize:]...)

	msg, ok := DecodeOhm(ext)
	require.True(t, ok)
	a := msg.(*Audio)
	assert.Equal(t, "PCM", a.Codec)
	assert.Equal(t, sampleAudio().Data, a.Data)
}

func TestDecodeAudioFlags(t *testing.T) {
	a := sampleAudio()
	a.Flags = FlagHalt | FlagResent
	msg, ok := DecodeOhm(EncodeOhm(a))
	require.True(t, ok)
	assert.True(t, msg.(*Audio).Halt())
	assert.True(t, msg.(*Audio).Resent())
}

func TestDecodeMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  OhmMessage
	}{
		{"join", Join{}},
		{"listen", Listen{}},
		{"leave", Leave{}},
		{"track", &Track{Sequence: 7, URI: "http://host/track.flac", Metadata: "<DIDL-Lite/>"}},
		{"metatext", &Metatext{Sequence: 3, Text: "Now playing"}},
		{"slave", &Slave{Slaves: []*net.UDPAddr{
			{IP: net.IPv4(192, 168, 1, 20), Port: 51972},
			{IP: net.IPv4(192, 168, 1, 21), Port: 51973},
		}}},
		{"empty slave", &Slave{Slaves: []*net.UDPAddr{}}},
		{"resend", &Resend{Frames: []uint32{10, 11, 4000000000}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := EncodeOhm(tt.msg)
			assert.Equal(t, uint16(len(b)), binary.BigEndian.Uint16(b[6:8]))

			got, ok := DecodeOhm(b)
			require.True(t, ok)
			assert.Equal(t, tt.msg.Type(), got.Type())

			if s, isSlave := tt.msg.(*Slave); isSlave {
				gs := got.(*Slave)
				require.Len(t, gs.Slaves, len(s.Slaves))
				for i := range s.Slaves {
					assert.True(t, s.Slaves[i].IP.Equal(gs.Slaves[i].IP))
					assert.Equal(t, s.Slaves[i].Port, gs.Slaves[i].Port)
				}
				return
			}
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	b := []byte{'O', 'h', 'm', ' ', 1, 42, 0, 10, 0xaa, 0xbb}
	msg, ok := DecodeOhm(b)
	require.True(t, ok)

	u, ok := msg.(*UnknownOhm)
	require.True(t, ok)
	assert.Equal(t, OhmType(42), u.Type())
	assert.Equal(t, []byte{0xaa, 0xbb}, u.Payload)
	assert.Equal(t, "type(42)", u.Type().String())
}

func TestDecodeRejectsNoise(t *testing.T) {
	track := EncodeOhm(&Track{Sequence: 1, URI: "http://x", Metadata: "meta"})
	audio := EncodeOhm(sampleAudio())

	badVersion := append([]byte{}, track...)
	badVersion[4] = 2

	shortAudioHeader := append([]byte{}, audio...)
	shortAudioHeader[HeaderSize] = AudioHeaderSize - 1

	hugeSlaveCount := EncodeOhm(&Slave{})
	binary.BigEndian.PutUint32(hugeSlaveCount[HeaderSize:], 0xffffffff)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte("Ohm ")},
		{"wrong signature", EncodeOhz(&PresetQuery{Preset: 1})},
		{"wrong version", badVersion},
		{"truncated track", track[:len(track)-1]},
		{"truncated audio header", audio[:HeaderSize+20]},
		{"truncated codec", audio[:HeaderSize+AudioHeaderSize+1]},
		{"audio header too small", shortAudioHeader},
		{"slave count overflow", hugeSlaveCount},
		{"random", []byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := DecodeOhm(tt.data)
			assert.False(t, ok)
			assert.Nil(t, msg)
		})
	}
}

func TestDecodeDoesNotAliasBuffer(t *testing.T) {
	b := EncodeOhm(sampleAudio())
	msg, ok := DecodeOhm(b)
	require.True(t, ok)

	for i := range b {
		b[i] = 0
	}
	assert.Equal(t, sampleAudio().Data, msg.(*Audio).Data)
}

func TestPeekOhmType(t *testing.T) {
	typ, ok := PeekOhmType(EncodeOhm(&Metatext{Text: "x"}))
	require.True(t, ok)
	assert.Equal(t, OhmMetatext, typ)
	assert.True(t, typ.Relayed())

	_, ok = PeekOhmType([]byte("nope"))
	assert.False(t, ok)

	assert.False(t, OhmListen.Relayed())
	assert.False(t, OhmSlave.Relayed())
}
