// ABOUTME: Common Songcast message header
// ABOUTME: Signature, version, type and length shared by Ohm and Ohz
package protocol

import (
	"encoding/binary"
)

const (
	// HeaderSize is the size of the common message header
	HeaderSize = 4 + 1 + 1 + 2

	// Version is the only protocol version this package speaks
	Version = 1
)

var (
	ohmSignature = [4]byte{'O', 'h', 'm', ' '}
	ohzSignature = [4]byte{'O', 'h', 'z', ' '}
)

// Header is the fixed prefix of every Songcast datagram
type Header struct {
	Signature [4]byte
	Version   uint8
	Type      uint8
	Length    uint16 // Total message length including the header
}

// parseHeader reads a header and checks signature and version.
// The declared length is informational only; bounds are always checked
// against the datagram itself.
func parseHeader(b []byte, signature [4]byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}

	var h Header
	copy(h.Signature[:], b[0:4])
	h.Version = b[4]
	h.Type = b[5]
	h.Length = binary.BigEndian.Uint16(b[6:8])

	if h.Signature != signature || h.Version != Version {
		return Header{}, false
	}

	return h, true
}

// appendHeader writes a header for a message of the given total length
func appendHeader(b []byte, signature [4]byte, msgType uint8, total int) []byte {
	b = append(b, signature[:]...)
	b = append(b, Version, msgType)
	return binary.BigEndian.AppendUint16(b, uint16(total))
}

// reader is a bounds-checked big-endian cursor over a datagram
type reader struct {
	buf []byte
	off int
	bad bool
}

func newReader(b []byte) *reader {
	return &reader{buf: b, off: HeaderSize}
}

func (r *reader) take(n int) []byte {
	if r.bad || n < 0 || len(r.buf)-r.off < n {
		r.bad = true
		return nil
	}
	s := r.buf[r.off : r.off+n]
	r.off += n
	return s
}

func (r *reader) u8() uint8 {
	if s := r.take(1); s != nil {
		return s[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if s := r.take(2); s != nil {
		return binary.BigEndian.Uint16(s)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if s := r.take(4); s != nil {
		return binary.BigEndian.Uint32(s)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if s := r.take(8); s != nil {
		return binary.BigEndian.Uint64(s)
	}
	return 0
}

// bytes reads a length-prefixed field whose length was read earlier.
// The result is copied so decoded messages never alias the receive buffer.
func (r *reader) bytes(n uint32) []byte {
	if uint64(n) > uint64(len(r.buf)) {
		r.bad = true
		return nil
	}
	s := r.take(int(n))
	if s == nil {
		return nil
	}
	out := make([]byte, len(s))
	copy(out, s)
	return out
}

func (r *reader) rest() []byte {
	if r.bad {
		return nil
	}
	out := make([]byte, len(r.buf)-r.off)
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out
}
