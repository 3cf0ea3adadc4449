// ABOUTME: Ohz discovery message definitions
// ABOUTME: Encodes and decodes zone and preset queries and their answers
package protocol

import (
	"encoding/binary"
)

// OhzType identifies an Ohz message
type OhzType uint8

const (
	OhzZoneQuery   OhzType = 0
	OhzZoneURI     OhzType = 1
	OhzPresetQuery OhzType = 2
	OhzPresetInfo  OhzType = 3
)

// OhzMessage is any decoded Ohz message
type OhzMessage interface {
	Type() OhzType
	appendPayload(b []byte) []byte
}

// ZoneQuery asks the zone server for the URI of a zone
type ZoneQuery struct {
	Zone string
}

// ZoneURI answers a ZoneQuery
type ZoneURI struct {
	Zone string
	URI  string
}

// PresetQuery asks any sender for the metadata of a preset
type PresetQuery struct {
	Preset uint32
}

// PresetInfo answers a PresetQuery with a DIDL-Lite metadata document
type PresetInfo struct {
	Preset   uint32
	Metadata []byte
}

func (*ZoneQuery) Type() OhzType { return OhzZoneQuery }
func (*ZoneURI) Type() OhzType { return OhzZoneURI }
func (*PresetQuery) Type() OhzType { return OhzPresetQuery }
func (*PresetInfo) Type() OhzType { return OhzPresetInfo }

func (q *ZoneQuery) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(q.Zone)))
	return append(b, q.Zone...)
}

func (z *ZoneURI) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(z.Zone)))
	b = binary.BigEndian.AppendUint32(b, uint32(len(z.URI)))
	b = append(b, z.Zone...)
	return append(b, z.URI...)
}

func (q *PresetQuery) appendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, q.Preset)
}

func (p *PresetInfo) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, p.Preset)
	b = binary.BigEndian.AppendUint32(b, uint32(len(p.Metadata)))
	return append(b, p.Metadata...)
}

// EncodeOhz serializes an Ohz message including its header
func EncodeOhz(m OhzMessage) []byte {
	payload := m.appendPayload(nil)
	b := make([]byte, 0, HeaderSize+len(payload))
	b = appendHeader(b, ohzSignature, uint8(m.Type()), HeaderSize+len(payload))
	return append(b, payload...)
}

// DecodeOhz parses an Ohz datagram. Unknown types, truncated fields and
// foreign signatures all yield false.
func DecodeOhz(b []byte) (OhzMessage, bool) {
	h, ok := parseHeader(b, ohzSignature)
	if !ok {
		return nil, false
	}

	r := newReader(b)
	var msg OhzMessage

	switch OhzType(h.Type) {
	case OhzZoneQuery:
		msg = &ZoneQuery{Zone: string(r.bytes(r.u32()))}
	case OhzZoneURI:
		zoneLen, uriLen := r.u32(), r.u32()
		z := &ZoneURI{}
		z.Zone = string(r.bytes(zoneLen))
		z.URI = string(r.bytes(uriLen))
		msg = z
	case OhzPresetQuery:
		msg = &PresetQuery{Preset: r.u32()}
	case OhzPresetInfo:
		p := &PresetInfo{Preset: r.u32()}
		p.Metadata = r.bytes(r.u32())
		msg = p
	default:
		return nil, false
	}

	if r.bad {
		return nil, false
	}
	return msg, true
}
