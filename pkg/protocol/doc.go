// ABOUTME: Songcast wire protocol package
// ABOUTME: Defines Ohm/Ohz message codecs and stream endpoints
// Package protocol implements the OpenHome Songcast wire formats.
//
// Two message families share one 8-byte header: Ohm (streaming, used for
// both multicast "ohm" and unicast "ohu" sessions) and Ohz (zone and preset
// discovery). Decoding never fails loudly: anything malformed, truncated or
// carrying a foreign signature decodes to (nil, false) so callers can treat
// it as network noise.
//
// Example:
//
//	msg, ok := protocol.DecodeOhm(datagram)
//	if audio, isAudio := msg.(*protocol.Audio); ok && isAudio {
//	    fmt.Println(audio.Frame, audio.SampleRate)
//	}
//
//	query := protocol.EncodeOhz(&protocol.PresetQuery{Preset: 7})
package protocol
