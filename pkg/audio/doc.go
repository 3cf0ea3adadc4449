// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format and sample conversion functions
// Package audio provides the PCM types shared by the receiver and its sinks.
// Format describes the sample rate, channel count and bit depth of a stream.
//
// Songcast carries PCM in network byte order. DecodePCM converts 16 and
// 24-bit payloads to int32 samples in 24-bit range, which every output
// accepts.
//
// Example:
//
//	format := audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
//	samples, err := audio.DecodePCM(frame.Data, format.BitDepth)
package audio
