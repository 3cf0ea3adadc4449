// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Output sink interface with malgo, oto and null backends
// Package output provides audio sinks for decoded PCM.
//
// Every backend accepts interleaved int32 samples in 24-bit range, buffers
// about the depth it was opened with, and can be drained before a format
// change or shutdown.
//
//   - Malgo: miniaudio device, 16 and 24-bit, reopens on format change
//   - Oto: 16-bit player; one context per process, so the first format sticks
//   - Null: discards audio, for relay-only receivers
//
// Example:
//
//	out, err := output.New("malgo")
//	err = out.Open(audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}, 200*time.Millisecond)
//	err = out.Write(samples)
//	err = out.Drain()
package output
