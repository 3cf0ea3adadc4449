// ABOUTME: Playback clock package
// ABOUTME: Latency conversion and frame timing for Songcast streams
// Package sync turns the media latency a Songcast sender declares into
// playback timing.
//
// Latency arrives in units of 1/(256 × family) seconds, where the family is
// 44100 for rates divisible by 441 and 48000 otherwise. A frame waits at
// most one latency for missing predecessors, and the sink holds about two
// latencies of audio.
//
// Example:
//
//	clock := sync.NewPlaybackClock(sync.SystemTime{})
//	latency := clock.Update(44100, frame.MediaLatency)
//	due := clock.DueTime(time.Now())
package sync
