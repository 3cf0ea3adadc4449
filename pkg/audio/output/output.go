// ABOUTME: Audio output interface definition
// ABOUTME: Common sink interface, software volume and backend selection
package output

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ohreceiver/ohreceiver/pkg/audio"
)

var (
	// ErrNotOpen is returned when writing to an output that is not open
	ErrNotOpen = errors.New("output not open")

	// ErrReopenUnsupported is returned by backends that cannot change
	// format once the device exists
	ErrReopenUnsupported = errors.New("output cannot change format")

	// ErrUnknownBackend is returned by New for unrecognised names
	ErrUnknownBackend = errors.New("unknown output backend")
)

// Output represents an audio output device
type Output interface {
	// Open configures the device for format, buffering about bufferDepth
	// of audio. Opening an already open output with a new format replaces
	// the device; callers drain first.
	Open(format audio.Format, bufferDepth time.Duration) error

	// Write queues samples for playback, blocking while the buffer is full
	Write(samples []int32) error

	// Drain blocks until queued audio has played
	Drain() error

	// Buffered reports how much queued audio has not played yet
	Buffered() time.Duration

	// Close releases the device
	Close() error
}

// VolumeControl is implemented by outputs with software volume
type VolumeControl interface {
	SetVolume(volume int)
	SetMuted(muted bool)
	Volume() int
	Muted() bool
}

// New creates an output by backend name: malgo, oto or null
func New(name string) (Output, error) {
	switch strings.ToLower(name) {
	case "", "malgo":
		return NewMalgo(), nil
	case "oto":
		return NewOto(), nil
	case "null", "none":
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// softVolume holds volume and mute state shared between the writer and
// the device callback
type softVolume struct {
	level atomic.Int32
	muted atomic.Bool
}

func newSoftVolume() *softVolume {
	v := &softVolume{}
	v.level.Store(100)
	return v
}

// SetVolume sets the volume (0-100)
func (v *softVolume) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	v.level.Store(int32(volume))
}

// SetMuted sets mute state
func (v *softVolume) SetMuted(muted bool) {
	v.muted.Store(muted)
}

// Volume returns current volume
func (v *softVolume) Volume() int {
	return int(v.level.Load())
}

// Muted returns mute state
func (v *softVolume) Muted() bool {
	return v.muted.Load()
}

func (v *softVolume) apply(samples []int32) []int32 {
	return applyVolume(samples, v.Volume(), v.Muted())
}

// applyVolume applies volume and mute to samples with clipping protection
func applyVolume(samples []int32, volume int, muted bool) []int32 {
	multiplier := getVolumeMultiplier(volume, muted)

	result := make([]int32, len(samples))
	if multiplier == 1.0 {
		copy(result, samples)
		return result
	}

	for i, sample := range samples {
		scaled := int64(float64(sample) * multiplier)

		// Clamp to 24-bit range to prevent overflow
		if scaled > audio.Max24Bit {
			scaled = audio.Max24Bit
		} else if scaled < audio.Min24Bit {
			scaled = audio.Min24Bit
		}

		result[i] = int32(scaled)
	}

	return result
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}

// waitUntil polls done every interval until it holds or timeout passes
func waitUntil(done func() bool, interval, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !done() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
	return true
}
