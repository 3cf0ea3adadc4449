// ABOUTME: Playback clock for Songcast latency and frame timing
// ABOUTME: Converts sender latency units, schedules frames and tracks stream quality
package sync

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LostAfter is how long without frames before the stream counts as lost
const LostAfter = 2 * time.Second

// Quality represents stream timing quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// TimeProvider supplies the current time. Tests use a fake.
type TimeProvider interface {
	Now() time.Time
}

// SystemTime is the wall clock
type SystemTime struct{}

func (SystemTime) Now() time.Time { return time.Now() }

// Family returns the clock family a sample rate belongs to: 44100 for
// multiples of 441 Hz, 48000 for everything else
func Family(rate uint32) uint64 {
	if rate%441 == 0 {
		return 44100
	}
	return 48000
}

// LatencyToMs converts a sender's media latency to whole milliseconds
func LatencyToMs(rate, units uint32) uint32 {
	return uint32(uint64(units) * 1000 / (256 * Family(rate)))
}

// Latency converts a sender's media latency to a duration
func Latency(rate, units uint32) time.Duration {
	return time.Duration(uint64(units) * uint64(time.Second) / (256 * Family(rate)))
}

// TargetBuffer is the sink buffer depth for a given latency
func TargetBuffer(latency time.Duration) time.Duration {
	return 2 * latency
}

// DueTime is when a frame that arrived at arrival must be played even if
// earlier frames are still missing
func DueTime(arrival time.Time, latency time.Duration) time.Time {
	return arrival.Add(latency)
}

// Overdue reports whether a frame is so late the sink has already played
// past it. Without a declared latency nothing is ever overdue.
func Overdue(now, due time.Time, latency time.Duration) bool {
	if latency <= 0 {
		return false
	}
	return now.Sub(due) > latency
}

// PlaybackClock tracks the current latency and how well frames keep time
type PlaybackClock struct {
	mu            sync.RWMutex
	time          TimeProvider
	rate          uint32
	units         uint32
	latency       time.Duration
	lateRatio     float64 // Smoothed share of frames that were overdue or lost
	smoothingRate float64
	lastFrame     time.Time
	quality       Quality
}

// NewPlaybackClock creates a clock reading time from tp
func NewPlaybackClock(tp TimeProvider) *PlaybackClock {
	if tp == nil {
		tp = SystemTime{}
	}
	return &PlaybackClock{
		time:          tp,
		smoothingRate: 0.05,
		quality:       QualityLost,
	}
}

// Update records the latency declared by the latest frame and returns it
func (c *PlaybackClock) Update(rate, units uint32) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rate == c.rate && units == c.units {
		return c.latency
	}

	c.rate = rate
	c.units = units
	c.latency = Latency(rate, units)

	logrus.WithFields(logrus.Fields{
		"rate":       rate,
		"latency_ms": LatencyToMs(rate, units),
	}).Debug("Stream latency changed")

	return c.latency
}

// Latency returns the current stream latency
func (c *PlaybackClock) Latency() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latency
}

// DueTime schedules a frame arriving now against the current latency
func (c *PlaybackClock) DueTime(arrival time.Time) time.Time {
	return DueTime(arrival, c.Latency())
}

// Overdue checks a due time against the current time and latency
func (c *PlaybackClock) Overdue(due time.Time) bool {
	return Overdue(c.time.Now(), due, c.Latency())
}

// RecordPlayed notes a frame handed to the sink
func (c *PlaybackClock) RecordPlayed() {
	c.record(0, 1)
}

// RecordLate notes n frames that were overdue or never arrived
func (c *PlaybackClock) RecordLate(n int) {
	c.record(1, n)
}

func (c *PlaybackClock) record(sample float64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < n; i++ {
		c.lateRatio += c.smoothingRate * (sample - c.lateRatio)
	}
	if sample == 0 {
		c.lastFrame = c.time.Now()
	}

	if c.lateRatio < 0.01 {
		c.quality = QualityGood
	} else {
		c.quality = QualityDegraded
	}
}

// CheckQuality updates quality based on time since the last played frame
func (c *PlaybackClock) CheckQuality() Quality {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastFrame.IsZero() || c.time.Now().Sub(c.lastFrame) > LostAfter {
		c.quality = QualityLost
	}
	return c.quality
}

// Stats returns the latency, smoothed late ratio and quality
func (c *PlaybackClock) Stats() (latency time.Duration, lateRatio float64, quality Quality) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latency, c.lateRatio, c.quality
}
