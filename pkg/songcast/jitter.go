// ABOUTME: Jitter buffer and loss tracker for audio frames
// ABOUTME: Reorders frames by wrapping sequence number, reports gaps once, gives up on late holes
package songcast

import (
	"container/heap"
	"time"

	"github.com/ohreceiver/ohreceiver/pkg/protocol"
)

const (
	// DefaultMaxPending bounds frames held while waiting for a hole to fill
	DefaultMaxPending = 512

	// DefaultMaxGap is the largest forward jump treated as loss; anything
	// larger means the sender restarted its numbering
	DefaultMaxGap = 4096

	// DefaultRestartAfter is how many consecutive frames far behind the
	// stream it takes to accept that the sender renumbered downwards
	DefaultRestartAfter = 3
)

// seqAfter reports whether a follows b modulo 2^32
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// Entry is a frame held by the jitter buffer
type Entry struct {
	Seq   uint32
	Due   time.Time
	Audio *protocol.Audio
}

// JitterConfig bounds the buffer; zero values select the defaults
type JitterConfig struct {
	MaxPending   int
	MaxGap       uint32
	RestartAfter int
}

// JitterStats counts what happened to arriving frames
type JitterStats struct {
	Received        uint64
	Delivered       uint64
	Duplicates      uint64
	Stale           uint64 // Frames far behind the stream, dropped
	Lost            uint64 // Frames given up on
	GapsReported    uint64 // Missing frames reported at detection
	Discontinuities uint64
}

// JitterBuffer turns frames in arrival order into frames in sequence order
type JitterBuffer struct {
	config  JitterConfig
	started bool
	last    uint32 // Last delivered, or one before the anchor
	highest uint32 // Highest sequence seen
	pending entryHeap
	held    map[uint32]struct{}
	missing map[uint32]struct{}
	stats   JitterStats

	// Run of consecutive frames far behind the stream
	restartSeq uint32
	restartRun int
}

// NewJitterBuffer creates an empty buffer
func NewJitterBuffer(config JitterConfig) *JitterBuffer {
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultMaxPending
	}
	if config.MaxGap == 0 || config.MaxGap > 1<<30 {
		config.MaxGap = DefaultMaxGap
	}
	if config.RestartAfter <= 0 {
		config.RestartAfter = DefaultRestartAfter
	}
	return &JitterBuffer{
		config:  config,
		held:    make(map[uint32]struct{}),
		missing: make(map[uint32]struct{}),
	}
}

// Push offers an arriving frame. It returns false for duplicates and
// frames at or before the last delivered one, so delivery never goes
// backwards within a numbering. Otherwise it returns the sequence
// numbers newly found missing, each reported only once.
func (j *JitterBuffer) Push(e Entry) (gaps []uint32, ok bool) {
	j.stats.Received++

	if !j.started {
		j.anchor(e.Seq)
	}

	switch {
	case seqAfter(e.Seq, j.last):
		j.restartRun = 0
		if e.Seq-j.last > j.config.MaxGap {
			// Far ahead: the sender skipped or renumbered upwards
			j.stats.Discontinuities++
			j.anchor(e.Seq)
		}
	case j.last-e.Seq < j.config.MaxGap:
		j.stats.Duplicates++
		return nil, false
	default:
		// Far behind: stale, unless enough consecutive frames agree the
		// sender renumbered downwards
		if !j.confirmRestart(e.Seq) {
			j.stats.Stale++
			return nil, false
		}
		j.stats.Discontinuities++
		j.anchor(e.Seq)
	}
	if _, dup := j.held[e.Seq]; dup {
		j.stats.Duplicates++
		return nil, false
	}

	if seqAfter(e.Seq, j.highest) {
		for s := j.highest + 1; s != e.Seq; s++ {
			if _, seen := j.held[s]; seen {
				continue
			}
			if _, known := j.missing[s]; known {
				continue
			}
			j.missing[s] = struct{}{}
			gaps = append(gaps, s)
		}
		j.highest = e.Seq
	} else {
		delete(j.missing, e.Seq)
	}

	j.stats.GapsReported += uint64(len(gaps))
	j.held[e.Seq] = struct{}{}
	heap.Push(&j.pending, e)
	return gaps, true
}

// confirmRestart tracks frames far behind the stream and reports when
// RestartAfter of them have arrived in consecutive order
func (j *JitterBuffer) confirmRestart(seq uint32) bool {
	if j.restartRun > 0 && seq == j.restartSeq+1 {
		j.restartRun++
	} else {
		j.restartRun = 1
	}
	j.restartSeq = seq
	if j.restartRun < j.config.RestartAfter {
		return false
	}
	j.restartRun = 0
	return true
}

// anchor restarts numbering just before seq, discarding anything held
func (j *JitterBuffer) anchor(seq uint32) {
	j.started = true
	j.last = seq - 1
	j.highest = seq - 1
	j.restartRun = 0
	j.pending = j.pending[:0]
	clear(j.held)
	clear(j.missing)
}

// Pop returns the next frame to play, if one is ready at now. A frame is
// ready when it directly follows the last delivered one, when its due
// time has passed, or when the buffer is over capacity. skipped counts
// earlier frames given up on to release it.
func (j *JitterBuffer) Pop(now time.Time) (e Entry, skipped uint32, ok bool) {
	if len(j.pending) == 0 {
		return Entry{}, 0, false
	}

	head := j.pending[0]
	if head.Seq != j.last+1 && now.Before(head.Due) && len(j.pending) <= j.config.MaxPending {
		return Entry{}, 0, false
	}
	return j.deliver()
}

// Flush releases the next held frame regardless of timing
func (j *JitterBuffer) Flush() (e Entry, skipped uint32, ok bool) {
	if len(j.pending) == 0 {
		return Entry{}, 0, false
	}
	return j.deliver()
}

func (j *JitterBuffer) deliver() (Entry, uint32, bool) {
	e := heap.Pop(&j.pending).(Entry)
	delete(j.held, e.Seq)

	skipped := e.Seq - j.last - 1
	for s := j.last + 1; s != e.Seq; s++ {
		delete(j.missing, s)
	}

	j.last = e.Seq
	j.stats.Lost += uint64(skipped)
	j.stats.Delivered++
	return e, skipped, true
}

// NextDue returns the due time of the earliest held frame
func (j *JitterBuffer) NextDue() (time.Time, bool) {
	if len(j.pending) == 0 {
		return time.Time{}, false
	}
	return j.pending[0].Due, true
}

// Len returns the number of held frames
func (j *JitterBuffer) Len() int {
	return len(j.pending)
}

// Missing returns how many reported holes are still open
func (j *JitterBuffer) Missing() int {
	return len(j.missing)
}

// Stats returns the counters
func (j *JitterBuffer) Stats() JitterStats {
	return j.stats
}

// entryHeap orders entries by sequence number modulo 2^32. Held entries
// always lie within MaxGap of each other, so the order is consistent.
type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	return seqAfter(h[j].Seq, h[i].Seq)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(Entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
