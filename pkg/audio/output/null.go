// ABOUTME: Output that discards audio
// ABOUTME: Used for relay-only receivers and machines without a sound device
package output

import (
	"sync"
	"time"

	"github.com/ohreceiver/ohreceiver/pkg/audio"
)

// Null accepts and discards samples, keeping counters for diagnostics
type Null struct {
	*softVolume

	mu      sync.Mutex
	format  audio.Format
	open    bool
	opens   int
	samples int
}

// NewNull creates a discarding output
func NewNull() *Null {
	return &Null{softVolume: newSoftVolume()}
}

func (n *Null) Open(format audio.Format, bufferDepth time.Duration) error {
	if err := format.Valid(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open || n.format != format {
		n.opens++
	}
	n.format = format
	n.open = true
	return nil
}

func (n *Null) Write(samples []int32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return ErrNotOpen
	}
	n.samples += len(samples)
	return nil
}

func (n *Null) Drain() error { return nil }

func (n *Null) Buffered() time.Duration { return 0 }

func (n *Null) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.open = false
	return nil
}

// Stats returns how many times a format was opened and samples written
func (n *Null) Stats() (opens, samples int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opens, n.samples
}
