// ABOUTME: Oto-based audio output implementation
// ABOUTME: 16-bit PCM playback through a pipe-fed oto player
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/ohreceiver/ohreceiver/pkg/audio"
	"github.com/sirupsen/logrus"
)

// oto allows a single context per process
var (
	otoMu     sync.Mutex
	otoShared *oto.Context
	otoFormat audio.Format
)

func sharedOtoContext(format audio.Format) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoShared != nil {
		if otoFormat.SampleRate != format.SampleRate || otoFormat.Channels != format.Channels {
			return nil, fmt.Errorf("%w: oto context is %s, stream is %s", ErrReopenUnsupported, otoFormat, format)
		}
		return otoShared, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	otoShared = ctx
	otoFormat = format
	return ctx, nil
}

// Oto output implementation using oto library
type Oto struct {
	*softVolume

	mu         sync.Mutex
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	format     audio.Format
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{softVolume: newSoftVolume()}
}

// Open starts a player for format. oto cannot change rate or channel
// count after its context exists, so such changes fail.
func (o *Oto) Open(format audio.Format, bufferDepth time.Duration) error {
	if err := format.Valid(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil && o.format == format {
		return nil
	}
	o.closePlayer()

	ctx, err := sharedOtoContext(format)
	if err != nil {
		return err
	}

	if format.BitDepth != 16 {
		logrus.WithField("bit_depth", format.BitDepth).Debug("oto plays 16-bit; samples are truncated")
	}

	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = ctx.NewPlayer(o.pipeReader)
	if bufferDepth > 0 {
		o.player.SetBufferSize(format.Samples(bufferDepth) * 2)
	}
	o.player.Play()
	o.format = format

	logrus.WithField("format", format.String()).Info("Audio output initialized (oto)")
	return nil
}

// Write outputs audio samples (blocks until the player accepts them)
func (o *Oto) Write(samples []int32) error {
	o.mu.Lock()
	w := o.pipeWriter
	o.mu.Unlock()

	if w == nil {
		return ErrNotOpen
	}

	volumed := o.apply(samples)
	buf := make([]byte, len(volumed)*2)
	for i, s := range volumed {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(audio.SampleToInt16(s)))
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// Drain waits until the player's buffer is empty
func (o *Oto) Drain() error {
	timeout := o.Buffered() + time.Second
	if !waitUntil(func() bool { return o.Buffered() == 0 }, 5*time.Millisecond, timeout) {
		return fmt.Errorf("drain timed out")
	}
	return nil
}

// Buffered reports audio held by the player
func (o *Oto) Buffered() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return 0
	}
	return o.format.Duration(o.player.BufferedSize() / 2)
}

// Close stops the player. The shared context stays alive for reuse.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closePlayer()
	return nil
}

func (o *Oto) closePlayer() {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
}
