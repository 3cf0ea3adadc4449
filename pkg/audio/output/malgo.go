// ABOUTME: Malgo-based audio output implementation with 24-bit support
// ABOUTME: Uses miniaudio via malgo with a ring buffer sized to the stream latency
package output

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/ohreceiver/ohreceiver/pkg/audio"
	"github.com/sirupsen/logrus"
)

const (
	// defaultDepth is used when the stream declares no latency
	defaultDepth = 500 * time.Millisecond

	// minDepth keeps the ring larger than one device period
	minDepth = 100 * time.Millisecond

	pollInterval = 2 * time.Millisecond
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	*softVolume

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	format   audio.Format
	depth    time.Duration
	open     atomic.Bool

	// Ring buffer for callback-based playback
	ringBuffer *RingBuffer
	scratch    []int32
	mu         sync.Mutex
}

// RingBuffer provides thread-safe circular buffer for audio samples
type RingBuffer struct {
	buffer   []int32
	readPos  int
	writePos int
	size     int
	count    int // Number of samples currently in buffer
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer with given capacity (in samples)
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buffer: make([]int32, capacity),
		size:   capacity,
	}
}

// Write adds samples to the ring buffer and returns how many fit
func (rb *RingBuffer) Write(samples []int32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for i := 0; i < len(samples) && rb.count < rb.size; i++ {
		rb.buffer[rb.writePos] = samples[i]
		rb.writePos = (rb.writePos + 1) % rb.size
		rb.count++
		written++
	}
	return written
}

// Read retrieves samples from the ring buffer, zero-filling on underrun
func (rb *RingBuffer) Read(samples []int32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for i := 0; i < len(samples) && rb.count > 0; i++ {
		samples[i] = rb.buffer[rb.readPos]
		rb.readPos = (rb.readPos + 1) % rb.size
		rb.count--
		read++
	}

	for i := read; i < len(samples); i++ {
		samples[i] = 0
	}

	return read
}

// Available returns the number of samples available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of free slots in the buffer
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// NewMalgo creates a new Malgo output
func NewMalgo() *Malgo {
	return &Malgo{softVolume: newSoftVolume()}
}

// Open initializes the output device with the given format
func (m *Malgo) Open(format audio.Format, bufferDepth time.Duration) error {
	if err := format.Valid(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil && m.format == format && m.depth == bufferDepth {
		return nil
	}

	if m.device != nil {
		logrus.WithFields(logrus.Fields{
			"from": m.format.String(),
			"to":   format.String(),
		}).Info("Reopening audio device")
		m.closeDevice()
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	var sampleFormat malgo.FormatType
	switch format.BitDepth {
	case 16:
		sampleFormat = malgo.FormatS16
	case 24:
		sampleFormat = malgo.FormatS24
	}

	depth := bufferDepth
	if depth <= 0 {
		depth = defaultDepth
	}
	if depth < minDepth {
		depth = minDepth
	}
	m.ringBuffer = NewRingBuffer(format.Samples(depth))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = sampleFormat
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	m.format = format
	m.depth = bufferDepth

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			m.dataCallback(pOutput, frameCount)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}

	m.device = device
	m.open.Store(true)

	logrus.WithFields(logrus.Fields{
		"format": format.String(),
		"buffer": depth.String(),
	}).Info("Audio output initialized (malgo)")

	return nil
}

// Write queues audio samples, blocking while the ring is full
func (m *Malgo) Write(samples []int32) error {
	if !m.open.Load() {
		return ErrNotOpen
	}

	m.mu.Lock()
	ring := m.ringBuffer
	m.mu.Unlock()

	pending := m.apply(samples)
	for len(pending) > 0 {
		n := ring.Write(pending)
		pending = pending[n:]
		if n == 0 {
			if !m.open.Load() {
				return ErrNotOpen
			}
			time.Sleep(pollInterval)
		}
	}
	return nil
}

// Drain waits until the ring buffer is empty
func (m *Malgo) Drain() error {
	if !m.open.Load() {
		return nil
	}

	m.mu.Lock()
	ring := m.ringBuffer
	m.mu.Unlock()

	timeout := m.Buffered() + time.Second
	if !waitUntil(func() bool { return ring.Available() == 0 || !m.open.Load() }, pollInterval, timeout) {
		return fmt.Errorf("drain timed out with %d samples queued", ring.Available())
	}
	return nil
}

// Buffered reports queued audio not yet handed to the device
func (m *Malgo) Buffered() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ringBuffer == nil {
		return 0
	}
	return m.format.Duration(m.ringBuffer.Available())
}

// dataCallback is called by malgo to fill the audio output buffer
func (m *Malgo) dataCallback(pOutput []byte, frameCount uint32) {
	totalSamples := int(frameCount) * m.format.Channels
	if cap(m.scratch) < totalSamples {
		m.scratch = make([]int32, totalSamples)
	}
	samples := m.scratch[:totalSamples]

	m.ringBuffer.Read(samples)

	switch m.format.BitDepth {
	case 16:
		write16Bit(pOutput, samples)
	case 24:
		write24Bit(pOutput, samples)
	}
}

// write16Bit converts int32 samples to 16-bit little-endian output
func write16Bit(output []byte, samples []int32) {
	for i, sample := range samples {
		sample16 := audio.SampleToInt16(sample)
		output[i*2] = byte(sample16)
		output[i*2+1] = byte(sample16 >> 8)
	}
}

// write24Bit converts int32 samples to 24-bit output (3 bytes per sample)
func write24Bit(output []byte, samples []int32) {
	for i, sample := range samples {
		b := audio.SampleTo24Bit(sample)
		copy(output[i*3:i*3+3], b[:])
	}
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			logrus.WithError(err).Warn("malgo context uninit failed")
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	m.open.Store(false)
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			logrus.WithError(err).Warn("Audio device stop failed")
		}
		m.device.Uninit()
		m.device = nil
	}
}
