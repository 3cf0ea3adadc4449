// ABOUTME: Network byte order PCM decoding
// ABOUTME: Converts big-endian 16/24-bit payloads to int32 samples
package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedBitDepth is returned for bit depths other than 16 and 24
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")

	// ErrInvalidFormat is returned for zero or negative rates and channel counts
	ErrInvalidFormat = errors.New("invalid audio format")
)

// DecodePCM converts a big-endian PCM payload to samples in 24-bit range.
// A trailing partial sample is ignored.
func DecodePCM(data []byte, bitDepth int) ([]int32, error) {
	switch bitDepth {
	case 16:
		samples := make([]int32, len(data)/2)
		for i := range samples {
			samples[i] = SampleFromInt16(int16(uint16(data[i*2])<<8 | uint16(data[i*2+1])))
		}
		return samples, nil
	case 24:
		samples := make([]int32, len(data)/3)
		for i := range samples {
			b := data[i*3 : i*3+3]
			samples[i] = SampleFrom24Bit([3]byte{b[2], b[1], b[0]})
		}
		return samples, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
}
