// Package pcm converts between normalized floating-point audio samples and
// 16-bit signed little-endian PCM. It is the foundation for audio capture,
// playback scheduling, and WAV encoding.
package pcm

import (
	"math"
)

const (
	// BytesPerSample is the width of one PCM16 sample on the wire.
	BytesPerSample = 2

	// maxAmplitude is the positive full-scale value for 16-bit PCM.
	maxAmplitude = 32767
)

// Encode converts normalized samples in [-1, 1] to PCM16 little-endian
// bytes. Out-of-range input is clamped rather than rejected: clipping audio
// is not a fatal condition.
func Encode(samples []float64) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(math.Round(s * maxAmplitude))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Decode converts PCM16 little-endian bytes back to normalized samples.
// A trailing odd byte is ignored.
func Decode(data []byte) []float64 {
	n := len(data) / BytesPerSample
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float64(v) / maxAmplitude
	}
	return out
}

// BytesToInt16 unpacks PCM16 little-endian bytes into raw samples.
func BytesToInt16(data []byte) []int16 {
	n := len(data) / BytesPerSample
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// Int16ToBytes packs raw samples into PCM16 little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// RMS calculates the root mean square energy of a frame of samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DurationSeconds reports how long byteLen bytes of mono PCM16 audio play
// for at the given sample rate.
func DurationSeconds(byteLen, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(byteLen/BytesPerSample) / float64(sampleRate)
}
