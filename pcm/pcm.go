package pcm

import "math"

const (
	SampleRate     = 16000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8

	// FrameSize is the number of samples per graph-backend chunk (128ms at 16kHz).
	FrameSize = 2048

	// NativeBufferSize is the default byte size of a bridge-backend chunk.
	NativeBufferSize = 4096
)

// ToInt16 scales a float sample in [-1, 1] to int16. Values are truncated
// toward zero and saturated, so 1.0 maps to 32767 rather than wrapping.
func ToInt16(s float32) int16 {
	v := float64(s) * 32768
	if math.IsNaN(v) {
		return 0
	}
	if v >= 32767 {
		return 32767
	}
	if v <= -32768 {
		return -32768
	}
	return int16(v)
}

// Duration returns the audio length in seconds of n samples.
func Duration(n int) float64 {
	return float64(n) / float64(SampleRate*Channels)
}
