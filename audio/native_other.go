//go:build !linux

package audio

// NewNativeContext is only available where a PulseAudio server is expected.
func NewNativeContext() (Context, error) {
	return nil, ErrUnsupported
}
