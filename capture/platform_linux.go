//go:build linux

package capture

// DefaultKind is the bridge on Linux, where the PulseAudio client needs no cgo.
func DefaultKind() Kind { return KindBridge }
