//go:build !cgo

package audio

// NewGraphContext needs miniaudio, which is only linked into cgo builds.
func NewGraphContext() (Context, error) {
	return nil, ErrUnsupported
}
