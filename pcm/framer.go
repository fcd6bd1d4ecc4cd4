package pcm

import (
	"errors"
	"fmt"
)

var ErrFrameSize = errors.New("frame size must be positive")

// Framer accumulates float samples into fixed-size int16 frames. It keeps
// its position across Write calls, so block boundaries need not line up
// with frame boundaries.
//
// The slice handed to emit aliases the framer's buffer and is only valid
// for the duration of the call.
type Framer struct {
	buf  []int16
	pos  int
	emit func(frame []int16)
}

func NewFramer(size int, emit func(frame []int16)) (*Framer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrFrameSize, size)
	}
	return &Framer{buf: make([]int16, size), emit: emit}, nil
}

// Write converts and buffers samples, emitting every frame that fills up.
// It returns the number of frames emitted.
func (f *Framer) Write(samples []float32) int {
	n := 0
	for _, s := range samples {
		f.buf[f.pos] = ToInt16(s)
		f.pos++
		if f.pos == len(f.buf) {
			f.emit(f.buf)
			f.pos = 0
			n++
		}
	}
	return n
}

// Flush emits the buffered partial frame, if any.
func (f *Framer) Flush() bool {
	if f.pos == 0 {
		return false
	}
	f.emit(f.buf[:f.pos])
	f.pos = 0
	return true
}

func (f *Framer) Buffered() int { return f.pos }

func (f *Framer) Size() int { return len(f.buf) }

// Reset drops any buffered samples.
func (f *Framer) Reset() { f.pos = 0 }
