package recorder

import (
	"context"
	"time"

	"murmur/capture"
	"murmur/log"
	"murmur/pcm"
)

type phase int

const (
	phaseStarting phase = iota
	phaseRecording
	phaseDraining // stopping or canceled, backend not yet released
	phaseClosed
)

// session is one start..stop cycle. Its fields are guarded by the owning
// Recorder's mutex.
type session struct {
	backend capture.Backend
	kind    capture.Kind
	phase   phase
	cancel  context.CancelFunc

	id      string
	started time.Time
	chunks  int
	bytes   int

	pending  []string // produced while starting
	keepTail bool     // deliver chunks produced while draining
	startErr error
	cause    error
	released chan struct{} // closed once the backend is stopped
}

func (s *session) count(chunk string) int {
	n := pcm.ChunkBytes(chunk)
	s.chunks++
	s.bytes += n
	return n
}

func (s *session) stats() log.SessionStats {
	st := log.SessionStats{
		ID:        s.id,
		Backend:   string(s.kind),
		DurationS: time.Since(s.started).Seconds(),
		Chunks:    s.chunks,
		AudioS:    pcm.Duration(s.bytes / pcm.BytesPerSample),
		Dropped:   s.backend.Dropped(),
	}
	if s.cause != nil {
		st.Err = s.cause.Error()
	}
	return st
}
