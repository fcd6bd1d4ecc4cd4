// Package recorder provides a microphone recorder that hides which capture
// backend is in use. Every session yields the same event sequence: start,
// zero or more data chunks, optionally error, then stop.
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"murmur/audio"
	"murmur/capture"
	"murmur/log"
	"murmur/metrics"
)

var (
	ErrStartCanceled = errors.New("start canceled by stop")
	ErrDestroyed     = errors.New("recorder destroyed")
)

type Options struct {
	// Backend selects the capture model; empty picks capture.DefaultKind.
	Backend           capture.Kind
	Device            string
	FrameSize         int
	FlushPartialFrame bool
	NativeBufferSize  int
	// StartTimeout bounds backend startup when positive.
	StartTimeout time.Duration
	Metrics      *metrics.Collector

	NewContext func() (audio.Context, error)
	Native     capture.NativeModule
	NewBackend func(kind capture.Kind, cfg capture.Config) (capture.Backend, error)
}

type Recorder struct {
	opts      Options
	listeners listeners
	q         *queue
	done      chan struct{}

	mu        sync.Mutex
	cur       *session // nil when idle
	destroyed bool
}

// SessionInfo describes a session as it entered the recording state.
type SessionInfo struct {
	ID      string
	Backend capture.Kind
	Started time.Time
}

func New(opts Options) *Recorder {
	r := &Recorder{
		opts: opts,
		q:    newQueue(),
		done: make(chan struct{}),
	}
	go r.dispatch()
	return r
}

// dispatch is the only goroutine that calls listeners.
func (r *Recorder) dispatch() {
	defer close(r.done)
	for {
		it := r.q.pop()
		if it.terminal {
			r.listeners.clear()
			return
		}
		r.listeners.emit(it)
	}
}

func (r *Recorder) config() capture.Config {
	return capture.Config{
		Device:            r.opts.Device,
		FrameSize:         r.opts.FrameSize,
		FlushPartialFrame: r.opts.FlushPartialFrame,
		NativeBufferSize:  r.opts.NativeBufferSize,
		Metrics:           r.opts.Metrics,
		NewContext:        r.opts.NewContext,
		Native:            r.opts.Native,
	}
}

// waitReleasedLocked blocks until no session is being torn down. r.mu is
// released while waiting.
func (r *Recorder) waitReleasedLocked() {
	for r.cur != nil && r.cur.phase == phaseDraining {
		released := r.cur.released
		r.mu.Unlock()
		<-released
		r.mu.Lock()
	}
}

// closeLocked marks s finished and frees the recorder for the next session.
func (r *Recorder) closeLocked(s *session) {
	s.phase = phaseClosed
	if r.cur == s {
		r.cur = nil
	}
	close(s.released)
}

// Start begins a session. It is a no-op unless the recorder is idle; a
// session still being torn down is waited for first. Start blocks until the
// backend is capturing; Stop may cancel it meanwhile.
func (r *Recorder) Start(ctx context.Context) (*Recorder, error) {
	r.mu.Lock()
	r.waitReleasedLocked()
	if r.destroyed {
		r.mu.Unlock()
		return r, ErrDestroyed
	}
	if r.cur != nil {
		r.mu.Unlock()
		return r, nil
	}

	kind := r.opts.Backend
	if kind == "" {
		kind = capture.DefaultKind()
	}
	newBackend := r.opts.NewBackend
	if newBackend == nil {
		newBackend = capture.New
	}
	backend, err := newBackend(kind, r.config())
	if err != nil {
		r.failStartLocked(kind, err)
		r.mu.Unlock()
		return r, err
	}

	var cancel context.CancelFunc
	if r.opts.StartTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.opts.StartTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	s := &session{
		backend:  backend,
		kind:     kind,
		phase:    phaseStarting,
		cancel:   cancel,
		released: make(chan struct{}),
	}
	r.cur = s
	r.mu.Unlock()

	err = backend.Start(ctx, capture.Sink{
		Chunk: func(chunk string) { r.onChunk(s, chunk) },
		Error: func(err error) { r.onError(s, err) },
	})
	cancel()
	started := err == nil

	r.mu.Lock()
	if s.phase != phaseStarting {
		// Stop canceled the start and is waiting for the backend to go.
		r.mu.Unlock()
		if started {
			backend.Stop()
		}
		r.mu.Lock()
		r.closeLocked(s)
		r.mu.Unlock()
		return r, ErrStartCanceled
	}
	if s.startErr != nil {
		err = s.startErr
	}
	if err != nil {
		s.phase = phaseDraining
		r.failStartLocked(kind, err)
		r.mu.Unlock()
		if started {
			backend.Stop()
		}
		r.mu.Lock()
		r.closeLocked(s)
		r.mu.Unlock()
		return r, err
	}

	s.phase = phaseRecording
	s.id = uuid.NewString()
	s.started = time.Now()
	r.opts.Metrics.SessionStarted(string(kind))
	log.SessionStart(string(kind), s.id)
	r.q.push(item{event: EventStart, info: SessionInfo{ID: s.id, Backend: kind, Started: s.started}})
	for _, chunk := range s.pending {
		r.pushChunkLocked(s, chunk)
	}
	s.pending = nil
	r.mu.Unlock()
	return r, nil
}

func (r *Recorder) failStartLocked(kind capture.Kind, err error) {
	r.opts.Metrics.Error(string(kind), "start")
	log.Errorf("%s start failed: %v", kind, err)
	r.q.push(item{event: EventError, err: err})
}

func (r *Recorder) pushChunkLocked(s *session, chunk string) {
	r.opts.Metrics.Chunk(string(s.kind), s.count(chunk))
	r.q.push(item{event: EventData, chunk: chunk})
}

func (r *Recorder) onChunk(s *session, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case s.phase == phaseStarting:
		s.pending = append(s.pending, chunk)
	case s.phase == phaseRecording, s.phase == phaseDraining && s.keepTail:
		r.pushChunkLocked(s, chunk)
	default:
		r.opts.Metrics.Dropped(string(s.kind), metrics.ReasonLate, 1)
	}
}

// onError handles a failure reported by a running backend: error, then the
// session ends as if stopped, without further data. The backend may report
// from a goroutine its own Stop waits for, so teardown runs elsewhere.
func (r *Recorder) onError(s *session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch s.phase {
	case phaseStarting:
		if s.startErr == nil {
			s.startErr = err
		}
		s.cancel()
	case phaseRecording:
		r.opts.Metrics.Error(string(s.kind), "runtime")
		log.Errorf("%s session %s failed: %v", s.kind, s.id, err)
		r.q.push(item{event: EventError, err: err})
		s.phase = phaseDraining
		s.cause = err
		go r.finish(s)
	}
}

// finish stops the backend of a draining session, then queues stop and
// returns the recorder to idle. r.mu must not be held: backends deliver
// their last chunks while stopping.
func (r *Recorder) finish(s *session) {
	s.backend.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.q.push(item{event: EventStop})
	log.SessionEnd(s.stats())
	r.opts.Metrics.SessionStopped()
	r.closeLocked(s)
}

// Stop ends the current session and returns once its backend is torn down.
// Chunks the backend produced while stopping are delivered before stop. It
// is a no-op when idle. Stopping during startup cancels Start, which then
// returns ErrStartCanceled; no events are emitted for that session.
func (r *Recorder) Stop() *Recorder {
	r.mu.Lock()
	s := r.cur
	if s == nil {
		r.mu.Unlock()
		return r
	}
	switch s.phase {
	case phaseStarting:
		s.phase = phaseDraining
		s.cancel()
	case phaseRecording:
		s.phase = phaseDraining
		s.keepTail = true
		r.mu.Unlock()
		r.finish(s)
		return r
	}
	released := s.released
	r.mu.Unlock()
	<-released
	return r
}

// Destroy stops the recorder and removes all listeners once stop has been
// delivered. The recorder cannot be restarted.
func (r *Recorder) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.mu.Unlock()

	r.Stop()
	r.q.push(item{terminal: true})
}

// Done is closed once a destroyed recorder has delivered its last event.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil && r.cur.phase == phaseRecording
}

// Backend reports the kind of the active session, or "" when idle.
func (r *Recorder) Backend() capture.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return ""
	}
	return r.cur.kind
}

func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return ""
	}
	return r.cur.id
}

func (r *Recorder) OnStart(fn func()) Subscription {
	return r.listeners.addStart(func(SessionInfo) { fn() })
}

// OnSessionStart is OnStart with the session's id and backend as they were
// when it started.
func (r *Recorder) OnSessionStart(fn func(SessionInfo)) Subscription {
	return r.listeners.addStart(fn)
}

func (r *Recorder) OnStop(fn func()) Subscription { return r.listeners.addStop(fn) }

// OnData receives each base64 s16le chunk in production order.
func (r *Recorder) OnData(fn func(chunk string)) Subscription { return r.listeners.addData(fn) }

func (r *Recorder) OnError(fn func(err error)) Subscription { return r.listeners.addError(fn) }

func (r *Recorder) Off(s Subscription) { r.listeners.remove(s) }

func (r *Recorder) RemoveAllListeners() { r.listeners.clear() }
