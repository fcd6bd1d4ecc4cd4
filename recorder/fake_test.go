package recorder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"murmur/capture"
)

// scriptedBackend lets a test drive the capture side by hand.
type scriptedBackend struct {
	kind capture.Kind

	mu       sync.Mutex
	sink     capture.Sink
	starts   int
	stops    int
	startErr error
	// block makes Start wait for ctx.Done or release.
	block   bool
	release chan struct{}
	entered chan struct{}
	// onStart runs inside Start with the session's sink.
	onStart func(capture.Sink)
}

func newScripted() *scriptedBackend {
	return &scriptedBackend{
		kind:    capture.KindGraph,
		release: make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
}

func (b *scriptedBackend) Kind() capture.Kind { return b.kind }

func (b *scriptedBackend) Start(ctx context.Context, sink capture.Sink) error {
	b.mu.Lock()
	b.sink = sink
	b.starts++
	block, onStart, startErr := b.block, b.onStart, b.startErr
	b.mu.Unlock()

	select {
	case b.entered <- struct{}{}:
	default:
	}
	if block {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", capture.ErrAcquire, ctx.Err())
		case <-b.release:
		}
	}
	if onStart != nil {
		onStart(sink)
	}
	return startErr
}

func (b *scriptedBackend) Stop() {
	b.mu.Lock()
	b.stops++
	b.mu.Unlock()
}

func (b *scriptedBackend) Dropped() int { return 0 }

func (b *scriptedBackend) chunk(c string) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	sink.Chunk(c)
}

func (b *scriptedBackend) fail(err error) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	sink.Error(err)
}

func (b *scriptedBackend) stopCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stops
}

func withBackend(b capture.Backend) Options {
	return Options{
		Backend: capture.KindGraph,
		NewBackend: func(capture.Kind, capture.Config) (capture.Backend, error) {
			return b, nil
		},
	}
}

// eventLog records delivered events as "start", "data:<chunk>", "error:<msg>", "stop".
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	l.events = append(l.events, s)
	l.mu.Unlock()
}

func (l *eventLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) attach(r *Recorder) {
	r.OnStart(func() { l.add("start") })
	r.OnStop(func() { l.add("stop") })
	r.OnData(func(c string) { l.add("data:" + c) })
	r.OnError(func(err error) { l.add("error:" + err.Error()) })
}

func (l *eventLog) waitFor(t *testing.T, want ...string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(l.get()) >= len(want) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	// Give a straggler the chance to show up before comparing.
	time.Sleep(10 * time.Millisecond)
	got := l.get()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v\nwant     %v", got, want)
	}
}

func destroy(t *testing.T, r *Recorder) {
	t.Helper()
	r.Destroy()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not exit")
	}
}
