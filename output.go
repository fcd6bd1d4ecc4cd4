package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"murmur/capture"
	"murmur/log"
	"murmur/pcm"
	"murmur/recorder"
	"murmur/stream"
)

// take is the consumer side of one recording session.
type take struct {
	backend capture.Kind
	id      string
	started time.Time
	chunks  int
	samples int
	peak    int
	level   *levelMonitor

	stream  *stream.Session
	printed chan struct{} // closed once stream updates are drained
}

// app attaches to a recorder and turns its events into terminal output and,
// when configured, a live stream to a speech endpoint.
type app struct {
	ctx context.Context
	cfg config
	rec *recorder.Recorder
	out io.Writer

	mu       sync.Mutex
	cur      *take
	lastErr  error
	takes    int
	finished chan struct{}
}

func newApp(ctx context.Context, cfg config, rec *recorder.Recorder, out io.Writer) *app {
	a := &app{
		ctx:      ctx,
		cfg:      cfg,
		rec:      rec,
		out:      out,
		finished: make(chan struct{}, 1),
	}
	rec.OnSessionStart(a.onStart)
	rec.OnData(a.onData)
	rec.OnError(a.onError)
	rec.OnStop(a.onStop)
	return a
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) onStart(info recorder.SessionInfo) {
	t := &take{
		backend: info.Backend,
		id:      info.ID,
		started: info.Started,
		level:   newLevelMonitor(a.cfg.idleStop),
	}
	if a.cfg.streamURL != "" {
		// The stream outlives an interrupt long enough to finalize.
		t.stream = stream.Dial(context.WithoutCancel(a.ctx), stream.Config{
			URL:        a.cfg.streamURL,
			Token:      a.cfg.streamToken,
			SampleRate: pcm.SampleRate,
			Channels:   pcm.Channels,
		})
		t.printed = make(chan struct{})
		go a.printUpdates(t.stream.Updates(), t.printed)
	}

	a.mu.Lock()
	a.cur = t
	a.lastErr = nil
	a.takes++
	a.mu.Unlock()
	a.printf("recording [%s] session %s\n", t.backend, t.id)
}

func (a *app) printUpdates(updates <-chan string, done chan<- struct{}) {
	defer close(done)
	for text := range updates {
		a.printf("  > %s\n", text)
	}
}

func (a *app) onData(chunk string) {
	a.mu.Lock()
	t := a.cur
	a.mu.Unlock()
	if t == nil {
		return
	}

	samples, err := pcm.Decode(chunk)
	if err != nil {
		log.Warnf("undecodable chunk in session %s: %v", t.id, err)
		return
	}
	t.chunks++
	t.samples += len(samples)
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > t.peak {
			t.peak = v
		}
	}
	if t.stream != nil {
		t.stream.Feed(chunk)
	}

	switch t.level.Observe(samples) {
	case levelSilent:
		a.printf("no signal from microphone for %s\n", silenceWarnAfter)
		log.Warn("microphone silent")
	case levelRestored:
		a.printf("signal restored\n")
	case levelIdle:
		a.printf("stopping after %s without signal\n", idleStopAfter)
		log.Info("idle stop")
		a.rec.Stop()
	}
}

func (a *app) onError(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
	a.printf("error: %v\n", err)
}

func (a *app) onStop() {
	a.mu.Lock()
	t := a.cur
	a.cur = nil
	a.mu.Unlock()
	if t == nil {
		return
	}

	a.printf("stopped: %d chunks, %.1fs audio, peak %.1f%%, %s elapsed\n",
		t.chunks, pcm.Duration(t.samples), float64(t.peak)/327.67,
		time.Since(t.started).Round(time.Millisecond))

	if t.stream != nil {
		res, err := t.stream.Close()
		<-t.printed
		if err != nil {
			a.printf("stream error: %v\n", err)
			log.Errorf("stream session %s: %v", t.id, err)
		}
		for _, line := range res.Stats.Summary() {
			a.printf("  %s\n", line)
		}
		if res.Text != "" {
			a.printf("transcript: %s\n", res.Text)
		}
	}

	select {
	case a.finished <- struct{}{}:
	default:
	}
}

// err reports the runtime error of the last session, if any.
func (a *app) err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// record runs one live session until ctx ends, the duration elapses, or the
// session ends on its own.
func (a *app) record(ctx context.Context, dur time.Duration) error {
	if _, err := a.rec.Start(ctx); err != nil {
		return err
	}
	var deadline <-chan time.Time
	if dur > 0 {
		timer := time.NewTimer(dur)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-a.finished:
		return a.err()
	case <-ctx.Done():
	case <-deadline:
	}
	a.rec.Stop()
	<-a.finished
	return a.err()
}
