// Package capture implements the two platform capture models behind one
// Backend interface. Both produce base64 PCM16 chunks at 16 kHz mono.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"murmur/audio"
	"murmur/metrics"
	"murmur/pcm"
)

var (
	ErrAcquire        = errors.New("audio stream acquisition failed")
	ErrProcessorLoad  = errors.New("processing module failed to load")
	ErrMalformedChunk = errors.New("malformed chunk")
	ErrDeviceLost     = errors.New("capture device lost")
)

type Kind string

const (
	KindGraph  Kind = "graph"
	KindBridge Kind = "bridge"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindGraph, KindBridge:
		return k, nil
	case "":
		return DefaultKind(), nil
	default:
		return "", fmt.Errorf("unknown backend %q (want graph or bridge)", s)
	}
}

// Sink receives a session's output. Both funcs may be called from backend
// goroutines and must not block.
type Sink struct {
	Chunk func(chunk string)
	Error func(err error)
}

// Backend is one capture model. Start and Stop are not safe for concurrent
// use with each other; Stop is idempotent and safe before Start.
type Backend interface {
	Kind() Kind
	Start(ctx context.Context, sink Sink) error
	Stop()
	// Dropped reports frames or chunks lost during the last session.
	Dropped() int
}

type Config struct {
	Device            string
	FrameSize         int  // graph: samples per chunk, 0 for pcm.FrameSize
	FlushPartialFrame bool // graph: emit the trailing partial frame on stop
	NativeBufferSize  int  // bridge: bytes per chunk, 0 for pcm.NativeBufferSize
	Metrics           *metrics.Collector

	// NewContext overrides the audio host for either backend.
	NewContext func() (audio.Context, error)
	// Native overrides the bridge's native module.
	Native NativeModule
}

func New(kind Kind, cfg Config) (Backend, error) {
	switch kind {
	case KindGraph:
		return NewGraph(cfg), nil
	case KindBridge:
		return NewBridge(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// HostContext opens the audio host a backend kind captures from.
func HostContext(kind Kind) (audio.Context, error) {
	if kind == KindBridge {
		return audio.NewNativeContext()
	}
	return audio.NewGraphContext()
}

// acquire runs open off the caller's goroutine so ctx can abandon it. A
// session that opens after ctx is done is released immediately.
func acquire[T any](ctx context.Context, open func() (T, error), release func(T)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := open()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				release(r.v)
			}
		}()
		return zero, fmt.Errorf("%w: %w", ErrAcquire, ctx.Err())
	}
}

func frameSize(cfg Config) int {
	if cfg.FrameSize == 0 {
		return pcm.FrameSize
	}
	return cfg.FrameSize
}

func nativeBufferSize(cfg Config) int {
	if cfg.NativeBufferSize == 0 {
		return pcm.NativeBufferSize
	}
	return cfg.NativeBufferSize
}
