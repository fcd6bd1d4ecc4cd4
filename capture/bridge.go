package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"murmur/audio"
	"murmur/log"
	"murmur/metrics"
	"murmur/pcm"
)

type (
	NativeOptions = audio.NativeOptions
	NativeEvent   = audio.NativeEvent
)

// NativeModule is the native capture service the bridge drives. Events
// arrive on the module's own goroutine.
type NativeModule interface {
	Init(opts NativeOptions) error
	Start() error
	Stop() error
	Subscribe(fn func(NativeEvent)) (unsubscribe func())
}

// Bridge republishes pre-encoded chunks pushed by a NativeModule.
type Bridge struct {
	cfg    Config
	module NativeModule

	mu      sync.Mutex
	unsub   func()
	dropped atomic.Int64
}

func NewBridge(cfg Config) *Bridge {
	module := cfg.Native
	if module == nil {
		module = audio.NewBridge(cfg.NewContext)
	}
	return &Bridge{cfg: cfg, module: module}
}

func (b *Bridge) Kind() Kind { return KindBridge }

func (b *Bridge) Start(ctx context.Context, sink Sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsub != nil {
		return nil
	}

	opts := audio.DefaultNativeOptions()
	opts.BufferSize = nativeBufferSize(b.cfg)
	opts.Device = b.cfg.Device

	b.dropped.Store(0)
	unsub, err := acquire(ctx,
		func() (func(), error) { return b.open(opts, sink) },
		func(unsub func()) { b.teardown(unsub) },
	)
	if err != nil {
		return err
	}
	b.unsub = unsub
	return nil
}

func (b *Bridge) open(opts NativeOptions, sink Sink) (func(), error) {
	unsub := b.module.Subscribe(func(ev NativeEvent) { b.handle(ev, sink) })
	if err := b.module.Init(opts); err != nil {
		unsub()
		return nil, fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	if err := b.module.Start(); err != nil {
		unsub()
		return nil, fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	log.Infof("bridge capture started (buffer=%dB)", opts.BufferSize)
	return unsub, nil
}

func (b *Bridge) handle(ev NativeEvent, sink Sink) {
	if ev.Err != nil {
		sink.Error(fmt.Errorf("%w: %w", ErrDeviceLost, ev.Err))
		return
	}
	if err := validateChunk(ev.Data); err != nil {
		b.dropped.Add(1)
		b.cfg.Metrics.Dropped(string(KindBridge), metrics.ReasonMalformed, 1)
		log.ChunkDropped(string(KindBridge), metrics.ReasonMalformed, err)
		return
	}
	sink.Chunk(ev.Data)
}

// validateChunk accepts non-empty base64 carrying whole int16 samples.
func validateChunk(chunk string) error {
	if chunk == "" {
		return fmt.Errorf("%w: empty payload", ErrMalformedChunk)
	}
	if _, err := pcm.Decode(chunk); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedChunk, err)
	}
	return nil
}

func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsub == nil {
		return
	}
	unsub := b.unsub
	b.unsub = nil
	b.teardown(unsub)
}

// teardown unsubscribes, then stops the native session.
func (b *Bridge) teardown(unsub func()) {
	unsub()
	if err := b.module.Stop(); err != nil {
		log.Warnf("bridge: native stop: %v", err)
	}
}

func (b *Bridge) Dropped() int { return int(b.dropped.Load()) }
