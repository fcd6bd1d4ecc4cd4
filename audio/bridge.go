package audio

import (
	"errors"
	"fmt"
	"sync"

	"murmur/pcm"
)

const bridgeQueueSize = 64

// NativeOptions configures a native capture session.
type NativeOptions struct {
	SampleRate    uint32
	Channels      uint32
	BitsPerSample int
	AudioSource   SourceHint
	BufferSize    int // bytes per pushed chunk
	Device        string
}

func DefaultNativeOptions() NativeOptions {
	return NativeOptions{
		SampleRate:    pcm.SampleRate,
		Channels:      pcm.Channels,
		BitsPerSample: pcm.BitsPerSample,
		AudioSource:   SourceVoiceRecognition,
		BufferSize:    pcm.NativeBufferSize,
	}
}

func (o NativeOptions) validate() error {
	switch {
	case o.SampleRate == 0:
		return errors.New("sample rate must be set")
	case o.Channels != 1:
		return fmt.Errorf("unsupported channel count %d", o.Channels)
	case o.BitsPerSample != 16:
		return fmt.Errorf("unsupported bit depth %d", o.BitsPerSample)
	case o.BufferSize <= 0 || o.BufferSize%pcm.BytesPerSample != 0:
		return fmt.Errorf("buffer size %d is not a positive whole number of samples", o.BufferSize)
	}
	return nil
}

// NativeEvent is one push from the native layer: a base64 chunk or an error.
type NativeEvent struct {
	Data string
	Err  error
}

// Bridge is the native side of the bridge model. It captures int16 PCM from
// a native host, cuts it into BufferSize chunks, base64-encodes them and
// pushes them to subscribers from its own goroutine.
type Bridge struct {
	newContext func() (Context, error)

	mu     sync.Mutex
	opts   NativeOptions
	inited bool

	subMu  sync.Mutex
	subs   map[int]func(NativeEvent)
	nextID int

	ctx     Context
	dev     CaptureDevice
	feedBuf []byte

	sendMu  sync.Mutex
	closed  bool
	events  chan NativeEvent
	done    chan struct{}
	dropped int
}

// NewBridge returns a bridge over the given host. A nil newContext uses the
// platform native host.
func NewBridge(newContext func() (Context, error)) *Bridge {
	if newContext == nil {
		newContext = NewNativeContext
	}
	return &Bridge{newContext: newContext, subs: make(map[int]func(NativeEvent))}
}

func (b *Bridge) Init(opts NativeOptions) error {
	if err := opts.validate(); err != nil {
		return fmt.Errorf("bridge init: %w", err)
	}
	b.mu.Lock()
	b.opts = opts
	b.inited = true
	b.mu.Unlock()
	return nil
}

func (b *Bridge) Subscribe(fn func(NativeEvent)) (unsubscribe func()) {
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
		})
	}
}

func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inited {
		return errors.New("bridge: start before init")
	}
	if b.dev != nil {
		return nil
	}

	ctx, err := b.newContext()
	if err != nil {
		return err
	}
	info, err := FindDevice(ctx, b.opts.Device)
	if err != nil {
		ctx.Close()
		return err
	}
	dev, err := ctx.NewCapture(info, CaptureConfig{
		SampleRate: b.opts.SampleRate,
		Channels:   b.opts.Channels,
		Format:     FormatS16,
		Source:     b.opts.AudioSource,
	})
	if err != nil {
		ctx.Close()
		return err
	}

	b.feedBuf = b.feedBuf[:0]
	b.events = make(chan NativeEvent, bridgeQueueSize)
	b.done = make(chan struct{})
	b.sendMu.Lock()
	b.closed = false
	b.dropped = 0
	b.sendMu.Unlock()
	go b.deliver(b.events, b.done)

	chunkBytes := b.opts.BufferSize
	dev.SetCallback(func(data []byte, _ uint32) {
		b.feedBuf = append(b.feedBuf, data...)
		for len(b.feedBuf) >= chunkBytes {
			b.push(NativeEvent{Data: pcm.EncodeBytes(b.feedBuf[:chunkBytes])})
			n := copy(b.feedBuf, b.feedBuf[chunkBytes:])
			b.feedBuf = b.feedBuf[:n]
		}
	})
	dev.SetErrorCallback(func(err error) {
		b.push(NativeEvent{Err: err})
	})

	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		ctx.Close()
		b.closeEvents()
		return err
	}
	b.ctx, b.dev = ctx, dev
	return nil
}

// push never blocks the capture thread; a full queue drops the event.
func (b *Bridge) push(ev NativeEvent) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.dropped++
	}
}

func (b *Bridge) closeEvents() {
	b.sendMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	b.sendMu.Unlock()
	<-b.done
}

func (b *Bridge) deliver(events <-chan NativeEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		b.subMu.Lock()
		subs := make([]func(NativeEvent), 0, len(b.subs))
		for _, fn := range b.subs {
			subs = append(subs, fn)
		}
		b.subMu.Unlock()
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Stop ends the native session. Queued chunks are delivered before it
// returns. Safe to call when not started.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	dev, ctx := b.dev, b.ctx
	b.dev, b.ctx = nil, nil
	b.mu.Unlock()
	if dev == nil {
		return nil
	}

	dev.ClearCallback()
	dev.Stop()
	b.closeEvents()
	dev.Close()
	ctx.Close()
	return nil
}

// Dropped reports how many events the last session lost to a full queue.
func (b *Bridge) Dropped() int {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	return b.dropped
}
