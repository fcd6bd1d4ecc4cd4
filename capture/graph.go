package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"murmur/audio"
	"murmur/log"
	"murmur/metrics"
	"murmur/pcm"
)

// portDepth is how many finished frames may wait for the pump before the
// processor starts dropping them.
const portDepth = 32

// processor runs on the audio thread. It owns its framer and the sending
// side of the port.
type processor struct {
	mu       sync.Mutex
	framer   *pcm.Framer
	port     chan []int16
	scratch  []float32
	closed   bool
	flushing bool
	dropped  atomic.Int64
}

func newProcessor(size int) (*processor, error) {
	p := &processor{port: make(chan []int16, portDepth)}
	f, err := pcm.NewFramer(size, p.post)
	if err != nil {
		return nil, err
	}
	p.framer = f
	return p, nil
}

func (p *processor) post(frame []int16) {
	frame = slices.Clone(frame)
	if p.flushing {
		p.port <- frame
		return
	}
	select {
	case p.port <- frame:
	default:
		p.dropped.Add(1)
	}
}

// process is the device data callback: f32le samples in, frames out.
func (p *processor) process(data []byte, _ uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	n := len(data) / 4
	if cap(p.scratch) < n {
		p.scratch = make([]float32, n)
	}
	samples := p.scratch[:n]
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	p.framer.Write(samples)
}

// disconnect stops frame production. In-flight process calls finish first.
func (p *processor) disconnect() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// finish optionally flushes the partial frame and closes the port. Only
// valid after disconnect.
func (p *processor) finish(flush bool) {
	if flush {
		p.flushing = true
		p.framer.Flush()
	}
	close(p.port)
}

type graphSession struct {
	ctx      audio.Context
	dev      audio.CaptureDevice
	proc     *processor
	pumpDone chan struct{}
}

// Graph captures f32 samples from a real-time callback, frames and
// encodes them.
type Graph struct {
	cfg        Config
	newContext func() (audio.Context, error)

	mu      sync.Mutex
	sess    *graphSession
	dropped int
}

func NewGraph(cfg Config) *Graph {
	newContext := cfg.NewContext
	if newContext == nil {
		newContext = audio.NewGraphContext
	}
	return &Graph{cfg: cfg, newContext: newContext}
}

func (g *Graph) Kind() Kind { return KindGraph }

func (g *Graph) Start(ctx context.Context, sink Sink) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess != nil {
		return nil
	}
	sess, err := acquire(ctx,
		func() (*graphSession, error) { return g.open(sink) },
		func(s *graphSession) { g.teardown(s) },
	)
	if err != nil {
		return err
	}
	g.sess = sess
	g.dropped = 0
	return nil
}

func (g *Graph) open(sink Sink) (*graphSession, error) {
	actx, err := g.newContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	info, err := audio.FindDevice(actx, g.cfg.Device)
	if err != nil {
		actx.Close()
		return nil, fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	dev, err := actx.NewCapture(info, audio.CaptureConfig{
		SampleRate: pcm.SampleRate,
		Channels:   pcm.Channels,
		Format:     audio.FormatF32,
	})
	if err != nil {
		actx.Close()
		return nil, fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	if f := dev.Format(); f != audio.FormatF32 {
		dev.Close()
		actx.Close()
		return nil, fmt.Errorf("%w: device delivers %s, need f32le", ErrProcessorLoad, f)
	}
	proc, err := newProcessor(frameSize(g.cfg))
	if err != nil {
		dev.Close()
		actx.Close()
		return nil, fmt.Errorf("%w: %w", ErrProcessorLoad, err)
	}

	s := &graphSession{ctx: actx, dev: dev, proc: proc, pumpDone: make(chan struct{})}
	go func() {
		defer close(s.pumpDone)
		for frame := range proc.port {
			sink.Chunk(pcm.Encode(frame))
		}
	}()

	dev.SetCallback(proc.process)
	dev.SetErrorCallback(func(err error) {
		sink.Error(fmt.Errorf("%w: %w", ErrDeviceLost, err))
	})
	if err := dev.Start(); err != nil {
		g.teardown(s)
		return nil, fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	log.Infof("graph capture started on %s (frame=%d)", dev.DeviceName(), proc.framer.Size())
	return s, nil
}

func (g *Graph) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == nil {
		return
	}
	s := g.sess
	g.sess = nil
	g.teardown(s)
	g.dropped = int(s.proc.dropped.Load())
	if g.dropped > 0 {
		g.cfg.Metrics.Dropped(string(KindGraph), metrics.ReasonOverflow, g.dropped)
		log.Warnf("graph: %d frames dropped on port overflow", g.dropped)
	}
}

// teardown releases a session in dependency order; the pump has drained
// every posted frame when it returns.
func (g *Graph) teardown(s *graphSession) {
	s.proc.disconnect()
	s.dev.ClearCallback()
	s.dev.Stop()
	s.proc.finish(g.cfg.FlushPartialFrame)
	<-s.pumpDone
	s.dev.Close()
	s.ctx.Close()
}

func (g *Graph) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
