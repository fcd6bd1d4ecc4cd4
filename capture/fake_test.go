package capture

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"murmur/audio"
)

// stubContext hands out a single stubDevice the test drives by hand.
type stubContext struct {
	devices []audio.DeviceInfo
	format  audio.Format
	dev     *stubDevice
	closed  bool
}

func newStubContext() *stubContext {
	return &stubContext{format: audio.FormatF32}
}

func (c *stubContext) Devices() ([]audio.DeviceInfo, error) { return c.devices, nil }

func (c *stubContext) NewCapture(_ *audio.DeviceInfo, _ audio.CaptureConfig) (audio.CaptureDevice, error) {
	c.dev = &stubDevice{format: c.format}
	return c.dev, nil
}

func (c *stubContext) Close() { c.closed = true }

type stubDevice struct {
	mu       sync.Mutex
	format   audio.Format
	cb       audio.DataCallback
	errCb    audio.ErrorCallback
	started  bool
	stopped  bool
	closed   bool
	startErr error
}

func (d *stubDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.started = true
	return nil
}

func (d *stubDevice) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *stubDevice) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *stubDevice) SetCallback(cb audio.DataCallback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *stubDevice) ClearCallback() {
	d.mu.Lock()
	d.cb = nil
	d.mu.Unlock()
}

func (d *stubDevice) SetErrorCallback(cb audio.ErrorCallback) {
	d.mu.Lock()
	d.errCb = cb
	d.mu.Unlock()
}

func (d *stubDevice) Format() audio.Format { return d.format }
func (d *stubDevice) DeviceName() string   { return "stub" }

// feed delivers samples as f32le, like the audio thread would.
func (d *stubDevice) feed(samples []float32) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb == nil {
		return
	}
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	cb(data, uint32(len(samples)))
}

func (d *stubDevice) fail(err error) {
	d.mu.Lock()
	cb := d.errCb
	d.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// collector is a Sink that records everything it is given.
type collector struct {
	mu     sync.Mutex
	chunks []string
	errs   []error
	gate   chan struct{} // when non-nil, Chunk blocks until closed
}

func (c *collector) sink() Sink {
	return Sink{
		Chunk: func(chunk string) {
			if c.gate != nil {
				<-c.gate
			}
			c.mu.Lock()
			c.chunks = append(c.chunks, chunk)
			c.mu.Unlock()
		},
		Error: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		},
	}
}

func (c *collector) gotChunks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chunks...)
}

func (c *collector) gotErrs() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

func ramp(n int, start int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((start+i)%1000) / 32768
	}
	return out
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
