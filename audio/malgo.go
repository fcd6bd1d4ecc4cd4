//go:build cgo

package audio

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

// NewGraphContext opens a miniaudio context. Capture devices created from
// it deliver samples from miniaudio's real-time thread.
func NewGraphContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   d.ID.String(),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	c := &malgoCapture{name: "system default"}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	if config.Format == FormatF32 {
		deviceConfig.Capture.Format = malgo.FormatF32
	}
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		copy(c.devID[:], idBytes)
		deviceConfig.Capture.DeviceID = c.devID.Pointer()
		c.name = device.Name
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			if cb := c.callback.Load(); cb != nil {
				(*cb)(input, frameCount)
			}
		},
		Stop: c.onStop,
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo device: %w", err)
	}
	c.device = dev
	switch dev.CaptureFormat() {
	case malgo.FormatF32:
		c.format = FormatF32
	case malgo.FormatS16:
		c.format = FormatS16
	default:
		c.format = Format(-1)
	}
	return c, nil
}

func (m *malgoContext) Close() {
	_ = m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device *malgo.Device
	devID  malgo.DeviceID
	name   string
	format Format

	callback atomic.Pointer[DataCallback]
	onError  atomic.Pointer[ErrorCallback]
	stopping atomic.Bool

	mu     sync.Mutex
	closed bool
}

func (c *malgoCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("malgo: device closed")
	}
	c.stopping.Store(false)
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopping.Store(true)
	_ = c.device.Stop()
}

func (c *malgoCapture) Close() {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.device.Uninit()
}

// onStop fires for requested and unrequested stops alike; only the latter
// is reported.
func (c *malgoCapture) onStop() {
	if c.stopping.Load() {
		return
	}
	if cb := c.onError.Load(); cb != nil {
		(*cb)(errors.New("malgo: capture device stopped"))
	}
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) SetErrorCallback(cb ErrorCallback) {
	c.onError.Store(&cb)
}

func (c *malgoCapture) Format() Format { return c.format }

func (c *malgoCapture) DeviceName() string { return c.name }
