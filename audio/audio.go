package audio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupported = errors.New("audio host not supported in this build")
	ErrNoDevice    = errors.New("capture device not found")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Format is the sample layout delivered to a DataCallback.
type Format int

const (
	FormatS16 Format = iota // signed 16-bit little-endian
	FormatF32               // 32-bit float little-endian, nominal range [-1, 1]
)

func (f Format) String() string {
	switch f {
	case FormatS16:
		return "s16le"
	case FormatF32:
		return "f32le"
	default:
		return "unknown"
	}
}

func (f Format) BytesPerSample() int {
	if f == FormatF32 {
		return 4
	}
	return 2
}

// SourceHint tells the host what the captured audio is for. Hosts that
// cannot act on it ignore it.
type SourceHint int

const (
	SourceDefault SourceHint = iota
	SourceVoiceRecognition
)

// DataCallback receives captured samples. It may run on a real-time audio
// thread and must not block; data is only valid during the call.
type DataCallback func(data []byte, frameCount uint32)

// ErrorCallback is invoked when a started device stops on its own.
type ErrorCallback func(err error)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	Format     Format
	Source     SourceHint
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	SetErrorCallback(cb ErrorCallback)
	// Format reports the sample layout actually negotiated with the host.
	Format() Format
	DeviceName() string
}

// FindDevice resolves a device by exact name. An empty name selects the
// host default and returns nil.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDevice, name)
}
