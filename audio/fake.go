package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const fakeFrameSize = 1024 // samples per callback

// FakeContext replays fixed mono PCM through the capture callback, in
// whatever sample format the capture asks for.
type FakeContext struct {
	samples    []int16
	sampleRate int
	realtime   bool
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", wavPath)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wavPath, err)
	}
	fc := NewFakeContextFromSamples(monoInt16(buf), realtime)
	fc.sampleRate = int(dec.SampleRate)
	return fc, nil
}

func NewFakeContextFromSamples(samples []int16, realtime bool) *FakeContext {
	return &FakeContext{samples: samples, sampleRate: 16000, realtime: realtime}
}

// monoInt16 keeps the first channel and rescales to 16 bits.
func monoInt16(buf *goaudio.IntBuffer) []int16 {
	chans := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		chans = buf.Format.NumChannels
	}
	shift := buf.SourceBitDepth - 16
	out := make([]int16, 0, len(buf.Data)/chans)
	for i := 0; i < len(buf.Data); i += chans {
		v := buf.Data[i]
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0 && buf.SourceBitDepth == 8:
			v = (v - 128) << 8
		}
		out = append(out, int16(v))
	}
	return out
}

func (f *FakeContext) SampleRate() int { return f.sampleRate }

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if config.Format != FormatS16 && config.Format != FormatF32 {
		return nil, fmt.Errorf("fake: unsupported format %s", config.Format)
	}
	rate := config.SampleRate
	if rate == 0 {
		rate = 16000
	}
	return &FakeCapture{
		pcm:        encodeFake(f.samples, config.Format),
		format:     config.Format,
		sampleRate: rate,
		realtime:   f.realtime,
		audioDone:  make(chan struct{}),
	}, nil
}

func encodeFake(samples []int16, format Format) []byte {
	bps := format.BytesPerSample()
	data := make([]byte, len(samples)*bps)
	for i, s := range samples {
		if format == FormatF32 {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(float32(s)/32768))
		} else {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
	}
	return data
}

type FakeCapture struct {
	pcm        []byte
	format     Format
	sampleRate uint32
	realtime   bool
	audioDone  chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	errCb    ErrorCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the whole clip has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) SetErrorCallback(cb ErrorCallback) {
	f.mu.Lock()
	f.errCb = cb
	f.mu.Unlock()
}

// Fail simulates the host dropping the device mid-capture.
func (f *FakeCapture) Fail(err error) {
	if err == nil {
		err = errors.New("fake: device lost")
	}
	f.mu.Lock()
	cb := f.errCb
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *FakeCapture) Format() Format { return f.format }

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/f.format.BytesPerSample()))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is NOT recreated here -- callers may already be waiting on it.
	// It's reset in Stop() for replay.

	chunkBytes := fakeFrameSize * f.format.BytesPerSample()
	silence := make([]byte, chunkBytes)

	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)
		close(f.feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.sampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			cb := f.callback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, fakeFrameSize)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
		return
	default:
		close(f.stopCh)
	}
	<-f.feedDone
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() { f.Stop() }
