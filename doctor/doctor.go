package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"murmur/audio"
	"murmur/capture"
	"murmur/pcm"
	"murmur/recorder"
	"murmur/shutdown"
	"murmur/stream"
)

type Options struct {
	Backend     capture.Kind
	Device      string
	Duration    time.Duration // capture check length, default 1s
	StreamURL   string
	StreamToken string

	// NewContext replaces the platform audio host (fixtures, -test mode).
	NewContext  func() (audio.Context, error)
	Out         io.Writer
	Interactive bool
}

type doctor struct {
	opts   Options
	out    io.Writer
	chunks []string
}

// Run executes diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Backend == "" {
		opts.Backend = capture.DefaultKind()
	}
	if opts.Duration <= 0 {
		opts.Duration = time.Second
	}
	if opts.Interactive {
		resetTerminal()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if shutdown.Wait(ctx) != nil {
				fmt.Fprintln(os.Stderr, "\nInterrupted")
				os.Exit(1)
			}
		}()
	}

	d := &doctor{opts: opts, out: opts.Out}
	d.println("murmur doctor - capture diagnostics")
	d.println("===================================")
	d.printf("backend: %s\n", opts.Backend)

	allPass := d.checkHost()
	if allPass && !d.checkCapture() {
		allPass = false
	}
	if allPass && !d.checkStream() {
		allPass = false
	}

	d.println()
	if allPass {
		d.println("All checks passed!")
		return 0
	}
	d.println("Some checks failed. See details above.")
	return 1
}

func (d *doctor) println(a ...any)               { fmt.Fprintln(d.out, a...) }
func (d *doctor) printf(format string, a ...any) { fmt.Fprintf(d.out, format, a...) }

func (d *doctor) hostContext() (audio.Context, error) {
	if d.opts.NewContext != nil {
		return d.opts.NewContext()
	}
	return capture.HostContext(d.opts.Backend)
}

func (d *doctor) checkHost() bool {
	d.println()
	d.println("[1/3] Audio host")

	ctx, err := d.hostContext()
	if err != nil {
		d.printf("  FAIL: cannot connect to audio host: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		d.printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		d.println("  FAIL: no capture devices found")
		return false
	}
	for _, dev := range devices {
		tag := ""
		if audio.IsBluetooth(dev.Name) {
			tag = " (bluetooth: expect narrowband audio)"
		}
		d.printf("  - %s%s\n", dev.Name, tag)
	}
	if _, err := audio.FindDevice(ctx, d.opts.Device); err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	d.printf("  PASS: %d device(s)\n", len(devices))
	return true
}

func (d *doctor) checkCapture() bool {
	d.println()
	d.printf("[2/3] Capture (%s)\n", d.opts.Duration)

	rec := recorder.New(recorder.Options{
		Backend:    d.opts.Backend,
		Device:     d.opts.Device,
		NewContext: d.opts.NewContext,
	})
	defer func() {
		rec.Destroy()
		<-rec.Done()
	}()

	var mu sync.Mutex
	var runtimeErr error
	stopped := make(chan struct{})
	rec.OnData(func(chunk string) {
		mu.Lock()
		d.chunks = append(d.chunks, chunk)
		mu.Unlock()
	})
	rec.OnError(func(err error) {
		mu.Lock()
		runtimeErr = err
		mu.Unlock()
	})
	rec.OnStop(func() { close(stopped) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rec.Start(ctx); err != nil {
		d.printf("  FAIL: start: %v\n", err)
		return false
	}
	time.Sleep(d.opts.Duration)
	rec.Stop()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		d.println("  FAIL: stop was never delivered")
		return false
	}

	mu.Lock()
	defer mu.Unlock()
	if runtimeErr != nil {
		d.printf("  FAIL: %v\n", runtimeErr)
		return false
	}
	if len(d.chunks) == 0 {
		d.println("  FAIL: no audio chunks captured")
		return false
	}

	var samples int
	var peak int16
	for _, chunk := range d.chunks {
		frame, err := pcm.Decode(chunk)
		if err != nil {
			d.printf("  FAIL: undecodable chunk: %v\n", err)
			return false
		}
		samples += len(frame)
		for _, s := range frame {
			if s < 0 {
				s = -max(s, -32767)
			}
			peak = max(peak, s)
		}
	}
	d.printf("  %d chunks, %.2fs of audio, peak %d\n", len(d.chunks), pcm.Duration(samples), peak)
	if peak == 0 {
		d.println("  Warning: capture is silent (muted microphone?)")
	}
	d.println("  PASS: chunks decode to whole s16le samples")
	return true
}

func (d *doctor) checkStream() bool {
	d.println()
	d.println("[3/3] Streaming endpoint")
	if d.opts.StreamURL == "" {
		d.println("  SKIP: no endpoint configured")
		return true
	}

	s := stream.Dial(context.Background(), stream.Config{URL: d.opts.StreamURL, Token: d.opts.StreamToken})
	for _, chunk := range d.chunks {
		s.Feed(chunk)
	}
	res, err := s.Close()
	if err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	for _, line := range res.Stats.Summary() {
		d.printf("  %s\n", line)
	}
	text := res.Text
	if text == "" {
		text = "(no speech detected)"
	}
	d.printf("  transcript: %s\n", text)
	d.println("  PASS: endpoint accepted the stream")
	return true
}
