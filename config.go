package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"murmur/capture"
)

const (
	envBackend     = "MURMUR_BACKEND"
	envDevice      = "MURMUR_DEVICE"
	envStreamURL   = "MURMUR_STREAM_URL"
	envStreamToken = "MURMUR_STREAM_TOKEN"
)

type config struct {
	backend      capture.Kind
	device       string
	setup        bool
	frame        int
	nativeBuffer int
	flushPartial bool
	startTimeout time.Duration
	duration     time.Duration
	idleStop     bool
	streamURL    string
	streamToken  string
	metricsAddr  string
	logPath      string
	testWAV      string
	realtime     bool
	doctor       bool
	version      bool
}

// parseConfig reads flags from args. Environment values act as defaults,
// so an explicit flag always wins.
func parseConfig(args []string, getenv func(string) string, errOut io.Writer) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("murmur", flag.ContinueOnError)
	fs.SetOutput(errOut)

	backend := fs.String("backend", getenv(envBackend), "Capture backend: graph or bridge (default depends on platform)")
	fs.StringVar(&cfg.device, "device", getenv(envDevice), "Use named microphone device")
	fs.BoolVar(&cfg.setup, "setup", false, "Select microphone device interactively")
	fs.IntVar(&cfg.frame, "frame", 0, "Samples per chunk (default 2048)")
	fs.IntVar(&cfg.nativeBuffer, "native-buffer", 0, "Bridge buffer size in bytes (default 4096)")
	fs.BoolVar(&cfg.flushPartial, "flush-partial", false, "Emit the trailing partial frame on stop")
	fs.DurationVar(&cfg.startTimeout, "start-timeout", 5*time.Second, "Give up on backend startup after this long (0 = wait forever)")
	fs.DurationVar(&cfg.duration, "duration", 0, "Stop recording after this long (0 = until interrupted)")
	fs.BoolVar(&cfg.idleStop, "idle-stop", false, "Stop recording after 30s without signal")
	fs.StringVar(&cfg.streamURL, "stream", getenv(envStreamURL), "Stream chunks to this WebSocket endpoint (ws:// or wss://)")
	fs.StringVar(&cfg.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g., :9090)")
	fs.StringVar(&cfg.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&cfg.testWAV, "test", "", "Test mode: replay this WAV file, driven by commands on stdin")
	fs.BoolVar(&cfg.realtime, "realtime", false, "Pace -test replay at the WAV's real rate")
	fs.BoolVar(&cfg.doctor, "doctor", false, "Run capture diagnostics and exit")
	fs.BoolVar(&cfg.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	kind, err := capture.ParseKind(*backend)
	if err != nil {
		return cfg, err
	}
	cfg.backend = kind
	cfg.streamToken = getenv(envStreamToken)

	switch {
	case cfg.frame < 0:
		return cfg, fmt.Errorf("-frame must be positive, got %d", cfg.frame)
	case cfg.nativeBuffer < 0:
		return cfg, fmt.Errorf("-native-buffer must be positive, got %d", cfg.nativeBuffer)
	case cfg.nativeBuffer%2 != 0:
		return cfg, fmt.Errorf("-native-buffer must hold whole samples, got %d", cfg.nativeBuffer)
	case cfg.duration < 0 || cfg.startTimeout < 0:
		return cfg, fmt.Errorf("durations must not be negative")
	case cfg.realtime && cfg.testWAV == "":
		return cfg, fmt.Errorf("-realtime requires -test")
	}
	return cfg, nil
}
