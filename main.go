package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"murmur/audio"
	"murmur/capture"
	"murmur/doctor"
	"murmur/log"
	"murmur/metrics"
	"murmur/recorder"
	"murmur/shutdown"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseConfig(args, os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if cfg.version {
		fmt.Printf("murmur %s\n", version)
		return 0
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	var host *replayHost
	var newContext func() (audio.Context, error)
	if cfg.testWAV != "" {
		host, err = newReplayHost(cfg.testWAV, cfg.realtime)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			return 1
		}
		newContext = func() (audio.Context, error) { return host, nil }
	}

	if cfg.doctor {
		return doctor.Run(doctor.Options{
			Backend:     cfg.backend,
			Device:      cfg.device,
			StreamURL:   cfg.streamURL,
			StreamToken: cfg.streamToken,
			NewContext:  newContext,
			Interactive: host == nil,
		})
	}

	if cfg.setup && cfg.device == "" && host == nil {
		hc, err := capture.HostContext(cfg.backend)
		if err != nil {
			fmt.Printf("Error initializing audio: %v\n", err)
			return 1
		}
		dev, err := audio.SelectDevice(hc, os.Stdin, os.Stdout)
		hc.Close()
		switch {
		case errors.Is(err, audio.ErrPickerCanceled):
			return 0
		case err != nil:
			fmt.Printf("Error selecting device: %v\n", err)
			return 1
		case dev != nil:
			cfg.device = dev.Name
		}
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.Infof("murmur %s backend=%s device=%q", version, cfg.backend, cfg.device)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc, err := metrics.NewCollector(reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	rec := recorder.New(recorder.Options{
		Backend:           cfg.backend,
		Device:            cfg.device,
		FrameSize:         cfg.frame,
		FlushPartialFrame: cfg.flushPartial,
		NativeBufferSize:  cfg.nativeBuffer,
		StartTimeout:      cfg.startTimeout,
		Metrics:           mc,
		NewContext:        newContext,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := newApp(ctx, cfg, rec, os.Stdout)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.metricsAddr, reg) })
	}
	g.Go(func() error {
		defer cancel()
		if host != nil {
			return drive(gctx, a, host, os.Stdin)
		}
		return a.record(gctx, cfg.duration)
	})
	g.Go(func() error {
		if s := shutdown.Wait(gctx); s != nil {
			log.Infof("received %s, stopping", s)
			cancel()
		}
		return nil
	})

	err = g.Wait()
	rec.Destroy()
	<-rec.Done()

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		log.Errorf("exit: %v", err)
		return 1
	}
	log.Info("exit")
	return 0
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Infof("metrics listening on %s", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	<-errc
	return nil
}
