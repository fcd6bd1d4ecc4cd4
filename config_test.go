package main

import (
	"io"
	"strings"
	"testing"
	"time"

	"murmur/capture"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(nil, envMap(nil), io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.backend != capture.DefaultKind() {
		t.Errorf("backend = %q, want %q", cfg.backend, capture.DefaultKind())
	}
	if cfg.startTimeout != 5*time.Second {
		t.Errorf("startTimeout = %v", cfg.startTimeout)
	}
	if cfg.frame != 0 || cfg.nativeBuffer != 0 || cfg.flushPartial || cfg.streamURL != "" {
		t.Errorf("unexpected non-zero defaults: %+v", cfg)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	env := envMap(map[string]string{
		envBackend:     "bridge",
		envDevice:      "USB Mic",
		envStreamURL:   "ws://env.example/listen",
		envStreamToken: "secret",
	})

	tests := []struct {
		name       string
		args       []string
		wantKind   capture.Kind
		wantDevice string
		wantURL    string
	}{
		{"env only", nil, capture.KindBridge, "USB Mic", "ws://env.example/listen"},
		{"flag beats env", []string{"-backend", "graph", "-device", "Built-in"}, capture.KindGraph, "Built-in", "ws://env.example/listen"},
		{"stream flag", []string{"-stream", "wss://flag.example"}, capture.KindBridge, "USB Mic", "wss://flag.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig(tt.args, env, io.Discard)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.backend != tt.wantKind || cfg.device != tt.wantDevice || cfg.streamURL != tt.wantURL {
				t.Errorf("got backend=%q device=%q url=%q", cfg.backend, cfg.device, cfg.streamURL)
			}
			if cfg.streamToken != "secret" {
				t.Errorf("token = %q", cfg.streamToken)
			}
		})
	}
}

func TestParseConfigFlags(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-frame", "1024", "-native-buffer", "8192", "-flush-partial",
		"-start-timeout", "0", "-duration", "3s", "-idle-stop",
		"-test", "clip.wav", "-realtime", "-metrics", ":9090", "-logpath", "./",
	}, envMap(nil), io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	want := config{
		backend:      capture.DefaultKind(),
		frame:        1024,
		nativeBuffer: 8192,
		flushPartial: true,
		duration:     3 * time.Second,
		idleStop:     true,
		testWAV:      "clip.wav",
		realtime:     true,
		metricsAddr:  ":9090",
		logPath:      "./",
	}
	if cfg != want {
		t.Errorf("got  %+v\nwant %+v", cfg, want)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want string
	}{
		{"unknown backend flag", []string{"-backend", "alsa"}, nil, "alsa"},
		{"unknown backend env", nil, map[string]string{envBackend: "jack"}, "jack"},
		{"negative frame", []string{"-frame", "-1"}, nil, "-frame"},
		{"odd native buffer", []string{"-native-buffer", "4095"}, nil, "whole samples"},
		{"negative duration", []string{"-duration", "-1s"}, nil, "negative"},
		{"realtime without test", []string{"-realtime"}, nil, "-realtime requires -test"},
		{"stray argument", []string{"clip.wav"}, nil, "unexpected argument"},
		{"unknown flag", []string{"-nope"}, nil, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args, envMap(tt.env), io.Discard)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
