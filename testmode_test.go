package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"murmur/audio"
	"murmur/capture"
	"murmur/recorder"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{"START", command{op: opStart}, false},
		{"STOP", command{op: opStop}, false},
		{"WAIT", command{op: opWait}, false},
		{"WAIT_AUDIO_DONE", command{op: opWaitAudioDone}, false},
		{"QUIT", command{op: opQuit}, false},
		{"SLEEP 250", command{op: opSleep, sleep: 250 * time.Millisecond}, false},
		{"SLEEP", command{}, true},
		{"SLEEP soon", command{}, true},
		{"SLEEP -5", command{}, true},
		{"KEYDOWN", command{}, true},
		{"", command{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

// syncBuffer is an io.Writer safe for the dispatcher and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 1600
		} else {
			out[i] = -1600
		}
	}
	return out
}

type harness struct {
	app  *app
	rec  *recorder.Recorder
	host *replayHost
	out  *syncBuffer
}

func newHarness(t *testing.T, cfg config, samples []int16, realtime bool) *harness {
	t.Helper()
	host := &replayHost{FakeContext: audio.NewFakeContextFromSamples(samples, realtime)}
	rec := recorder.New(recorder.Options{
		Backend:    cfg.backend,
		NewContext: func() (audio.Context, error) { return host, nil },
	})
	out := &syncBuffer{}
	a := newApp(context.Background(), cfg, rec, out)
	t.Cleanup(func() {
		rec.Destroy()
		<-rec.Done()
	})
	return &harness{app: a, rec: rec, host: host, out: out}
}

func (h *harness) drive(t *testing.T, script string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := drive(ctx, h.app, h.host, strings.NewReader(script)); err != nil {
		t.Fatalf("drive: %v\noutput:\n%s", err, h.out.String())
	}
}

func TestDriveRecordsClip(t *testing.T) {
	for _, kind := range []capture.Kind{capture.KindGraph, capture.KindBridge} {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t, config{backend: kind}, tone(4096), false)
			h.drive(t, "START\nWAIT_AUDIO_DONE\nSLEEP 50\nSTOP\nWAIT\nQUIT\n")

			out := h.out.String()
			for _, want := range []string{"recording [" + string(kind) + "]", "stopped: 2 chunks, 0.3s audio, peak 4.9%"} {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestDriveTwoSessions(t *testing.T) {
	h := newHarness(t, config{backend: capture.KindGraph}, tone(2048), false)
	h.drive(t, "START\nSTOP\nWAIT\nSLEEP 5\nSTART\nSTOP\nWAIT\nQUIT\n")

	if n := strings.Count(h.out.String(), "stopped: 1 chunks"); n != 2 {
		t.Errorf("got %d finished sessions:\n%s", n, h.out.String())
	}
	if h.app.takes != 2 {
		t.Errorf("takes = %d", h.app.takes)
	}
}

func TestDriveSkipsUnknownCommands(t *testing.T) {
	h := newHarness(t, config{backend: capture.KindGraph}, tone(2048), false)
	h.drive(t, "KEYDOWN\n\nSTART\nbogus\nSTOP\nWAIT\n")
	if !strings.Contains(h.out.String(), "stopped:") {
		t.Errorf("session did not finish:\n%s", h.out.String())
	}
}

func TestDriveStopsOnCancel(t *testing.T) {
	h := newHarness(t, config{backend: capture.KindGraph}, tone(2048), false)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- drive(ctx, h.app, h.host, strings.NewReader("WAIT\n")) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drive did not return after cancel")
	}
}

func TestRecordStopsAfterDuration(t *testing.T) {
	h := newHarness(t, config{backend: capture.KindGraph}, tone(4096), true)
	start := time.Now()
	if err := h.app.record(context.Background(), 300*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el < 300*time.Millisecond {
		t.Errorf("returned after %v", el)
	}
	if !strings.Contains(h.out.String(), "stopped:") {
		t.Errorf("missing stop summary:\n%s", h.out.String())
	}
}

func TestRecordStopsOnCancel(t *testing.T) {
	h := newHarness(t, config{backend: capture.KindGraph}, tone(4096), true)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	if err := h.app.record(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if h.rec.IsRecording() {
		t.Fatal("still recording")
	}
}

func TestStreamedTranscript(t *testing.T) {
	var mu sync.Mutex
	var got int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusInternalError, "")
		for {
			var msg clientMessageJSON
			if err := wsjson.Read(r.Context(), c, &msg); err != nil {
				return
			}
			switch msg.Type {
			case "audio":
				mu.Lock()
				got++
				mu.Unlock()
			case "finalize":
				wsjson.Write(r.Context(), c, map[string]any{"type": "transcript", "text": "hello there", "final": true})
				wsjson.Write(r.Context(), c, map[string]any{"type": "final"})
			}
		}
	}))
	defer srv.Close()

	cfg := config{backend: capture.KindGraph, streamURL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	h := newHarness(t, cfg, tone(4096), false)
	h.drive(t, "START\nSTOP\nWAIT\nQUIT\n")

	out := h.out.String()
	if !strings.Contains(out, "transcript: hello there") {
		t.Errorf("missing transcript:\n%s", out)
	}
	mu.Lock()
	defer mu.Unlock()
	if got != 2 {
		t.Errorf("server received %d chunks, want 2", got)
	}
}

type clientMessageJSON struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}
