package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"murmur/audio"
	"murmur/log"
)

// replayHost serves a WAV clip as the audio host and remembers the last
// capture it handed out, so the driver can wait for the clip to finish.
type replayHost struct {
	*audio.FakeContext

	mu   sync.Mutex
	last *audio.FakeCapture
}

func newReplayHost(wavPath string, realtime bool) (*replayHost, error) {
	ctx, err := audio.NewFakeContext(wavPath, realtime)
	if err != nil {
		return nil, err
	}
	return &replayHost{FakeContext: ctx}, nil
}

func (h *replayHost) NewCapture(dev *audio.DeviceInfo, cfg audio.CaptureConfig) (audio.CaptureDevice, error) {
	dc, err := h.FakeContext.NewCapture(dev, cfg)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.last = dc.(*audio.FakeCapture)
	h.mu.Unlock()
	return dc, nil
}

func (h *replayHost) audioDone() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return h.last.AudioDone()
}

type opKind int

const (
	opStart opKind = iota
	opStop
	opWait
	opWaitAudioDone
	opSleep
	opQuit
)

type command struct {
	op    opKind
	sleep time.Duration
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "START":
		return command{op: opStart}, nil
	case "STOP":
		return command{op: opStop}, nil
	case "WAIT":
		return command{op: opWait}, nil
	case "WAIT_AUDIO_DONE":
		return command{op: opWaitAudioDone}, nil
	case "QUIT":
		return command{op: opQuit}, nil
	case "SLEEP":
		if len(fields) != 2 {
			return command{}, fmt.Errorf("SLEEP needs a millisecond count")
		}
		ms, err := strconv.Atoi(fields[1])
		if err != nil || ms < 0 {
			return command{}, fmt.Errorf("bad SLEEP duration %q", fields[1])
		}
		return command{op: opSleep, sleep: time.Duration(ms) * time.Millisecond}, nil
	}
	return command{}, fmt.Errorf("unknown command %q", fields[0])
}

// drive executes stdin commands against the recorder until QUIT, EOF or
// ctx ends. Unknown commands are logged and skipped.
func drive(ctx context.Context, a *app, host *replayHost, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		var line string
		select {
		case l, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			line = strings.TrimSpace(l)
		case <-ctx.Done():
			return ctx.Err()
		}
		if line == "" {
			continue
		}
		cmd, err := parseCommand(line)
		if err != nil {
			log.Warnf("test driver: %v", err)
			continue
		}

		var wait <-chan struct{}
		switch cmd.op {
		case opStart:
			if _, err := a.rec.Start(ctx); err != nil {
				log.Errorf("start: %v", err)
			}
			continue
		case opStop:
			a.rec.Stop()
			continue
		case opQuit:
			return nil
		case opWait:
			wait = a.finished
		case opWaitAudioDone:
			wait = host.audioDone()
		case opSleep:
			timer := time.NewTimer(cmd.sleep)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			continue
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
