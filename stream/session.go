// Package stream forwards recorder chunks to a remote speech endpoint over
// a WebSocket and collects the transcript it sends back.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"murmur/log"
	"murmur/pcm"
)

const (
	finalizeIdle = 200 * time.Millisecond
	finalizeMax  = 1000 * time.Millisecond
	queueDepth   = 128
)

var recvDrainMax = 2 * time.Second

type Config struct {
	URL        string
	Token      string
	SampleRate int
	Channels   int
}

type Stats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    int
	RecvMessages int
	RecvFinal    int
	CommitEvents int
	FinalizeWait time.Duration
	SessionDur   time.Duration
}

// AudioS is the duration of PCM sent, in seconds.
func (s Stats) AudioS() float64 {
	return pcm.Duration(s.SentBytes / pcm.BytesPerSample)
}

type Result struct {
	Text  string
	Stats Stats
}

// Session streams one recording. Feed and Close may be called before the
// connection is up; chunks queue until it is.
type Session struct {
	ws        conn
	committed string
	audioCh   chan string
	updates   chan string
	startedAt time.Time
	connected chan struct{} // closed when the connection is ready (or failed)

	sendDone      chan struct{}
	recvDone      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once

	feedMu sync.Mutex
	fed    bool // audioCh closed

	mu      sync.Mutex
	err     error
	errOnce sync.Once
	closing bool
	stats   Stats

	closeOnce sync.Once
	result    Result
	closeErr  error
}

// Dial starts connecting in the background and returns immediately.
func Dial(ctx context.Context, cfg Config) *Session {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = pcm.SampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = pcm.Channels
	}
	return newSession(func() (conn, error) { return dialWS(ctx, cfg) })
}

func newSession(dial func() (conn, error)) *Session {
	s := &Session{
		audioCh:   make(chan string, queueDepth),
		updates:   make(chan string, 16),
		startedAt: time.Now(),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
		connected: make(chan struct{}),
	}

	go func() {
		connectStart := time.Now()
		ws, err := dial()
		s.mu.Lock()
		s.stats.ConnectDur = time.Since(connectStart)
		s.mu.Unlock()

		if err != nil {
			s.setErr(err)
			close(s.sendDone)
			close(s.recvDone)
			close(s.connected)
			return
		}

		s.mu.Lock()
		s.ws = ws
		s.mu.Unlock()
		close(s.connected)
		go s.runSender()
		go s.runReceiver()
	}()

	return s
}

// Feed queues one base64 chunk. It blocks while the queue is full and
// returns at once if the session has failed or is closing.
func (s *Session) Feed(chunk string) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.fed {
		return
	}
	select {
	case s.audioCh <- chunk:
	case <-s.sendDone:
	}
}

// Updates delivers the committed transcript each time it grows.
func (s *Session) Updates() <-chan string {
	return s.updates
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close finalizes the stream and returns the transcript. Later calls return
// the same result.
func (s *Session) Close() (Result, error) {
	s.closeOnce.Do(func() { s.result, s.closeErr = s.finish() })
	return s.result, s.closeErr
}

func (s *Session) finish() (Result, error) {
	s.feedMu.Lock()
	s.fed = true
	close(s.audioCh)
	s.feedMu.Unlock()

	<-s.connected

	s.mu.Lock()
	connErr := s.err
	s.mu.Unlock()
	if s.ws == nil {
		close(s.updates)
		return Result{}, connErr
	}

	finalizeStart := time.Now()
	<-s.sendDone

	// Wait for the server's finalize acknowledgment, then a brief quiet period
	select {
	case <-s.finalized:
		time.Sleep(finalizeIdle)
	case <-time.After(finalizeMax):
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.ws.Close()
	drained := true
	select {
	case <-s.recvDone:
	case <-time.After(recvDrainMax):
		log.Warn("stream receiver drain timeout")
		drained = false
	}

	s.mu.Lock()
	finalText := s.committed
	s.mu.Unlock()
	if finalText != "" {
		select {
		case s.updates <- finalText:
		default:
		}
	}
	if drained {
		close(s.updates)
	} else {
		// The receiver may still publish; close once it is gone.
		go func() {
			<-s.recvDone
			close(s.updates)
		}()
	}

	s.mu.Lock()
	stats := s.stats
	stats.FinalizeWait = time.Since(finalizeStart)
	stats.SessionDur = time.Since(s.startedAt)
	sessionErr := s.err
	s.mu.Unlock()

	log.StreamMetrics(log.StreamMetricsData{
		ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
		FinalizeMs:   float64(stats.FinalizeWait.Milliseconds()),
		TotalMs:      float64(stats.SessionDur.Milliseconds()),
		AudioS:       stats.AudioS(),
		SentChunks:   stats.SentChunks,
		SentKB:       float64(stats.SentBytes) / 1024,
		RecvMessages: stats.RecvMessages,
		RecvFinal:    stats.RecvFinal,
	})
	text := strings.TrimSpace(finalText)
	if text != "" {
		log.TranscriptText(text)
	}
	return Result{Text: text, Stats: stats}, sessionErr
}

func (s *Session) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.setErr(err)
			return
		}
		s.mu.Lock()
		s.stats.SentChunks++
		s.stats.SentBytes += pcm.ChunkBytes(chunk)
		s.mu.Unlock()
	}
	if err := s.ws.CloseSend(); err != nil {
		s.setErr(err)
	}
}

func (s *Session) runReceiver() {
	defer close(s.recvDone)
	for {
		u, err := s.ws.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.setErr(err)
			}
			return
		}

		if u.Ack {
			s.finalizedOnce.Do(func() { close(s.finalized) })
			continue
		}

		s.mu.Lock()
		s.stats.RecvMessages++
		if u.Final {
			s.stats.RecvFinal++
		}
		s.mu.Unlock()

		if !u.Final || u.Text == "" {
			continue
		}

		s.mu.Lock()
		if s.committed != "" {
			s.committed += " " + u.Text
		} else {
			s.committed = u.Text
		}
		s.stats.CommitEvents++
		fullText := s.committed
		s.mu.Unlock()

		select {
		case s.updates <- fullText:
		default:
		}
	}
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		ws := s.ws
		s.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
	})
}

// Summary renders stats for the terminal.
func (s Stats) Summary() []string {
	return []string{
		fmt.Sprintf("audio:      %.1fs | %.1f KB PCM sent", s.AudioS(), float64(s.SentBytes)/1024),
		fmt.Sprintf("connect:    %dms", s.ConnectDur.Milliseconds()),
		fmt.Sprintf("sent:       %d chunks", s.SentChunks),
		fmt.Sprintf("recv:       %d msgs (%d final)", s.RecvMessages, s.RecvFinal),
		fmt.Sprintf("commit:     %d updates", s.CommitEvents),
		fmt.Sprintf("finalize:   %dms", s.FinalizeWait.Milliseconds()),
		fmt.Sprintf("total:      %dms", s.SessionDur.Milliseconds()),
	}
}
