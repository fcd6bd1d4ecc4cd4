package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type clientMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

type serverMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type update struct {
	Text  string
	Final bool
	Ack   bool // server finished processing after finalize
}

// conn is one connected streaming endpoint.
type conn interface {
	Send(chunk string) error
	CloseSend() error
	Recv() (update, error)
	Close() error
}

type wsConn struct {
	c      *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func dialWS(ctx context.Context, cfg Config) (conn, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	q := endpoint.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	if cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+cfg.Token)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c, _, err := websocket.Dial(streamCtx, endpoint.String(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream dial: %w", err)
	}
	return &wsConn{c: c, ctx: streamCtx, cancel: cancel}, nil
}

func (w *wsConn) Send(chunk string) error {
	return wsjson.Write(w.ctx, w.c, clientMessage{Type: "audio", Audio: chunk})
}

func (w *wsConn) CloseSend() error {
	return wsjson.Write(w.ctx, w.c, clientMessage{Type: "finalize"})
}

func (w *wsConn) Recv() (update, error) {
	for {
		var msg serverMessage
		if err := wsjson.Read(w.ctx, w.c, &msg); err != nil {
			return update{}, err
		}
		switch msg.Type {
		case "transcript":
			return update{Text: strings.TrimSpace(msg.Text), Final: msg.Final}, nil
		case "final":
			return update{Ack: true}, nil
		}
	}
}

func (w *wsConn) Close() error {
	w.cancel()
	return w.c.Close(websocket.StatusNormalClosure, "")
}
