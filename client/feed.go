package client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// DefaultPollInterval is used while the websocket stream is unavailable.
const DefaultPollInterval = 5 * time.Second

type streamMessage struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	Version int64  `json:"version,omitempty"`
	Event   string `json:"event,omitempty"`
}

// Feed delivers fresh snapshots of a board. It follows the server's
// websocket stream and refetches on every refresh message; while the stream
// is down it polls instead and retries the stream after each poll.
type Feed struct {
	client   *Client
	boardID  string
	interval time.Duration
	apply    func(domain.Snapshot)
	log      *log.Entry
	dialer   *websocket.Dialer
}

// NewFeed creates a Feed that passes every fetched snapshot to apply.
func NewFeed(c *Client, boardID string, interval time.Duration, apply func(domain.Snapshot)) *Feed {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Feed{
		client:   c,
		boardID:  boardID,
		interval: interval,
		apply:    apply,
		log:      c.log.WithField("boardId", boardID),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run blocks until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	for {
		err := f.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		f.log.WithError(err).Debug("board stream unavailable, polling")
		f.refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.interval):
		}
	}
}

func (f *Feed) stream(ctx context.Context) error {
	wsURL, err := f.streamURL()
	if err != nil {
		return err
	}
	conn, _, err := f.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	f.log.Debug("board stream connected")
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == "refresh" {
			f.refresh(ctx)
		}
	}
}

func (f *Feed) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, f.interval+10*time.Second)
	defer cancel()
	snap, err := f.client.FetchSnapshot(ctx, f.boardID)
	if err != nil {
		if ctx.Err() == nil {
			f.log.WithError(err).Warn("refresh board")
		}
		return
	}
	f.apply(snap)
}

func (f *Feed) streamURL() (string, error) {
	u, err := url.Parse(f.client.BaseURL + boardPath(f.boardID, "stream"))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
