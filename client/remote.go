package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
)

const (
	defaultWriteAttempts = 3
	defaultRetryBackoff  = 100 * time.Millisecond
)

// BoardRemote persists position changes of one board. Each change gets one
// Idempotency-Key that is reused when the request is retried after a
// transport error or a 5xx, so the server applies it at most once.
type BoardRemote struct {
	c       *Client
	boardID string

	// Attempts bounds how often one change is sent. Backoff is the first
	// pause between attempts and doubles after each retry.
	Attempts int
	Backoff  time.Duration
}

var _ board.RemoteSync = (*BoardRemote)(nil)

// Board returns the remote sync adapter for boardID.
func (c *Client) Board(boardID string) *BoardRemote {
	return &BoardRemote{c: c, boardID: boardID, Attempts: defaultWriteAttempts, Backoff: defaultRetryBackoff}
}

func (b *BoardRemote) UpdateTaskPositions(ctx context.Context, changes []domain.TaskPositionChange) error {
	if len(changes) == 0 {
		return nil
	}
	return b.send(ctx, http.MethodPost, boardPath(b.boardID, "tasks", "positions"), changes)
}

type listPositionBody struct {
	NewPosition int `json:"newPosition"`
}

func (b *BoardRemote) UpdateListPosition(ctx context.Context, change domain.ListPositionChange) error {
	boardID := change.BoardID
	if boardID == "" {
		boardID = b.boardID
	}
	return b.send(ctx, http.MethodPut, boardPath(boardID, "lists", change.ListID, "position"),
		listPositionBody{NewPosition: change.NewPosition})
}

func (b *BoardRemote) send(ctx context.Context, method, path string, body any) error {
	key := uuid.NewString()
	delay := b.Backoff
	for attempt := 1; ; attempt++ {
		err := b.c.do(ctx, method, path, key, body, nil)
		if err == nil || attempt >= b.Attempts || !retryable(err) {
			return err
		}
		b.c.log.WithError(err).WithFields(log.Fields{"path": path, "attempt": attempt}).Debug("retrying write")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// retryable reports whether a failed write may succeed when resent: transport
// errors, 429 and 5xx responses.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= 500
	}
	return true
}
