package client

import (
	"context"
	"sync"
	"time"

	"prism-board/board"
	"prism-board/domain"
)

// ViewOptions configure OpenView.
type ViewOptions struct {
	TaskDelay    time.Duration
	ListDelay    time.Duration
	WriteTimeout time.Duration
	PollInterval time.Duration
	Notifier     board.Notifier
	// AfterFunc replaces the debounce timer factory, mainly for tests.
	AfterFunc board.AfterFunc
}

// View is one open board: a Reconciler seeded from the server plus the feed
// that keeps it reconciled. Close tears both down.
type View struct {
	rec    *board.Reconciler
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// OpenView fetches the board, initializes a Reconciler from it and starts
// following server refreshes.
func OpenView(ctx context.Context, c *Client, boardID string, opts ViewOptions) (*View, error) {
	if boardID == "" {
		return nil, errEmptyBoardID
	}
	snap, err := c.FetchSnapshot(ctx, boardID)
	if err != nil {
		return nil, err
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: c.log}
	}
	rec := board.New(boardID, c.Board(boardID), board.Options{
		TaskDelay:    opts.TaskDelay,
		ListDelay:    opts.ListDelay,
		WriteTimeout: opts.WriteTimeout,
		Logger:       c.log,
		Notifier:     notifier,
		AfterFunc:    opts.AfterFunc,
	})
	initial := board.FromSnapshot(snap)
	rec.Initialize(initial.Grouping, initial.ListOrder)

	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v := &View{rec: rec, cancel: cancel, done: make(chan struct{})}
	feed := NewFeed(c, boardID, opts.PollInterval, func(s domain.Snapshot) {
		rec.ReconcileFromServer(board.FromSnapshot(s))
	})
	go func() {
		defer close(v.done)
		feed.Run(feedCtx)
	}()
	return v, nil
}

// Reconciler exposes the view's state machine.
func (v *View) Reconciler() *board.Reconciler { return v.rec }

// MoveTask applies a single drag of taskID to toListID at toIndex.
func (v *View) MoveTask(taskID, toListID string, toIndex int) ([]board.Move, bool) {
	return v.rec.MoveTask(taskID, toListID, toIndex)
}

// MoveList drops the dragged list onto target.
func (v *View) MoveList(dragged, target string) bool {
	return v.rec.ApplyListMove(dragged, target)
}

// Flush sends buffered changes now instead of waiting for the debounce.
func (v *View) Flush() int { return v.rec.Flush() }

// Close stops the feed and the Reconciler. Writes already in flight finish
// but no longer change the view.
func (v *View) Close() {
	v.once.Do(func() {
		v.cancel()
		<-v.done
		v.rec.Close()
	})
}
