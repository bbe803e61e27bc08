package board

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// ErrClosed is returned by batch processors once the Reconciler is closed.
var ErrClosed = errors.New("reconciler closed")

// State is the lifecycle state of a Reconciler.
type State int

const (
	Uninitialized State = iota
	Initialized
)

func (s State) String() string {
	if s == Initialized {
		return "initialized"
	}
	return "uninitialized"
}

// Options tune a Reconciler. Zero values fall back to defaults.
type Options struct {
	TaskDelay    time.Duration
	ListDelay    time.Duration
	WriteTimeout time.Duration
	Logger       *log.Logger
	Notifier     Notifier
	AfterFunc    AfterFunc
}

// Reconciler owns the optimistic board state of one view: the task
// Grouping, the list order and the set of IDs whose writes are unconfirmed.
// Local moves are applied immediately and persisted in debounced batches;
// server refreshes are merged only while nothing is pending.
type Reconciler struct {
	boardID  string
	remote   RemoteSync
	opts     Options
	log      *log.Entry
	notifier Notifier

	tasks *ChangeQueue[tracked[domain.TaskPositionChange]]
	lists *ChangeQueue[tracked[domain.ListPositionChange]]

	mu           sync.Mutex
	state        State
	closed       bool
	grouping     Grouping
	listOrder    []string
	pendingTasks map[string]uint64
	pendingLists map[string]uint64
	seq          uint64
}

// New creates an uninitialized Reconciler for boardID.
func New(boardID string, remote RemoteSync, opts Options) *Reconciler {
	if opts.TaskDelay <= 0 {
		opts.TaskDelay = DefaultDelay
	}
	if opts.ListDelay <= 0 {
		opts.ListDelay = DefaultDelay
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	r := &Reconciler{
		boardID:      boardID,
		remote:       remote,
		opts:         opts,
		log:          opts.Logger.WithField("boardId", boardID),
		notifier:     opts.Notifier,
		grouping:     Grouping{},
		pendingTasks: make(map[string]uint64),
		pendingLists: make(map[string]uint64),
	}
	r.tasks = NewChangeQueue(func(t tracked[domain.TaskPositionChange]) string { return t.change.TaskID }, opts.AfterFunc)
	r.lists = NewChangeQueue(func(t tracked[domain.ListPositionChange]) string { return t.change.ListID }, opts.AfterFunc)
	return r
}

// BoardID returns the board this Reconciler tracks.
func (r *Reconciler) BoardID() string { return r.boardID }

// Initialize seeds state from the first server snapshot. Later calls are
// ignored and return false.
func (r *Reconciler) Initialize(g Grouping, listOrder []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state == Initialized {
		return false
	}
	r.grouping = g.Clone()
	r.listOrder = append([]string(nil), listOrder...)
	r.state = Initialized
	r.log.WithFields(log.Fields{
		"tasks": r.grouping.TaskCount(),
		"lists": len(r.listOrder),
	}).Debug("board state initialized")
	return true
}

// ReconcileFromServer replaces local state with s when the Reconciler is
// initialized, no write is pending and the task or list count differs from
// the local one. It reports whether s was applied.
func (r *Reconciler) ReconcileFromServer(s ServerState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state != Initialized {
		return false
	}
	if len(r.pendingTasks) > 0 || len(r.pendingLists) > 0 {
		r.log.WithFields(log.Fields{
			"pendingTasks": len(r.pendingTasks),
			"pendingLists": len(r.pendingLists),
		}).Debug("skipping server refresh while writes are pending")
		return false
	}
	if r.grouping.TaskCount() == s.TotalTasks && len(r.listOrder) == s.TotalLists {
		return false
	}
	r.grouping = s.Grouping.Clone()
	r.listOrder = append([]string(nil), s.ListOrder...)
	r.log.WithFields(log.Fields{
		"tasks": s.TotalTasks,
		"lists": s.TotalLists,
	}).Debug("applied server refresh")
	return true
}

// ApplyLocalMove commits next as the current Grouping and queues a position
// change for every task the move touched. The new state is visible to
// readers before this returns; no remote write happens synchronously.
func (r *Reconciler) ApplyLocalMove(next Grouping) []Move {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state != Initialized {
		return nil
	}
	return r.applyLocalMoveLocked(next)
}

// applyLocalMoveLocked enqueues while r.mu is held so that queue order
// matches token order for every task.
func (r *Reconciler) applyLocalMoveLocked(next Grouping) []Move {
	moves := Diff(r.grouping, next)
	r.grouping = next.Clone()
	for _, m := range moves {
		r.tasks.Enqueue(tracked[domain.TaskPositionChange]{
			change: domain.TaskPositionChange{
				TaskID:      m.TaskID,
				NewListID:   m.ToListID,
				NewPosition: m.ToIndex,
			},
			token: r.markLocked(r.pendingTasks, m.TaskID),
		}, r.flushTasks, r.opts.TaskDelay)
	}
	return moves
}

// MoveTask is a convenience wrapper that moves one task and applies the
// result as a local move.
func (r *Reconciler) MoveTask(taskID, toListID string, toIndex int) ([]Move, bool) {
	next, ok := MoveTask(r.Grouping(), taskID, toListID, toIndex)
	if !ok {
		return nil, false
	}
	return r.ApplyLocalMove(next), true
}

// ApplyListMove moves dragged to target's slot and queues the change. It
// returns false for unknown IDs or when dragged equals target.
func (r *Reconciler) ApplyListMove(dragged, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state != Initialized {
		return false
	}
	next, index, ok := MoveList(r.listOrder, dragged, target)
	if !ok {
		return false
	}
	r.listOrder = next
	r.lists.Enqueue(tracked[domain.ListPositionChange]{
		change: domain.ListPositionChange{
			ListID:      dragged,
			NewPosition: index,
			BoardID:     r.boardID,
		},
		token: r.markLocked(r.pendingLists, dragged),
	}, r.flushLists, r.opts.ListDelay)
	return true
}

// Flush sends buffered changes now instead of waiting for the quiet period.
// It blocks until the resulting batches settle.
func (r *Reconciler) Flush() int {
	return r.tasks.Flush() + r.lists.Flush()
}

// Close cancels buffered changes and timers. Writes already dispatched run
// to completion but no longer touch state or notify.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.tasks.Clear()
	r.lists.Clear()
}

// State returns the lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsInitialized reports whether Initialize has accepted a snapshot.
func (r *Reconciler) IsInitialized() bool {
	return r.State() == Initialized
}

// Closed reports whether Close was called.
func (r *Reconciler) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Grouping returns a copy of the current Grouping.
func (r *Reconciler) Grouping() Grouping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grouping.Clone()
}

// ListOrder returns a copy of the current list order.
func (r *Reconciler) ListOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.listOrder...)
}

// PendingTasks returns the IDs of tasks with unconfirmed writes.
func (r *Reconciler) PendingTasks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keys(r.pendingTasks)
}

// PendingLists returns the IDs of lists with unconfirmed writes.
func (r *Reconciler) PendingLists() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keys(r.pendingLists)
}

// markLocked flags id as pending under a fresh token so that a write which
// settles after a newer local move does not clear the newer marker.
func (r *Reconciler) markLocked(pending map[string]uint64, id string) uint64 {
	r.seq++
	pending[id] = r.seq
	return r.seq
}

func keys(m map[string]uint64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
