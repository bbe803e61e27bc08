package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// tracked pairs a queued change with the pending token issued when the
// local move that produced it was applied.
type tracked[C any] struct {
	change C
	token  uint64
}

// ProcessTaskMoves writes a batch of task changes, one remote call per
// change, all in flight at once. Every ID is pending while the batch runs
// and cleared once its write settles, whether it succeeded or not. A single
// failure notification covers the whole batch.
func (r *Reconciler) ProcessTaskMoves(ctx context.Context, changes []domain.TaskPositionChange) error {
	items, err := claim(r, r.pendingTasks, changes, taskID)
	if err != nil {
		return err
	}
	return r.writeTasks(ctx, items)
}

// ProcessListMoves is the list counterpart of ProcessTaskMoves.
func (r *Reconciler) ProcessListMoves(ctx context.Context, changes []domain.ListPositionChange) error {
	items, err := claim(r, r.pendingLists, changes, listID)
	if err != nil {
		return err
	}
	return r.writeLists(ctx, items)
}

func (r *Reconciler) writeTasks(ctx context.Context, items []tracked[domain.TaskPositionChange]) error {
	return dispatch(ctx, r, KindTask, r.pendingTasks, items, taskID,
		func(ctx context.Context, c domain.TaskPositionChange) error {
			return r.remote.UpdateTaskPositions(ctx, []domain.TaskPositionChange{c})
		})
}

func (r *Reconciler) writeLists(ctx context.Context, items []tracked[domain.ListPositionChange]) error {
	return dispatch(ctx, r, KindList, r.pendingLists, items, listID, r.remote.UpdateListPosition)
}

func (r *Reconciler) flushTasks(items []tracked[domain.TaskPositionChange]) {
	_ = r.writeTasks(context.Background(), items)
}

func (r *Reconciler) flushLists(items []tracked[domain.ListPositionChange]) {
	_ = r.writeLists(context.Background(), items)
}

func taskID(c domain.TaskPositionChange) string { return c.TaskID }

func listID(c domain.ListPositionChange) string { return c.ListID }

// claim marks changes submitted directly by a caller. An ID that is already
// pending keeps the marker of the move that owns it; the direct write then
// settles without clearing it.
func claim[C any](r *Reconciler, pending map[string]uint64, changes []C, id func(C) string) ([]tracked[C], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	items := make([]tracked[C], len(changes))
	for i, c := range changes {
		items[i].change = c
		if _, ok := pending[id(c)]; !ok {
			items[i].token = r.markLocked(pending, id(c))
		}
	}
	return items, nil
}

func dispatch[C any](
	ctx context.Context,
	r *Reconciler,
	kind Kind,
	pending map[string]uint64,
	items []tracked[C],
	id func(C) string,
	write func(context.Context, C) error,
) error {
	if len(items) == 0 {
		return nil
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	changes := make([]C, len(items))
	for i, it := range items {
		changes[i] = it.change
	}

	errs := make([]error, len(changes))
	var wg sync.WaitGroup
	for i, c := range changes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wctx, cancel := r.writeContext(ctx)
			defer cancel()
			if err := write(wctx, c); err != nil {
				errs[i] = fmt.Errorf("%s %s: %w", kind, id(c), err)
			}
		}()
	}
	wg.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, id(changes[i]))
		}
	}
	joined := errors.Join(errs...)

	r.mu.Lock()
	closed = r.closed
	if !closed {
		for _, it := range items {
			key := id(it.change)
			if it.token != 0 && pending[key] == it.token {
				delete(pending, key)
			}
		}
	}
	r.mu.Unlock()

	if joined == nil {
		r.log.WithFields(log.Fields{"kind": kind, "count": len(changes)}).Debug("position batch persisted")
		return nil
	}

	entry := r.log.WithError(joined).WithFields(log.Fields{
		"kind":   kind,
		"failed": len(failed),
		"total":  len(changes),
	})
	if closed {
		entry.Debug("position batch failed after close")
		return joined
	}
	entry.Error("failed to persist position batch")
	if r.notifier != nil {
		r.notifier.NotifyFailure(Failure{
			BoardID:   r.boardID,
			Kind:      kind,
			FailedIDs: failed,
			Total:     len(changes),
			Err:       joined,
		})
	}
	return joined
}

func (r *Reconciler) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.WriteTimeout > 0 {
		return context.WithTimeout(ctx, r.opts.WriteTimeout)
	}
	return context.WithCancel(ctx)
}
