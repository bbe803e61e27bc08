package board

import (
	"context"

	"prism-board/domain"
)

// RemoteSync persists batched position changes. Implementations must be safe
// for concurrent use; one call is made per change in a batch.
type RemoteSync interface {
	UpdateTaskPositions(ctx context.Context, changes []domain.TaskPositionChange) error
	UpdateListPosition(ctx context.Context, change domain.ListPositionChange) error
}

// Kind names the entity kind of a failed batch.
type Kind string

const (
	KindTask Kind = "task"
	KindList Kind = "list"
)

// Failure describes a batch in which at least one remote write failed.
type Failure struct {
	BoardID   string
	Kind      Kind
	FailedIDs []string
	Total     int
	Err       error
}

// Notifier surfaces failed batches to the user. It is called once per batch.
type Notifier interface {
	NotifyFailure(f Failure)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(f Failure)

func (fn NotifierFunc) NotifyFailure(f Failure) { fn(f) }
