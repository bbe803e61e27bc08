package api

import (
	"context"

	"prism-board/domain"
)

// Storage abstracts board persistence for handlers. Write methods return the
// board version after the write.
type Storage interface {
	FetchBoard(ctx context.Context, boardID string) (domain.Snapshot, error)
	UpdateTaskPositions(ctx context.Context, boardID string, changes []domain.TaskPositionChange) (int64, error)
	MoveList(ctx context.Context, boardID, listID string, newPosition int) (int64, error)
	CreateList(ctx context.Context, boardID string, list domain.NewList) (domain.List, int64, error)
	CreateTask(ctx context.Context, boardID string, task domain.NewTask) (domain.Task, int64, error)
	DeleteTask(ctx context.Context, boardID, taskID string) (int64, error)
	Ping(ctx context.Context) error
}

// Deduper prevents processing of duplicate writes.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when the write fails.
	Remove(ctx context.Context, scope, key string) error
}

// Publisher receives an event for every successful write.
type Publisher interface {
	Publish(ctx context.Context, ev domain.BoardEvent) error
}
