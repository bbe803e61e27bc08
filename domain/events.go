package domain

const (
	TaskMoved   = "task-moved"
	TaskCreated = "task-created"
	TaskDeleted = "task-deleted"
	ListMoved   = "list-moved"
	ListCreated = "list-created"
)

// BoardEvent is published after a successful write so that open views can
// refresh and downstream consumers can follow board activity.
type BoardEvent struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Type     string `json:"type"`
	EntityID string `json:"entityId,omitempty"`
	Version  int64  `json:"version"`
	Time     int64  `json:"time"`
}
