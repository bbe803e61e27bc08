package domain

// TaskPositionChange is the normalized write sent to the server when a task
// lands in a new list or index.
type TaskPositionChange struct {
	TaskID      string `json:"taskId"`
	NewListID   string `json:"newListId"`
	NewPosition int    `json:"newPosition"`
}

// ListPositionChange moves a list to a new index among its siblings.
type ListPositionChange struct {
	ListID      string `json:"listId"`
	NewPosition int    `json:"newPosition"`
	BoardID     string `json:"boardId"`
}

// NewTask carries the fields accepted when a task is created.
type NewTask struct {
	ListID string `json:"listId"`
	Title  string `json:"title"`
	Notes  string `json:"notes,omitempty"`
}

// NewList carries the fields accepted when a list is created.
type NewList struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}
