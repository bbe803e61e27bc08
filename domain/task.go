package domain

// Task represents a single card on a board. Position is its index inside the
// list it belongs to.
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Notes    string `json:"notes,omitempty"`
	ListID   string `json:"listId"`
	Position int    `json:"position"`
	Done     bool   `json:"done,omitempty"`
}

// List is a column on a board.
type List struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Position int    `json:"position"`
}

// Board groups lists and tasks.
type Board struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// Snapshot is the full state of a board as returned by the server. Lists are
// ordered by position, tasks by list and then position.
type Snapshot struct {
	Board      Board  `json:"board"`
	Lists      []List `json:"lists"`
	Tasks      []Task `json:"tasks"`
	TotalTasks int    `json:"totalTasks"`
	TotalLists int    `json:"totalLists"`
}
