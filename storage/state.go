package storage

import (
	"fmt"
	"sort"

	"prism-board/domain"
)

// maxConflictRetries bounds how often a write reloads the board after losing
// a version race.
const maxConflictRetries = 5

// boardState is a board loaded into memory for a single write. Mutations
// keep positions dense (0..n-1) within each list and among lists, and track
// which rows must be written back.
type boardState struct {
	board domain.Board
	lists []domain.List
	tasks map[string][]domain.Task

	addedTasks   []domain.Task
	addedLists   []domain.List
	deletedTasks []string

	origTasks map[string]domain.Task
	origLists map[string]domain.List
}

func newBoardState(board domain.Board, lists []domain.List, tasks []domain.Task) *boardState {
	s := &boardState{
		board:     board,
		lists:     append([]domain.List(nil), lists...),
		tasks:     make(map[string][]domain.Task, len(lists)),
		origTasks: make(map[string]domain.Task, len(tasks)),
		origLists: make(map[string]domain.List, len(lists)),
	}
	sort.SliceStable(s.lists, func(i, j int) bool { return s.lists[i].Position < s.lists[j].Position })
	for _, l := range s.lists {
		s.tasks[l.ID] = nil
		s.origLists[l.ID] = l
	}
	for _, t := range tasks {
		s.tasks[t.ListID] = append(s.tasks[t.ListID], t)
		s.origTasks[t.ID] = t
	}
	for listID := range s.tasks {
		ts := s.tasks[listID]
		sort.SliceStable(ts, func(i, j int) bool { return ts[i].Position < ts[j].Position })
	}
	return s
}

func (s *boardState) snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Board: s.board,
		Lists: append([]domain.List{}, s.lists...),
		Tasks: []domain.Task{},
	}
	for _, l := range s.lists {
		snap.Tasks = append(snap.Tasks, s.tasks[l.ID]...)
	}
	snap.TotalLists = len(snap.Lists)
	snap.TotalTasks = len(snap.Tasks)
	return snap
}

func (s *boardState) hasList(id string) bool {
	_, ok := s.tasks[id]
	return ok
}

func (s *boardState) locate(taskID string) (string, int, bool) {
	for listID, ts := range s.tasks {
		for i, t := range ts {
			if t.ID == taskID {
				return listID, i, true
			}
		}
	}
	return "", -1, false
}

// moveTask removes the task from its list and inserts it into the target
// list at NewPosition, clamped to the list length.
func (s *boardState) moveTask(c domain.TaskPositionChange) error {
	if c.NewPosition < 0 || !s.hasList(c.NewListID) {
		return fmt.Errorf("move task %s to %s/%d: %w", c.TaskID, c.NewListID, c.NewPosition, domain.ErrInvalidMove)
	}
	fromList, idx, ok := s.locate(c.TaskID)
	if !ok {
		return fmt.Errorf("task %s: %w", c.TaskID, domain.ErrNotFound)
	}
	src := s.tasks[fromList]
	task := src[idx]
	s.tasks[fromList] = append(src[:idx:idx], src[idx+1:]...)

	dst := s.tasks[c.NewListID]
	pos := c.NewPosition
	if pos > len(dst) {
		pos = len(dst)
	}
	dst = append(dst, domain.Task{})
	copy(dst[pos+1:], dst[pos:])
	dst[pos] = task
	s.tasks[c.NewListID] = dst

	s.renumberTasks(fromList)
	s.renumberTasks(c.NewListID)
	return nil
}

// moveList places the list at newPosition among its siblings.
func (s *boardState) moveList(listID string, newPosition int) error {
	if newPosition < 0 {
		return fmt.Errorf("move list %s to %d: %w", listID, newPosition, domain.ErrInvalidMove)
	}
	idx := -1
	for i, l := range s.lists {
		if l.ID == listID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}
	list := s.lists[idx]
	rest := append(s.lists[:idx:idx], s.lists[idx+1:]...)
	if newPosition > len(rest) {
		newPosition = len(rest)
	}
	rest = append(rest, domain.List{})
	copy(rest[newPosition+1:], rest[newPosition:])
	rest[newPosition] = list
	s.lists = rest
	for i := range s.lists {
		s.lists[i].Position = i
	}
	return nil
}

func (s *boardState) addList(l domain.List) domain.List {
	l.BoardID = s.board.ID
	l.Position = len(s.lists)
	s.lists = append(s.lists, l)
	s.tasks[l.ID] = nil
	s.addedLists = append(s.addedLists, l)
	return l
}

func (s *boardState) addTask(t domain.Task) (domain.Task, error) {
	if !s.hasList(t.ListID) {
		return domain.Task{}, fmt.Errorf("list %s: %w", t.ListID, domain.ErrNotFound)
	}
	t.Position = len(s.tasks[t.ListID])
	s.tasks[t.ListID] = append(s.tasks[t.ListID], t)
	s.addedTasks = append(s.addedTasks, t)
	return t, nil
}

func (s *boardState) deleteTask(taskID string) error {
	listID, idx, ok := s.locate(taskID)
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	ts := s.tasks[listID]
	s.tasks[listID] = append(ts[:idx:idx], ts[idx+1:]...)
	s.renumberTasks(listID)
	s.deletedTasks = append(s.deletedTasks, taskID)
	return nil
}

func (s *boardState) renumberTasks(listID string) {
	for i := range s.tasks[listID] {
		s.tasks[listID][i].ListID = listID
		s.tasks[listID][i].Position = i
	}
}

// changedTasks returns pre-existing tasks whose list or position differ from
// what was loaded.
func (s *boardState) changedTasks() []domain.Task {
	var out []domain.Task
	for _, l := range s.lists {
		for _, t := range s.tasks[l.ID] {
			orig, ok := s.origTasks[t.ID]
			if !ok {
				continue
			}
			if orig.ListID != t.ListID || orig.Position != t.Position {
				out = append(out, t)
			}
		}
	}
	return out
}

// changedLists returns pre-existing lists whose position changed.
func (s *boardState) changedLists() []domain.List {
	var out []domain.List
	for _, l := range s.lists {
		if orig, ok := s.origLists[l.ID]; ok && orig.Position != l.Position {
			out = append(out, l)
		}
	}
	return out
}
