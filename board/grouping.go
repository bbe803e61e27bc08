package board

import (
	"sort"

	"prism-board/domain"
)

// Grouping maps a list ID to the tasks it holds. A task's index in the slice
// is its position.
type Grouping map[string][]domain.Task

type location struct {
	listID string
	index  int
}

// Clone returns a copy that shares no slices with g.
func (g Grouping) Clone() Grouping {
	if g == nil {
		return Grouping{}
	}
	out := make(Grouping, len(g))
	for listID, tasks := range g {
		out[listID] = append([]domain.Task(nil), tasks...)
	}
	return out
}

// TaskCount returns the number of tasks across all lists.
func (g Grouping) TaskCount() int {
	n := 0
	for _, tasks := range g {
		n += len(tasks)
	}
	return n
}

// Locate reports the list and index holding taskID.
func (g Grouping) Locate(taskID string) (string, int, bool) {
	loc, ok := g.index()[taskID]
	return loc.listID, loc.index, ok
}

// listIDs returns the keys of g in a stable order.
func (g Grouping) listIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// index maps each task ID to its location. When a task appears more than
// once the first occurrence in list-ID order wins.
func (g Grouping) index() map[string]location {
	idx := make(map[string]location, g.TaskCount())
	for _, listID := range g.listIDs() {
		for i, task := range g[listID] {
			if _, seen := idx[task.ID]; seen {
				continue
			}
			idx[task.ID] = location{listID: listID, index: i}
		}
	}
	return idx
}

// MoveTask returns a new Grouping with taskID removed from its current list
// and inserted into toListID at toIndex. The index is clamped to the target
// list. ListID and Position of the tasks in both touched lists are
// renumbered. It returns false when the task or the target list is unknown.
func MoveTask(g Grouping, taskID, toListID string, toIndex int) (Grouping, bool) {
	fromListID, fromIndex, ok := g.Locate(taskID)
	if !ok {
		return g, false
	}
	if _, ok := g[toListID]; !ok {
		return g, false
	}

	next := g.Clone()
	task := next[fromListID][fromIndex]
	src := next[fromListID]
	next[fromListID] = append(src[:fromIndex:fromIndex], src[fromIndex+1:]...)

	dst := next[toListID]
	if toIndex < 0 {
		toIndex = 0
	}
	if toIndex > len(dst) {
		toIndex = len(dst)
	}
	dst = append(dst, domain.Task{})
	copy(dst[toIndex+1:], dst[toIndex:])
	dst[toIndex] = task
	next[toListID] = dst

	renumber(next, fromListID)
	renumber(next, toListID)
	return next, true
}

func renumber(g Grouping, listID string) {
	for i := range g[listID] {
		g[listID][i].ListID = listID
		g[listID][i].Position = i
	}
}

// ServerState is a server snapshot translated into the shape the
// Reconciler keeps.
type ServerState struct {
	Grouping   Grouping
	ListOrder  []string
	TotalTasks int
	TotalLists int
}

// FromSnapshot groups the snapshot's tasks by list, ordered by position, and
// derives the list order. Every list gets an entry even when empty.
func FromSnapshot(s domain.Snapshot) ServerState {
	lists := append([]domain.List(nil), s.Lists...)
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].Position < lists[j].Position })

	g := make(Grouping, len(lists))
	order := make([]string, 0, len(lists))
	for _, l := range lists {
		if _, dup := g[l.ID]; dup {
			continue
		}
		g[l.ID] = []domain.Task{}
		order = append(order, l.ID)
	}
	for _, t := range s.Tasks {
		g[t.ListID] = append(g[t.ListID], t)
	}
	for listID := range g {
		tasks := g[listID]
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Position < tasks[j].Position })
	}

	return ServerState{
		Grouping:   g,
		ListOrder:  order,
		TotalTasks: s.TotalTasks,
		TotalLists: s.TotalLists,
	}
}
