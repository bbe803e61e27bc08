package board

// Move describes one task whose list or index differs between two
// Groupings. FromListID is empty and FromIndex is -1 for tasks that did not
// exist before.
type Move struct {
	TaskID     string
	FromListID string
	FromIndex  int
	ToListID   string
	ToIndex    int
}

// Inserted reports whether the task is new in the next Grouping.
func (m Move) Inserted() bool {
	return m.FromIndex < 0
}

// Diff returns a move for every task in next whose list or index changed
// relative to prev. Tasks only present in prev are ignored; deletions are a
// separate operation. Lists are visited in ID order so the result is
// deterministic.
func Diff(prev, next Grouping) []Move {
	before := prev.index()

	var moves []Move
	for _, listID := range next.listIDs() {
		for i, task := range next[listID] {
			loc, ok := before[task.ID]
			if !ok {
				moves = append(moves, Move{
					TaskID:    task.ID,
					FromIndex: -1,
					ToListID:  listID,
					ToIndex:   i,
				})
				continue
			}
			if loc.listID == listID && loc.index == i {
				continue
			}
			moves = append(moves, Move{
				TaskID:     task.ID,
				FromListID: loc.listID,
				FromIndex:  loc.index,
				ToListID:   listID,
				ToIndex:    i,
			})
		}
	}
	return moves
}
