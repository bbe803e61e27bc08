package board

// MoveList removes dragged from order and inserts it at the index target had
// before the removal, clamped to the shortened slice. Dragging X onto Z in
// [X Y Z] yields [Y Z X]. The returned slice is new; order is not modified.
// ok is false when either ID is missing or they are equal.
func MoveList(order []string, dragged, target string) (next []string, newIndex int, ok bool) {
	if dragged == target {
		return order, -1, false
	}
	from, to := -1, -1
	for i, id := range order {
		switch id {
		case dragged:
			if from < 0 {
				from = i
			}
		case target:
			if to < 0 {
				to = i
			}
		}
	}
	if from < 0 || to < 0 {
		return order, -1, false
	}

	next = make([]string, 0, len(order))
	next = append(next, order[:from]...)
	next = append(next, order[from+1:]...)
	if to > len(next) {
		to = len(next)
	}
	next = append(next, "")
	copy(next[to+1:], next[to:])
	next[to] = dragged
	return next, to, true
}
