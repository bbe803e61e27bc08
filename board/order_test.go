package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveListSpliceSemantics(t *testing.T) {
	tests := []struct {
		name     string
		order    []string
		dragged  string
		target   string
		want     []string
		newIndex int
	}{
		{"first onto last", []string{"X", "Y", "Z"}, "X", "Z", []string{"Y", "Z", "X"}, 2},
		{"last onto first", []string{"X", "Y", "Z"}, "Z", "X", []string{"Z", "X", "Y"}, 0},
		{"neighbour forward", []string{"X", "Y", "Z"}, "X", "Y", []string{"Y", "X", "Z"}, 1},
		{"middle onto last", []string{"W", "X", "Y", "Z"}, "X", "Z", []string{"W", "Y", "Z", "X"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := append([]string(nil), tt.order...)
			got, idx, ok := MoveList(tt.order, tt.dragged, tt.target)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.newIndex, idx)
			assert.Equal(t, original, tt.order, "input must not be modified")
		})
	}
}

func TestMoveListRejectsUnknownOrSame(t *testing.T) {
	order := []string{"X", "Y"}

	_, _, ok := MoveList(order, "X", "X")
	assert.False(t, ok)
	_, _, ok = MoveList(order, "Q", "X")
	assert.False(t, ok)
	_, _, ok = MoveList(order, "X", "Q")
	assert.False(t, ok)
}
