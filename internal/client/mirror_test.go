package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/pxcanvas/internal/model"
)

func delta(rev int64, x, y int, color string) model.Delta {
	return model.Delta{
		Revision: rev,
		Cell: model.Cell{
			Coord:        model.Coord{X: x, Y: y},
			Color:        model.Color(color),
			PlacedBy:     "u1",
			PlacedByName: "User",
			PlacedAt:     time.Date(2024, 1, 1, 12, 0, int(rev), 0, time.UTC),
		},
	}
}

func TestMirrorApplySnapshot(t *testing.T) {
	m := NewMirror()
	snap := model.NewSnapshot(model.Dimensions{Width: 10, Height: 10}, 4)
	snap.Cells[model.Coord{X: 1, Y: 2}] = delta(4, 1, 2, "#FF0000").Cell

	m.ApplySnapshot(snap)

	assert.Equal(t, int64(4), m.Revision())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, model.Dimensions{Width: 10, Height: 10}, m.Dimensions())
	c, ok := m.Cell(model.Coord{X: 1, Y: 2})
	require.True(t, ok)
	assert.Equal(t, model.Color("#FF0000"), c.Color)

	// The mirror keeps its own copy
	delete(snap.Cells, model.Coord{X: 1, Y: 2})
	assert.Equal(t, 1, m.Len())
}

func TestMirrorApplyDeltaIsIdempotent(t *testing.T) {
	m := NewMirror()

	applied, err := m.ApplyDelta(delta(1, 0, 0, "#FF0000"))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = m.ApplyDelta(delta(1, 0, 0, "#FF0000"))
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = m.ApplyDelta(delta(2, 0, 0, "#00FF00"))
	require.NoError(t, err)
	assert.True(t, applied)

	// A stale delta does not roll the cell back
	applied, err = m.ApplyDelta(delta(1, 0, 0, "#FF0000"))
	require.NoError(t, err)
	assert.False(t, applied)

	c, _ := m.Cell(model.Coord{X: 0, Y: 0})
	assert.Equal(t, model.Color("#00FF00"), c.Color)
	assert.Equal(t, int64(2), m.Revision())
}

func TestMirrorRejectsGap(t *testing.T) {
	m := NewMirror()

	_, err := m.ApplyDelta(delta(2, 0, 0, "#FF0000"))
	assert.ErrorIs(t, err, ErrMirrorGap)
	assert.Equal(t, int64(0), m.Revision())
	assert.Equal(t, 0, m.Len())
}

func TestMirrorsConverge(t *testing.T) {
	deltas := []model.Delta{
		delta(1, 0, 0, "#111111"),
		delta(2, 1, 0, "#222222"),
		delta(3, 0, 0, "#333333"),
		delta(4, 2, 2, "#444444"),
		delta(5, 1, 0, "#555555"),
	}

	// a sees every delta once
	a := NewMirror()
	for _, d := range deltas {
		_, err := a.ApplyDelta(d)
		require.NoError(t, err)
	}

	// b starts from a snapshot at revision 2 and sees redelivered deltas
	b := NewMirror()
	snap := model.NewSnapshot(model.Dimensions{}, 2)
	snap.Cells[model.Coord{X: 0, Y: 0}] = deltas[0].Cell
	snap.Cells[model.Coord{X: 1, Y: 0}] = deltas[1].Cell
	b.ApplySnapshot(snap)
	for _, d := range append(deltas, deltas[2:]...) {
		_, err := b.ApplyDelta(d)
		require.NoError(t, err)
	}

	assert.Equal(t, a.Revision(), b.Revision())
	assert.Equal(t, a.Snapshot().Cells, b.Snapshot().Cells)
}
