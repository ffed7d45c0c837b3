package client

import (
	"errors"
	"sync"

	"github.com/mcoot/pxcanvas/internal/model"
)

// ErrMirrorGap is returned when a delta does not follow the mirror's revision
var ErrMirrorGap = errors.New("delta does not follow mirror revision")

// Mirror is a local replica of the canvas fed by snapshots and deltas
type Mirror struct {
	mu       sync.RWMutex
	dims     model.Dimensions
	revision int64
	cells    map[model.Coord]model.Cell
}

// NewMirror creates an empty mirror at revision 0
func NewMirror() *Mirror {
	return &Mirror{cells: make(map[model.Coord]model.Cell)}
}

// ApplySnapshot replaces the mirror's contents
func (m *Mirror) ApplySnapshot(snap *model.Snapshot) {
	cells := make(map[model.Coord]model.Cell, len(snap.Cells))
	for k, v := range snap.Cells {
		cells[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dims = snap.Dimensions
	m.revision = snap.Revision
	m.cells = cells
}

// ApplyDelta applies a delta that directly follows the mirror's revision.
// Deltas at or below the current revision are ignored and report false.
// A delta beyond the next revision is not applied and returns ErrMirrorGap.
func (m *Mirror) ApplyDelta(d model.Delta) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.Revision <= m.revision {
		return false, nil
	}
	if d.Revision != m.revision+1 {
		return false, ErrMirrorGap
	}
	m.cells[d.Cell.Coord] = d.Cell
	m.revision = d.Revision
	return true, nil
}

// Cell returns a mirrored cell
func (m *Mirror) Cell(coord model.Coord) (model.Cell, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cells[coord]
	return c, ok
}

// Revision returns the revision the mirror reflects
func (m *Mirror) Revision() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Len returns the number of placed cells
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cells)
}

// Dimensions returns the grid size from the last snapshot
func (m *Mirror) Dimensions() model.Dimensions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dims
}

// Snapshot returns a copy of the mirror's state
func (m *Mirror) Snapshot() *model.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := model.NewSnapshot(m.dims, m.revision)
	for k, v := range m.cells {
		snap.Cells[k] = v
	}
	return snap
}
