package model

import (
	"strconv"
	"strings"
	"time"
)

// Default canvas dimensions
const (
	DefaultWidth  = 200
	DefaultHeight = 100
)

// Coord identifies a single cell on the canvas
type Coord struct {
	X int
	Y int
}

// Key returns the wire/storage encoding of a coordinate ("x,y")
func (c Coord) Key() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Y)
}

// String implements fmt.Stringer
func (c Coord) String() string {
	return c.Key()
}

// ParseCoordKey parses an "x,y" key. Both parts must be non-negative
// decimal integers without sign, whitespace or leading zeros.
func ParseCoordKey(key string) (Coord, error) {
	xs, ys, ok := strings.Cut(key, ",")
	if !ok {
		return Coord{}, ErrInvalidCoordKey
	}
	x, err := parseKeyPart(xs)
	if err != nil {
		return Coord{}, err
	}
	y, err := parseKeyPart(ys)
	if err != nil {
		return Coord{}, err
	}
	return Coord{X: x, Y: y}, nil
}

func parseKeyPart(s string) (int, error) {
	if s == "" || len(s) > 9 {
		return 0, ErrInvalidCoordKey
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, ErrInvalidCoordKey
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrInvalidCoordKey
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrInvalidCoordKey
	}
	return n, nil
}

// Dimensions is the size of the canvas grid
type Dimensions struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// DefaultDimensions returns the canonical 200x100 grid
func DefaultDimensions() Dimensions {
	return Dimensions{Width: DefaultWidth, Height: DefaultHeight}
}

// Contains reports whether a coordinate lies inside the grid
func (d Dimensions) Contains(c Coord) bool {
	return c.X >= 0 && c.X < d.Width && c.Y >= 0 && c.Y < d.Height
}

// Cell is the current authoritative state of one grid position
type Cell struct {
	Coord        Coord
	Color        Color
	PlacedBy     UserID
	PlacedByName string
	PlacedAt     time.Time
}

// Delta is a single committed cell assignment. Deltas carry the full cell
// state, so applying one more than once has no further effect.
type Delta struct {
	Revision int64
	Cell     Cell
}

// Snapshot is the full grid at a given revision
type Snapshot struct {
	Dimensions Dimensions
	Revision   int64
	Cells      map[Coord]Cell
}

// NewSnapshot creates an empty snapshot
func NewSnapshot(dims Dimensions, revision int64) *Snapshot {
	return &Snapshot{
		Dimensions: dims,
		Revision:   revision,
		Cells:      make(map[Coord]Cell),
	}
}
