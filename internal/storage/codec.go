package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcoot/pxcanvas/internal/model"
)

// deltaRecord is the serialized form of a delta shared by the redis and
// postgres backends (delta log entries and notifications)
type deltaRecord struct {
	Revision int64  `json:"rev"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Color    string `json:"color"`
	UserID   string `json:"uid"`
	Username string `json:"name"`
	PlacedAt int64  `json:"at"` // unix milliseconds
}

// EncodeDelta serializes a delta for a log entry or notification payload
func EncodeDelta(d model.Delta) ([]byte, error) {
	return json.Marshal(deltaRecord{
		Revision: d.Revision,
		X:        d.Cell.Coord.X,
		Y:        d.Cell.Coord.Y,
		Color:    string(d.Cell.Color),
		UserID:   string(d.Cell.PlacedBy),
		Username: d.Cell.PlacedByName,
		PlacedAt: d.Cell.PlacedAt.UnixMilli(),
	})
}

// DecodeDelta parses the output of EncodeDelta
func DecodeDelta(data []byte) (model.Delta, error) {
	var r deltaRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return model.Delta{}, fmt.Errorf("failed to decode delta: %w", err)
	}
	return model.Delta{
		Revision: r.Revision,
		Cell: model.Cell{
			Coord:        model.Coord{X: r.X, Y: r.Y},
			Color:        model.Color(r.Color),
			PlacedBy:     model.UserID(r.UserID),
			PlacedByName: r.Username,
			PlacedAt:     time.UnixMilli(r.PlacedAt).UTC(),
		},
	}, nil
}

// TruncateTime drops precision below what every backend can store, so a
// committed cell compares equal after a round trip through any store.
func TruncateTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
