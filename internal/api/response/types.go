package response

import (
	"time"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/services/auth"
)

// Player represents a player in API responses
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsGuest     bool   `json:"is_guest"`
}

// PlayerFromModel converts a model.Player to a response Player
func PlayerFromModel(p *model.Player) Player {
	return Player{
		ID:          string(p.ID),
		DisplayName: p.DisplayName,
		IsGuest:     p.IsGuest,
	}
}

// PlayerFromIdentity converts an identity from an external provider
func PlayerFromIdentity(id *model.Identity) Player {
	return Player{
		ID:          string(id.UserID),
		DisplayName: id.DisplayName,
	}
}

// AuthResponse is the response for authentication endpoints
type AuthResponse struct {
	Player       Player `json:"player"`
	SessionToken string `json:"session_token"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *auth.Session) AuthResponse {
	return AuthResponse{
		Player:       PlayerFromModel(&s.Player),
		SessionToken: s.Token,
	}
}

// Cell is one placed cell
type Cell struct {
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Color     string    `json:"color"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// CellFromModel converts a model.Cell
func CellFromModel(c model.Cell) Cell {
	return Cell{
		X:         c.Coord.X,
		Y:         c.Coord.Y,
		Color:     string(c.Color),
		UserID:    string(c.PlacedBy),
		Username:  c.PlacedByName,
		Timestamp: c.PlacedAt,
	}
}

// ToModel converts back to a model.Cell
func (c Cell) ToModel() model.Cell {
	return model.Cell{
		Coord:        model.Coord{X: c.X, Y: c.Y},
		Color:        model.Color(c.Color),
		PlacedBy:     model.UserID(c.UserID),
		PlacedByName: c.Username,
		PlacedAt:     c.Timestamp,
	}
}

// Delta is a committed cell change. It is also the payload of SSE delta events.
type Delta struct {
	Revision int64 `json:"revision"`
	Cell     Cell  `json:"cell"`
}

// DeltaFromModel converts a model.Delta
func DeltaFromModel(d model.Delta) Delta {
	return Delta{Revision: d.Revision, Cell: CellFromModel(d.Cell)}
}

// ToModel converts back to a model.Delta
func (d Delta) ToModel() model.Delta {
	return model.Delta{Revision: d.Revision, Cell: d.Cell.ToModel()}
}

// CellMetadata is the hover info for a cell
type CellMetadata struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// Canvas is a full snapshot. Cells and Metadata are keyed by "x,y".
// It is also the payload of SSE snapshot events.
type Canvas struct {
	Width    int                     `json:"width"`
	Height   int                     `json:"height"`
	Revision int64                   `json:"revision"`
	Cells    map[string]string       `json:"cells"`
	Metadata map[string]CellMetadata `json:"metadata"`
}

// CanvasFromModel converts a model.Snapshot
func CanvasFromModel(s *model.Snapshot) Canvas {
	cells := make(map[string]string, len(s.Cells))
	metadata := make(map[string]CellMetadata, len(s.Cells))
	for coord, cell := range s.Cells {
		key := coord.Key()
		cells[key] = string(cell.Color)
		metadata[key] = CellMetadata{
			UserID:    string(cell.PlacedBy),
			Username:  cell.PlacedByName,
			Timestamp: cell.PlacedAt,
		}
	}
	return Canvas{
		Width:    s.Dimensions.Width,
		Height:   s.Dimensions.Height,
		Revision: s.Revision,
		Cells:    cells,
		Metadata: metadata,
	}
}

// ToModel converts back to a model.Snapshot, skipping malformed keys
func (c Canvas) ToModel() *model.Snapshot {
	snap := model.NewSnapshot(model.Dimensions{Width: c.Width, Height: c.Height}, c.Revision)
	for key, color := range c.Cells {
		coord, err := model.ParseCoordKey(key)
		if err != nil {
			continue
		}
		meta := c.Metadata[key]
		snap.Cells[coord] = model.Cell{
			Coord:        coord,
			Color:        model.Color(color),
			PlacedBy:     model.UserID(meta.UserID),
			PlacedByName: meta.Username,
			PlacedAt:     meta.Timestamp,
		}
	}
	return snap
}

// Deltas is the response for the delta catch-up endpoint
type Deltas struct {
	Revision int64   `json:"revision"`
	Deltas   []Delta `json:"deltas"`
}

// DeltasFromModel converts a delta slice at the given store revision
func DeltasFromModel(revision int64, deltas []model.Delta) Deltas {
	out := make([]Delta, len(deltas))
	for i, d := range deltas {
		out[i] = DeltaFromModel(d)
	}
	return Deltas{Revision: revision, Deltas: out}
}

// PlaceResponse is the response to a placement attempt. Rejections carry
// RetryAfterSeconds and no Cell.
type PlaceResponse struct {
	Accepted          bool       `json:"accepted"`
	TotalPlaced       int64      `json:"total_placed"`
	NextEligibleAt    *time.Time `json:"next_eligible_at,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
	Revision          int64      `json:"revision,omitempty"`
	Cell              *Cell      `json:"cell,omitempty"`
}

// PlaceResponseAccepted builds the response for a committed placement
func PlaceResponseAccepted(d model.Delta, state model.PlacementState) PlaceResponse {
	cell := CellFromModel(d.Cell)
	return PlaceResponse{
		Accepted:       true,
		TotalPlaced:    state.TotalPlaced,
		NextEligibleAt: state.NextEligibleAt,
		Revision:       d.Revision,
		Cell:           &cell,
	}
}

// PlaceResponseRejected builds the response for a cooldown rejection
func PlaceResponseRejected(e *model.OnCooldownError) PlaceResponse {
	next := e.NextEligibleAt
	return PlaceResponse{
		Accepted:          false,
		TotalPlaced:       e.TotalPlaced,
		NextEligibleAt:    &next,
		RetryAfterSeconds: e.RetryAfterSeconds(),
	}
}

// Status is a user's placement eligibility
type Status struct {
	CanPlace          bool       `json:"can_place"`
	NextEligibleAt    *time.Time `json:"next_eligible_at,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
	TotalPlaced       int64      `json:"total_placed"`
}

// StatusFromModel converts placement state and remaining cooldown
func StatusFromModel(state model.PlacementState, canPlace bool, retryAfter time.Duration) Status {
	s := Status{
		CanPlace:    canPlace,
		TotalPlaced: state.TotalPlaced,
	}
	if !canPlace {
		s.NextEligibleAt = state.NextEligibleAt
		s.RetryAfterSeconds = model.CeilSeconds(retryAfter)
	}
	return s
}

// Palette is a user's saved colors
type Palette struct {
	Colors []string `json:"colors"`
}

// PaletteFromModel converts a color slice
func PaletteFromModel(colors []model.Color) Palette {
	out := make([]string, len(colors))
	for i, c := range colors {
		out[i] = string(c)
	}
	return Palette{Colors: out}
}

// Health is the health check response
type Health struct {
	Status   string `json:"status"`
	Revision int64  `json:"revision"`
}
