package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mcoot/pxcanvas/internal/api/response"
	"github.com/mcoot/pxcanvas/internal/client"
	"github.com/mcoot/pxcanvas/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

// PrintUpdate outputs one change from the live stream. JSON output is one
// object per line.
func (o *Output) PrintUpdate(u client.Update, at time.Time) {
	if o.format == "json" {
		line := updateLine{Time: at, Kind: u.Kind, Revision: u.Revision}
		if u.Delta != nil {
			cell := response.CellFromModel(u.Delta.Cell)
			line.Cell = &cell
		}
		if u.Err != nil {
			line.Error = u.Err.Error()
		}
		data, _ := json.Marshal(line)
		fmt.Fprintln(o.w, string(data))
		return
	}

	ts := at.Format("15:04:05")
	switch u.Kind {
	case client.UpdateSnapshot:
		fmt.Fprintf(o.w, "[%s] snapshot at revision %d\n", ts, u.Revision)
	case client.UpdateDelta:
		c := u.Delta.Cell
		fmt.Fprintf(o.w, "[%s] #%d %s %s by %s\n", ts, u.Revision, c.Coord.Key(), c.Color, c.PlacedByName)
	case client.UpdateResync:
		fmt.Fprintf(o.w, "[%s] reconnecting: %v\n", ts, u.Err)
	}
}

type updateLine struct {
	Time     time.Time      `json:"time"`
	Kind     string         `json:"kind"`
	Revision int64          `json:"revision"`
	Cell     *response.Cell `json:"cell,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// canvasView is a snapshot with an optional character grid in text output
type canvasView struct {
	response.Canvas
	grid bool
}

func (o *Output) printJSON(data any) {
	if v, ok := data.(canvasView); ok {
		data = v.Canvas
	}
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.Player:
		o.printPlayer(v)
	case response.AuthResponse:
		o.printPlayer(v.Player)
		fmt.Fprintf(o.w, "Token: %s\n", v.SessionToken)
	case response.PlaceResponse:
		o.printPlaceResponse(v)
	case response.Status:
		o.printStatus(v)
	case response.Palette:
		o.printPalette(v)
	case response.Cell:
		o.printCell(v)
	case canvasView:
		o.printCanvas(v)
	case response.Health:
		fmt.Fprintf(o.w, "Status: %s\n", v.Status)
		fmt.Fprintf(o.w, "Revision: %d\n", v.Revision)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printPlayer(p response.Player) {
	guestStr := "no"
	if p.IsGuest {
		guestStr = "yes"
	}
	fmt.Fprintf(o.w, "Player: %s (%s)\n", p.DisplayName, p.ID)
	fmt.Fprintf(o.w, "Guest: %s\n", guestStr)
}

func (o *Output) printPlaceResponse(p response.PlaceResponse) {
	if !p.Accepted {
		fmt.Fprintf(o.w, "On cooldown, retry in %ds\n", p.RetryAfterSeconds)
		return
	}
	if p.Cell != nil {
		fmt.Fprintf(o.w, "Placed %s at %d,%d (revision %d)\n", p.Cell.Color, p.Cell.X, p.Cell.Y, p.Revision)
	}
	fmt.Fprintf(o.w, "Total placed: %d\n", p.TotalPlaced)
	if p.NextEligibleAt != nil {
		fmt.Fprintf(o.w, "Next placement: %s\n", p.NextEligibleAt.Format(time.RFC3339))
	}
}

func (o *Output) printStatus(s response.Status) {
	if s.CanPlace {
		fmt.Fprintln(o.w, "Ready to place")
	} else {
		fmt.Fprintf(o.w, "On cooldown, retry in %ds\n", s.RetryAfterSeconds)
	}
	fmt.Fprintf(o.w, "Total placed: %d\n", s.TotalPlaced)
}

func (o *Output) printPalette(p response.Palette) {
	if len(p.Colors) == 0 {
		fmt.Fprintln(o.w, "Palette is empty")
		return
	}
	fmt.Fprintf(o.w, "Palette (%d): %s\n", len(p.Colors), strings.Join(p.Colors, " "))
}

func (o *Output) printCell(c response.Cell) {
	fmt.Fprintf(o.w, "Cell %d,%d: %s\n", c.X, c.Y, c.Color)
	fmt.Fprintf(o.w, "Placed by: %s (%s)\n", c.Username, c.UserID)
	fmt.Fprintf(o.w, "Placed at: %s\n", c.Timestamp.Format(time.RFC3339))
}

func (o *Output) printCanvas(v canvasView) {
	fmt.Fprintf(o.w, "Canvas: %dx%d\n", v.Width, v.Height)
	fmt.Fprintf(o.w, "Revision: %d\n", v.Revision)
	fmt.Fprintf(o.w, "Placed cells: %d\n", len(v.Cells))

	if v.grid {
		o.printGrid(v.Canvas)
		return
	}

	coords := make([]model.Coord, 0, len(v.Cells))
	for key := range v.Cells {
		if coord, err := model.ParseCoordKey(key); err == nil {
			coords = append(coords, coord)
		}
	}
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Y != coords[j].Y {
			return coords[i].Y < coords[j].Y
		}
		return coords[i].X < coords[j].X
	})
	for _, c := range coords {
		key := c.Key()
		fmt.Fprintf(o.w, "  %-9s %s  %s\n", key, v.Cells[key], v.Metadata[key].Username)
	}
}

// printGrid draws placed cells as '#' and empty cells as '.'
func (o *Output) printGrid(c response.Canvas) {
	var b strings.Builder
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			if _, ok := c.Cells[model.Coord{X: x, Y: y}.Key()]; ok {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	fmt.Fprint(o.w, b.String())
}
