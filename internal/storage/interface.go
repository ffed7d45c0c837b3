package storage

import (
	"context"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/services/cooldown"
)

// Storage defines the interface for canvas persistence
type Storage interface {
	// Canvas operations
	GetCell(ctx context.Context, coord model.Coord) (*model.Cell, error)
	Snapshot(ctx context.Context) (*model.Snapshot, error)
	CurrentRevision(ctx context.Context) (int64, error)

	// DeltasSince returns every delta with revision > since in ascending
	// order. It fails with model.ErrRevisionTooOld once the bounded log no
	// longer reaches since+1, and model.ErrRevisionAhead when since is past
	// the current revision.
	DeltasSince(ctx context.Context, since int64) ([]model.Delta, error)

	// CommitPlacement is the only write path for cells. The cooldown check,
	// cell write, cooldown advance, revision bump and delta log append
	// happen as one atomic unit. An ineligible user gets a
	// *model.OnCooldownError and nothing is written.
	CommitPlacement(ctx context.Context, commit model.PlacementCommit) (*model.PlacementOutcome, error)
	GetPlacementState(ctx context.Context, userID model.UserID) (*model.PlacementState, error)

	// Palette operations
	GetPalette(ctx context.Context, userID model.UserID) ([]model.Color, error)
	SavePalette(ctx context.Context, userID model.UserID, colors []model.Color) error

	// Player operations
	SavePlayer(ctx context.Context, player *model.Player) error
	GetPlayer(ctx context.Context, id model.UserID) (*model.Player, error)

	// Registered player operations
	SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error
	GetRegisteredPlayer(ctx context.Context, playerID model.UserID) (*model.RegisteredPlayer, error)
	GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error)
}

// Notifier carries committed deltas between processes sharing a store.
// Delivery is best effort: consumers detect gaps by revision and repair
// them with Storage.DeltasSince.
type Notifier interface {
	Publish(ctx context.Context, delta model.Delta) error

	// Subscribe returns a channel of published deltas. The channel is closed
	// when ctx is done or the underlying connection is lost.
	Subscribe(ctx context.Context) (<-chan model.Delta, error)
}

// Options configures a canvas store
type Options struct {
	Dimensions   model.Dimensions
	Cooldown     cooldown.Policy
	DeltaLogSize int
}

// DefaultOptions returns options for the canonical canvas
func DefaultOptions() Options {
	return Options{
		Dimensions:   model.DefaultDimensions(),
		Cooldown:     cooldown.New(cooldown.DefaultDuration),
		DeltaLogSize: 10000,
	}
}
