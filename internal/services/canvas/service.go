package canvas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcoot/pxcanvas/internal/dependencies/clock"
	"github.com/mcoot/pxcanvas/internal/metrics"
	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/services/cooldown"
	"github.com/mcoot/pxcanvas/internal/storage"
)

// publishTimeout bounds the post-commit publish, which must outlive a
// caller that disconnects right after its placement commits
const publishTimeout = 2 * time.Second

// Config holds configuration for the canvas service
type Config struct {
	Dimensions   model.Dimensions
	Cooldown     cooldown.Policy
	PlaceTimeout time.Duration
}

// DefaultConfig returns the canonical canvas configuration
func DefaultConfig() Config {
	return Config{
		Dimensions:   model.DefaultDimensions(),
		Cooldown:     cooldown.New(cooldown.DefaultDuration),
		PlaceTimeout: 5 * time.Second,
	}
}

// PlaceResult is the outcome of an accepted placement
type PlaceResult struct {
	Delta model.Delta
	State model.PlacementState
}

// Status is a user's placement eligibility at a point in time
type Status struct {
	State      model.PlacementState
	CanPlace   bool
	RetryAfter time.Duration
}

// Service coordinates placements, reads and palettes on top of a store
type Service struct {
	storage  storage.Storage
	notifier storage.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config
}

// New creates a new canvas service
func New(storage storage.Storage, notifier storage.Notifier, clock clock.Clock, logger *slog.Logger, cfg Config) *Service {
	if cfg.PlaceTimeout <= 0 {
		cfg.PlaceTimeout = DefaultConfig().PlaceTimeout
	}
	return &Service{
		storage:  storage,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With(slog.String("component", "canvas-service")),
		cfg:      cfg,
	}
}

// Dimensions returns the grid size
func (s *Service) Dimensions() model.Dimensions {
	return s.cfg.Dimensions
}

// Place validates and commits one cell placement for an authenticated user.
// The store applies the cooldown check and all writes atomically; the
// resulting delta is published after the commit returns.
func (s *Service) Place(ctx context.Context, identity model.Identity, coord model.Coord, colorInput string) (*PlaceResult, error) {
	logger := s.logger.With(
		slog.String("user_id", string(identity.UserID)),
		slog.String("coord", coord.Key()),
	)

	if !s.cfg.Dimensions.Contains(coord) {
		metrics.ObservePlacement(metrics.ResultInvalid, 0)
		logger.Debug("placement rejected", slog.String("reason", "out of bounds"))
		return nil, model.ErrOutOfBounds
	}
	color, err := model.ParseColor(colorInput)
	if err != nil {
		metrics.ObservePlacement(metrics.ResultInvalid, 0)
		logger.Debug("placement rejected", slog.String("reason", "invalid color"), slog.String("color", colorInput))
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PlaceTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := s.storage.CommitPlacement(ctx, model.PlacementCommit{
		Identity: identity,
		Coord:    coord,
		Color:    color,
		Now:      s.clock.Now(),
	})
	elapsed := time.Since(start)
	if err != nil {
		var cdErr *model.OnCooldownError
		if errors.As(err, &cdErr) {
			metrics.ObservePlacement(metrics.ResultCooldown, elapsed)
			logger.Debug("placement rejected",
				slog.String("reason", "cooldown"),
				slog.Int("retry_after_seconds", cdErr.RetryAfterSeconds()),
			)
			return nil, cdErr
		}
		metrics.ObservePlacement(metrics.ResultUnavailable, elapsed)
		logger.Error("placement commit failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	metrics.ObservePlacement(metrics.ResultAccepted, elapsed)
	metrics.SetRevision(outcome.Delta.Revision)
	logger.Info("cell placed",
		slog.Int64("revision", outcome.Delta.Revision),
		slog.String("color", string(color)),
	)

	s.publish(ctx, outcome.Delta)

	return &PlaceResult{Delta: outcome.Delta, State: outcome.State}, nil
}

// publish sends a committed delta to other viewers. Failure is not returned:
// the delta is durable and the broadcaster repairs gaps from the delta log.
func (s *Service) publish(ctx context.Context, delta model.Delta) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.notifier.Publish(ctx, delta); err != nil {
		metrics.PublishFailed()
		s.logger.Warn("delta publish failed",
			slog.Int64("revision", delta.Revision),
			slog.String("error", err.Error()),
		)
	}
}

// Status reports whether a user may place now and how long until they can
func (s *Service) Status(ctx context.Context, userID model.UserID) (*Status, error) {
	state, err := s.storage.GetPlacementState(ctx, userID)
	if err != nil {
		return nil, s.storeError("get placement state", err)
	}
	now := s.clock.Now()
	return &Status{
		State:      *state,
		CanPlace:   s.cfg.Cooldown.CheckEligible(*state, now),
		RetryAfter: s.cfg.Cooldown.RetryAfter(*state, now),
	}, nil
}

// Snapshot returns the full grid and the revision it reflects
func (s *Service) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	snap, err := s.storage.Snapshot(ctx)
	if err != nil {
		return nil, s.storeError("snapshot", err)
	}
	return snap, nil
}

// Cell returns the current state of one cell
func (s *Service) Cell(ctx context.Context, coord model.Coord) (*model.Cell, error) {
	if !s.cfg.Dimensions.Contains(coord) {
		return nil, model.ErrOutOfBounds
	}
	cell, err := s.storage.GetCell(ctx, coord)
	if err != nil {
		return nil, s.storeError("get cell", err)
	}
	return cell, nil
}

// CurrentRevision returns the revision of the latest commit
func (s *Service) CurrentRevision(ctx context.Context) (int64, error) {
	rev, err := s.storage.CurrentRevision(ctx)
	if err != nil {
		return 0, s.storeError("current revision", err)
	}
	return rev, nil
}

// DeltasSince returns every delta after the given revision
func (s *Service) DeltasSince(ctx context.Context, since int64) ([]model.Delta, error) {
	deltas, err := s.storage.DeltasSince(ctx, since)
	if err != nil {
		return nil, s.storeError("deltas since", err)
	}
	return deltas, nil
}

// GetPalette returns a user's saved colors
func (s *Service) GetPalette(ctx context.Context, userID model.UserID) ([]model.Color, error) {
	colors, err := s.storage.GetPalette(ctx, userID)
	if err != nil {
		return nil, s.storeError("get palette", err)
	}
	return colors, nil
}

// SavePalette validates and replaces a user's saved colors. Palettes are
// independent of placement and carry no ordering guarantee relative to it.
func (s *Service) SavePalette(ctx context.Context, userID model.UserID, colors []string) ([]model.Color, error) {
	palette, err := model.ParsePalette(colors)
	if err != nil {
		return nil, err
	}
	if err := s.storage.SavePalette(ctx, userID, palette); err != nil {
		return nil, s.storeError("save palette", err)
	}
	return palette, nil
}

// storeError passes domain errors through and turns anything else into a
// retriable ErrStoreUnavailable
func (s *Service) storeError(op string, err error) error {
	switch {
	case errors.Is(err, model.ErrCellNotFound),
		errors.Is(err, model.ErrRevisionTooOld),
		errors.Is(err, model.ErrRevisionAhead),
		errors.Is(err, model.ErrPlayerNotFound):
		return err
	}
	s.logger.Error("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	return fmt.Errorf("%w: %s: %v", model.ErrStoreUnavailable, op, err)
}
