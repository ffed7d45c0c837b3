package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/storage"
)

// Storage is a PostgreSQL implementation of the storage interface
type Storage struct {
	pool *pgxpool.Pool
	cfg  Config
	opts storage.Options
}

// New connects to PostgreSQL and applies the schema
func New(ctx context.Context, cfg Config, opts storage.Options) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return NewWithPool(pool, cfg, opts), nil
}

// NewWithPool creates a store on an existing, migrated pool
func NewWithPool(pool *pgxpool.Pool, cfg Config, opts storage.Options) *Storage {
	return &Storage{pool: pool, cfg: cfg, opts: opts}
}

// Pool exposes the connection pool so a Notifier can share it
func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// withTimeout derives a child context with the configured query timeout.
// If QueryTimeout is zero, the parent context is returned unchanged.
func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.QueryTimeout)
	}
	return ctx, func() {}
}

// readTx runs fn in a read-only repeatable-read transaction, so every query
// in fn sees the same committed state
func (s *Storage) readTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func scanCell(row pgx.Row) (model.Cell, error) {
	var c model.Cell
	var color, placedBy string
	err := row.Scan(&c.Coord.X, &c.Coord.Y, &color, &placedBy, &c.PlacedByName, &c.PlacedAt)
	if err != nil {
		return model.Cell{}, err
	}
	c.Color = model.Color(color)
	c.PlacedBy = model.UserID(placedBy)
	c.PlacedAt = c.PlacedAt.UTC()
	return c, nil
}

// Canvas operations

func (s *Storage) GetCell(ctx context.Context, coord model.Coord) (*model.Cell, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cell, err := scanCell(s.pool.QueryRow(ctx, `
		SELECT x, y, color, placed_by, placed_by_name, placed_at
		FROM cells WHERE x = $1 AND y = $2
	`, coord.X, coord.Y))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrCellNotFound
		}
		return nil, fmt.Errorf("get cell: %w", err)
	}
	return &cell, nil
}

func (s *Storage) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var snap *model.Snapshot
	err := s.readTx(ctx, func(tx pgx.Tx) error {
		var rev int64
		if err := tx.QueryRow(ctx, `SELECT revision FROM canvas_revision`).Scan(&rev); err != nil {
			return fmt.Errorf("read revision: %w", err)
		}
		snap = model.NewSnapshot(s.opts.Dimensions, rev)

		rows, err := tx.Query(ctx, `SELECT x, y, color, placed_by, placed_by_name, placed_at FROM cells`)
		if err != nil {
			return fmt.Errorf("read cells: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			cell, err := scanCell(rows)
			if err != nil {
				return fmt.Errorf("scan cell: %w", err)
			}
			snap.Cells[cell.Coord] = cell
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Storage) CurrentRevision(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rev int64
	if err := s.pool.QueryRow(ctx, `SELECT revision FROM canvas_revision`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

func (s *Storage) DeltasSince(ctx context.Context, since int64) ([]model.Delta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		current int64
		deltas  []model.Delta
	)
	err := s.readTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT revision FROM canvas_revision`).Scan(&current); err != nil {
			return fmt.Errorf("read revision: %w", err)
		}
		if since >= current {
			return nil
		}

		rows, err := tx.Query(ctx, `
			SELECT revision, x, y, color, placed_by, placed_by_name, placed_at
			FROM canvas_deltas WHERE revision > $1 ORDER BY revision
		`, since)
		if err != nil {
			return fmt.Errorf("read deltas: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var d model.Delta
			var color, placedBy string
			err := rows.Scan(&d.Revision, &d.Cell.Coord.X, &d.Cell.Coord.Y, &color, &placedBy, &d.Cell.PlacedByName, &d.Cell.PlacedAt)
			if err != nil {
				return fmt.Errorf("scan delta: %w", err)
			}
			d.Cell.Color = model.Color(color)
			d.Cell.PlacedBy = model.UserID(placedBy)
			d.Cell.PlacedAt = d.Cell.PlacedAt.UTC()
			deltas = append(deltas, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	if since > current {
		return nil, model.ErrRevisionAhead
	}
	if since == current {
		return []model.Delta{}, nil
	}
	if since < 0 || len(deltas) == 0 || deltas[0].Revision != since+1 {
		return nil, model.ErrRevisionTooOld
	}
	return deltas, nil
}

// Placement operations

// CommitPlacement locks the user's row, then the revision row, then writes.
// Every commit takes the locks in that order.
func (s *Storage) CommitPlacement(ctx context.Context, commit model.PlacementCommit) (*model.PlacementOutcome, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := storage.TruncateTime(commit.Now)
	userID := commit.Identity.UserID
	cell := model.Cell{
		Coord:        commit.Coord,
		Color:        commit.Color,
		PlacedBy:     userID,
		PlacedByName: commit.Identity.DisplayName,
		PlacedAt:     now,
	}

	var outcome *model.PlacementOutcome
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO placement_states (user_id) VALUES ($1) ON CONFLICT DO NOTHING
		`, string(userID)); err != nil {
			return fmt.Errorf("ensure placement state: %w", err)
		}

		state := model.PlacementState{UserID: userID}
		if err := tx.QueryRow(ctx, `
			SELECT next_eligible_at, total_placed FROM placement_states WHERE user_id = $1 FOR UPDATE
		`, string(userID)).Scan(&state.NextEligibleAt, &state.TotalPlaced); err != nil {
			return fmt.Errorf("lock placement state: %w", err)
		}
		if state.NextEligibleAt != nil {
			t := state.NextEligibleAt.UTC()
			state.NextEligibleAt = &t
		}

		if !s.opts.Cooldown.CheckEligible(state, now) {
			return s.opts.Cooldown.Reject(state, now)
		}
		next := s.opts.Cooldown.RecordPlacement(state, now)

		var rev int64
		if err := tx.QueryRow(ctx, `
			UPDATE canvas_revision SET revision = revision + 1 RETURNING revision
		`).Scan(&rev); err != nil {
			return fmt.Errorf("bump revision: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO cells (x, y, color, placed_by, placed_by_name, placed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (x, y) DO UPDATE SET
				color = EXCLUDED.color,
				placed_by = EXCLUDED.placed_by,
				placed_by_name = EXCLUDED.placed_by_name,
				placed_at = EXCLUDED.placed_at
		`, cell.Coord.X, cell.Coord.Y, string(cell.Color), string(userID), cell.PlacedByName, now); err != nil {
			return fmt.Errorf("write cell: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO canvas_deltas (revision, x, y, color, placed_by, placed_by_name, placed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rev, cell.Coord.X, cell.Coord.Y, string(cell.Color), string(userID), cell.PlacedByName, now); err != nil {
			return fmt.Errorf("append delta: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM canvas_deltas WHERE revision <= $1
		`, rev-int64(s.opts.DeltaLogSize)); err != nil {
			return fmt.Errorf("trim delta log: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE placement_states SET next_eligible_at = $2, total_placed = $3 WHERE user_id = $1
		`, string(userID), *next.NextEligibleAt, next.TotalPlaced); err != nil {
			return fmt.Errorf("advance cooldown: %w", err)
		}

		outcome = &model.PlacementOutcome{
			Delta: model.Delta{Revision: rev, Cell: cell},
			State: next,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Storage) GetPlacementState(ctx context.Context, userID model.UserID) (*model.PlacementState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	state := &model.PlacementState{UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT next_eligible_at, total_placed FROM placement_states WHERE user_id = $1
	`, string(userID)).Scan(&state.NextEligibleAt, &state.TotalPlaced)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state, nil
		}
		return nil, fmt.Errorf("get placement state: %w", err)
	}
	if state.NextEligibleAt != nil {
		t := state.NextEligibleAt.UTC()
		state.NextEligibleAt = &t
	}
	return state, nil
}

// Palette operations

func (s *Storage) GetPalette(ctx context.Context, userID model.UserID) ([]model.Color, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw []string
	err := s.pool.QueryRow(ctx, `SELECT colors FROM palettes WHERE user_id = $1`, string(userID)).Scan(&raw)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get palette: %w", err)
	}

	colors := make([]model.Color, 0, len(raw))
	for _, c := range raw {
		colors = append(colors, model.Color(c))
	}
	return colors, nil
}

func (s *Storage) SavePalette(ctx context.Context, userID model.UserID, colors []model.Color) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw := make([]string, 0, len(colors))
	for _, c := range colors {
		raw = append(raw, string(c))
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO palettes (user_id, colors) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET colors = EXCLUDED.colors
	`, string(userID), raw)
	if err != nil {
		return fmt.Errorf("save palette: %w", err)
	}
	return nil
}

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (id, display_name, is_guest, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, is_guest = EXCLUDED.is_guest
	`, string(player.ID), player.DisplayName, player.IsGuest, player.CreatedAt)
	if err != nil {
		return fmt.Errorf("save player: %w", err)
	}
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.UserID) (*model.Player, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p := &model.Player{ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT display_name, is_guest, created_at FROM players WHERE id = $1
	`, string(id)).Scan(&p.DisplayName, &p.IsGuest, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("get player: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// Registered player operations

func (s *Storage) SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO registered_players (player_id, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (player_id) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			updated_at = EXCLUDED.updated_at
	`, string(rp.PlayerID), rp.Username, rp.PasswordHash, rp.CreatedAt, rp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save registered player: %w", err)
	}
	return nil
}

func (s *Storage) GetRegisteredPlayer(ctx context.Context, playerID model.UserID) (*model.RegisteredPlayer, error) {
	return s.getRegisteredPlayer(ctx, `WHERE player_id = $1`, string(playerID))
}

func (s *Storage) GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error) {
	return s.getRegisteredPlayer(ctx, `WHERE username = $1`, username)
}

func (s *Storage) getRegisteredPlayer(ctx context.Context, where string, arg string) (*model.RegisteredPlayer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rp model.RegisteredPlayer
	var playerID string
	err := s.pool.QueryRow(ctx, `
		SELECT player_id, username, password_hash, created_at, updated_at
		FROM registered_players `+where, arg,
	).Scan(&playerID, &rp.Username, &rp.PasswordHash, &rp.CreatedAt, &rp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("get registered player: %w", err)
	}
	rp.PlayerID = model.UserID(playerID)
	rp.CreatedAt = rp.CreatedAt.UTC()
	rp.UpdatedAt = rp.UpdatedAt.UTC()
	return &rp, nil
}
