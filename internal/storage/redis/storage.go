package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
	opts   storage.Options
}

// New creates a new Redis storage instance
func New(cfg Config, opts storage.Options) (*Storage, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	redisOpts.PoolSize = cfg.PoolSize
	redisOpts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(redisOpts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewWithClient(client, cfg, opts), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config, opts storage.Options) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
		opts:   opts,
	}
}

// Client exposes the underlying connection so a Notifier can share it
func (s *Storage) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// cellRecord is the stored form of a cell
type cellRecord struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Color    string `json:"color"`
	UserID   string `json:"uid"`
	Username string `json:"name"`
	PlacedAt int64  `json:"at"`
}

func encodeCell(c model.Cell) (string, error) {
	data, err := json.Marshal(cellRecord{
		X:        c.Coord.X,
		Y:        c.Coord.Y,
		Color:    string(c.Color),
		UserID:   string(c.PlacedBy),
		Username: c.PlacedByName,
		PlacedAt: c.PlacedAt.UnixMilli(),
	})
	return string(data), err
}

func decodeCell(data string) (model.Cell, error) {
	var r cellRecord
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return model.Cell{}, fmt.Errorf("failed to decode cell: %w", err)
	}
	return model.Cell{
		Coord:        model.Coord{X: r.X, Y: r.Y},
		Color:        model.Color(r.Color),
		PlacedBy:     model.UserID(r.UserID),
		PlacedByName: r.Username,
		PlacedAt:     time.UnixMilli(r.PlacedAt).UTC(),
	}, nil
}

// decodeLogEntry parses a delta log member ("rev|cell")
func decodeLogEntry(member string) (model.Delta, error) {
	revStr, cellStr, ok := strings.Cut(member, "|")
	if !ok {
		return model.Delta{}, fmt.Errorf("malformed delta log entry %q", member)
	}
	rev, err := strconv.ParseInt(revStr, 10, 64)
	if err != nil {
		return model.Delta{}, fmt.Errorf("malformed delta revision %q: %w", revStr, err)
	}
	cell, err := decodeCell(cellStr)
	if err != nil {
		return model.Delta{}, err
	}
	return model.Delta{Revision: rev, Cell: cell}, nil
}

// Canvas operations

func (s *Storage) GetCell(ctx context.Context, coord model.Coord) (*model.Cell, error) {
	data, err := s.client.HGet(ctx, cellsKey(), coord.Key()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrCellNotFound
		}
		return nil, err
	}
	cell, err := decodeCell(data)
	if err != nil {
		return nil, err
	}
	return &cell, nil
}

func (s *Storage) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	var (
		cellsCmd *redis.MapStringStringCmd
		revCmd   *redis.StringCmd
	)
	// MULTI/EXEC so the cells and the revision come from the same point in
	// the commit order
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		cellsCmd = pipe.HGetAll(ctx, cellsKey())
		revCmd = pipe.Get(ctx, revisionKey())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	rev, err := parseRevision(revCmd)
	if err != nil {
		return nil, err
	}

	snap := model.NewSnapshot(s.opts.Dimensions, rev)
	for _, data := range cellsCmd.Val() {
		cell, err := decodeCell(data)
		if err != nil {
			return nil, err
		}
		snap.Cells[cell.Coord] = cell
	}
	return snap, nil
}

func (s *Storage) CurrentRevision(ctx context.Context) (int64, error) {
	return parseRevision(s.client.Get(ctx, revisionKey()))
}

func parseRevision(cmd *redis.StringCmd) (int64, error) {
	rev, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return rev, err
}

func (s *Storage) DeltasSince(ctx context.Context, since int64) ([]model.Delta, error) {
	var (
		revCmd   *redis.StringCmd
		rangeCmd *redis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		revCmd = pipe.Get(ctx, revisionKey())
		rangeCmd = pipe.ZRangeByScore(ctx, deltasKey(), &redis.ZRangeBy{
			Min: strconv.FormatInt(since+1, 10),
			Max: "+inf",
		})
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	current, err := parseRevision(revCmd)
	if err != nil {
		return nil, err
	}
	if since > current {
		return nil, model.ErrRevisionAhead
	}
	if since == current {
		return []model.Delta{}, nil
	}

	members := rangeCmd.Val()
	deltas := make([]model.Delta, 0, len(members))
	for _, m := range members {
		d, err := decodeLogEntry(m)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, d)
	}
	if since < 0 || len(deltas) == 0 || deltas[0].Revision != since+1 {
		return nil, model.ErrRevisionTooOld
	}
	return deltas, nil
}

// Placement operations

func (s *Storage) CommitPlacement(ctx context.Context, commit model.PlacementCommit) (*model.PlacementOutcome, error) {
	now := storage.TruncateTime(commit.Now)
	userID := commit.Identity.UserID

	cell := model.Cell{
		Coord:        commit.Coord,
		Color:        commit.Color,
		PlacedBy:     userID,
		PlacedByName: commit.Identity.DisplayName,
		PlacedAt:     now,
	}
	encoded, err := encodeCell(cell)
	if err != nil {
		return nil, err
	}

	nowMs := now.UnixMilli()
	nextMs := nowMs + s.opts.Cooldown.DurationMillis()

	res, err := commitScript.Run(ctx, s.client,
		[]string{userStateKey(userID), cellsKey(), revisionKey(), deltasKey()},
		nowMs, strconv.FormatInt(nextMs, 10), cell.Coord.Key(), encoded, s.opts.DeltaLogSize,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("commit script failed: %w", err)
	}
	if len(res) < 3 {
		return nil, fmt.Errorf("unexpected commit script result %v", res)
	}

	accepted, _ := res[0].(int64)
	next, err := toInt64(res[1])
	if err != nil {
		return nil, err
	}
	total, err := toInt64(res[2])
	if err != nil {
		return nil, err
	}
	nextAt := time.UnixMilli(next).UTC()
	state := model.PlacementState{UserID: userID, NextEligibleAt: &nextAt, TotalPlaced: total}

	if accepted != 1 {
		return nil, s.opts.Cooldown.Reject(state, now)
	}
	if len(res) < 4 {
		return nil, fmt.Errorf("unexpected commit script result %v", res)
	}
	rev, err := toInt64(res[3])
	if err != nil {
		return nil, err
	}

	return &model.PlacementOutcome{
		Delta: model.Delta{Revision: rev, Cell: cell},
		State: state,
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value %v (%T) in script result", v, v)
	}
}

func (s *Storage) GetPlacementState(ctx context.Context, userID model.UserID) (*model.PlacementState, error) {
	vals, err := s.client.HMGet(ctx, userStateKey(userID), "next_ms", "total").Result()
	if err != nil {
		return nil, err
	}

	state := &model.PlacementState{UserID: userID}
	if v, ok := vals[0].(string); ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed next_ms for %s: %w", userID, err)
		}
		next := time.UnixMilli(ms).UTC()
		state.NextEligibleAt = &next
	}
	if v, ok := vals[1].(string); ok {
		total, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed total for %s: %w", userID, err)
		}
		state.TotalPlaced = total
	}
	return state, nil
}

// Palette operations

func (s *Storage) GetPalette(ctx context.Context, userID model.UserID) ([]model.Color, error) {
	data, err := s.client.Get(ctx, paletteKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.Color{}, nil
		}
		return nil, err
	}

	var colors []model.Color
	if err := json.Unmarshal(data, &colors); err != nil {
		return nil, err
	}
	return colors, nil
}

func (s *Storage) SavePalette(ctx context.Context, userID model.UserID, colors []model.Color) error {
	if colors == nil {
		colors = []model.Color{}
	}
	data, err := json.Marshal(colors)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, paletteKey(userID), data, 0).Err()
}

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return err
	}

	// Apply TTL only for guest players
	var ttl time.Duration
	if player.IsGuest {
		ttl = s.cfg.GuestPlayerTTL
	}
	return s.client.Set(ctx, playerKey(player.ID), data, ttl).Err()
}

func (s *Storage) GetPlayer(ctx context.Context, id model.UserID) (*model.Player, error) {
	data, err := s.client.Get(ctx, playerKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	var player model.Player
	if err := json.Unmarshal(data, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

// Registered player operations

func (s *Storage) SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error {
	data, err := json.Marshal(rp)
	if err != nil {
		return err
	}

	// Use pipeline for atomic save + index update
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, registeredPlayerKey(rp.PlayerID), data, 0)
	pipe.Set(ctx, usernameIndexKey(rp.Username), string(rp.PlayerID), 0)
	// Registered accounts outlive the guest TTL
	pipe.Persist(ctx, playerKey(rp.PlayerID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetRegisteredPlayer(ctx context.Context, playerID model.UserID) (*model.RegisteredPlayer, error) {
	data, err := s.client.Get(ctx, registeredPlayerKey(playerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	var rp model.RegisteredPlayer
	if err := json.Unmarshal(data, &rp); err != nil {
		return nil, err
	}
	return &rp, nil
}

func (s *Storage) GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error) {
	playerID, err := s.client.Get(ctx, usernameIndexKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	return s.GetRegisteredPlayer(ctx, model.UserID(playerID))
}
