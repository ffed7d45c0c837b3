package memory

import (
	"context"
	"sync"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	opts storage.Options

	mu sync.RWMutex

	cells    map[model.Coord]model.Cell
	revision int64
	log      *deltaLog
	states   map[model.UserID]model.PlacementState
	palettes map[model.UserID][]model.Color

	players           map[model.UserID]*model.Player
	registeredPlayers map[model.UserID]*model.RegisteredPlayer
	usernameIndex     map[string]model.UserID
}

// New creates a new in-memory storage instance
func New(opts storage.Options) *Storage {
	return &Storage{
		opts:              opts,
		cells:             make(map[model.Coord]model.Cell),
		log:               newDeltaLog(opts.DeltaLogSize),
		states:            make(map[model.UserID]model.PlacementState),
		palettes:          make(map[model.UserID][]model.Color),
		players:           make(map[model.UserID]*model.Player),
		registeredPlayers: make(map[model.UserID]*model.RegisteredPlayer),
		usernameIndex:     make(map[string]model.UserID),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Canvas operations

func (s *Storage) GetCell(ctx context.Context, coord model.Coord) (*model.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell, ok := s.cells[coord]
	if !ok {
		return nil, model.ErrCellNotFound
	}
	return &cell, nil
}

func (s *Storage) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := model.NewSnapshot(s.opts.Dimensions, s.revision)
	for coord, cell := range s.cells {
		snap.Cells[coord] = cell
	}
	return snap, nil
}

func (s *Storage) CurrentRevision(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision, nil
}

func (s *Storage) DeltasSince(ctx context.Context, since int64) ([]model.Delta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if since > s.revision {
		return nil, model.ErrRevisionAhead
	}
	if since == s.revision {
		return []model.Delta{}, nil
	}
	return s.log.since(since)
}

// Placement operations

func (s *Storage) CommitPlacement(ctx context.Context, commit model.PlacementCommit) (*model.PlacementOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := storage.TruncateTime(commit.Now)
	userID := commit.Identity.UserID

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		state = model.PlacementState{UserID: userID}
	}
	if !s.opts.Cooldown.CheckEligible(state, now) {
		return nil, s.opts.Cooldown.Reject(state, now)
	}

	cell := model.Cell{
		Coord:        commit.Coord,
		Color:        commit.Color,
		PlacedBy:     userID,
		PlacedByName: commit.Identity.DisplayName,
		PlacedAt:     now,
	}
	next := s.opts.Cooldown.RecordPlacement(state, now)

	s.revision++
	delta := model.Delta{Revision: s.revision, Cell: cell}
	s.cells[cell.Coord] = cell
	s.states[userID] = next
	s.log.append(delta)

	return &model.PlacementOutcome{Delta: delta, State: copyState(next)}, nil
}

func (s *Storage) GetPlacementState(ctx context.Context, userID model.UserID) (*model.PlacementState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[userID]
	if !ok {
		return &model.PlacementState{UserID: userID}, nil
	}
	st := copyState(state)
	return &st, nil
}

// Palette operations

func (s *Storage) GetPalette(ctx context.Context, userID model.UserID) ([]model.Color, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Color{}, s.palettes[userID]...), nil
}

func (s *Storage) SavePalette(ctx context.Context, userID model.UserID, colors []model.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.palettes[userID] = append([]model.Color(nil), colors...)
	return nil
}

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *player
	s.players[player.ID] = &p
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.UserID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	p := *player
	return &p, nil
}

// Registered player operations

func (s *Storage) SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rp
	s.registeredPlayers[rp.PlayerID] = &r
	s.usernameIndex[rp.Username] = rp.PlayerID
	return nil
}

func (s *Storage) GetRegisteredPlayer(ctx context.Context, playerID model.UserID) (*model.RegisteredPlayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rp, ok := s.registeredPlayers[playerID]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	r := *rp
	return &r, nil
}

func (s *Storage) GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	playerID, ok := s.usernameIndex[username]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	rp, ok := s.registeredPlayers[playerID]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	r := *rp
	return &r, nil
}

func copyState(st model.PlacementState) model.PlacementState {
	if st.NextEligibleAt != nil {
		t := *st.NextEligibleAt
		st.NextEligibleAt = &t
	}
	return st
}
