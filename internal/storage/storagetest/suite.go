// Package storagetest holds the behaviour every canvas store must share.
// Backends run it from their own tests with a constructor for a fresh store.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/services/cooldown"
	"github.com/mcoot/pxcanvas/internal/storage"
)

// Factory builds an empty store and a notifier bound to it
type Factory func(s *StorageSuite, opts storage.Options) (storage.Storage, storage.Notifier)

// StorageSuite runs the shared store behaviour against one backend
type StorageSuite struct {
	suite.Suite
	New Factory

	Store    storage.Storage
	Notifier storage.Notifier
	Ctx      context.Context
	Now      time.Time
}

// Options used for every test: a small grid, the default cooldown and a
// short delta log so trimming is easy to reach.
func Options() storage.Options {
	return storage.Options{
		Dimensions:   model.Dimensions{Width: 10, Height: 10},
		Cooldown:     cooldown.New(20 * time.Second),
		DeltaLogSize: 5,
	}
}

func (s *StorageSuite) SetupTest() {
	s.Ctx = context.Background()
	s.Now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Store, s.Notifier = s.New(s, Options())
}

func (s *StorageSuite) commit(user string, x, y int, color string, at time.Time) (*model.PlacementOutcome, error) {
	return s.Store.CommitPlacement(s.Ctx, model.PlacementCommit{
		Identity: model.Identity{UserID: model.UserID(user), DisplayName: "name-" + user},
		Coord:    model.Coord{X: x, Y: y},
		Color:    model.Color(color),
		Now:      at,
	})
}

// Canvas tests

func (s *StorageSuite) TestEmptyCanvas() {
	rev, err := s.Store.CurrentRevision(s.Ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), rev)

	snap, err := s.Store.Snapshot(s.Ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), snap.Revision)
	s.Empty(snap.Cells)
	s.Equal(10, snap.Dimensions.Width)

	_, err = s.Store.GetCell(s.Ctx, model.Coord{X: 1, Y: 1})
	s.ErrorIs(err, model.ErrCellNotFound)

	deltas, err := s.Store.DeltasSince(s.Ctx, 0)
	s.Require().NoError(err)
	s.Empty(deltas)
}

func (s *StorageSuite) TestAbsentUserIsInitialState() {
	state, err := s.Store.GetPlacementState(s.Ctx, "nobody")
	s.Require().NoError(err)
	s.Equal(model.UserID("nobody"), state.UserID)
	s.Nil(state.NextEligibleAt)
	s.Equal(int64(0), state.TotalPlaced)
}

// Placement tests

func (s *StorageSuite) TestCommitPlacement() {
	out, err := s.commit("u1", 5, 2, "#FF0000", s.Now)
	s.Require().NoError(err)

	s.Equal(int64(1), out.Delta.Revision)
	s.Equal(model.Color("#FF0000"), out.Delta.Cell.Color)
	s.Equal(model.UserID("u1"), out.Delta.Cell.PlacedBy)
	s.Equal("name-u1", out.Delta.Cell.PlacedByName)
	s.True(out.Delta.Cell.PlacedAt.Equal(s.Now))
	s.Equal(int64(1), out.State.TotalPlaced)
	s.Require().NotNil(out.State.NextEligibleAt)
	s.True(out.State.NextEligibleAt.Equal(s.Now.Add(20 * time.Second)))

	cell, err := s.Store.GetCell(s.Ctx, model.Coord{X: 5, Y: 2})
	s.Require().NoError(err)
	s.Equal(model.Color("#FF0000"), cell.Color)
	s.Equal("name-u1", cell.PlacedByName)
	s.True(cell.PlacedAt.Equal(s.Now))

	state, err := s.Store.GetPlacementState(s.Ctx, "u1")
	s.Require().NoError(err)
	s.Equal(int64(1), state.TotalPlaced)
	s.Require().NotNil(state.NextEligibleAt)
	s.True(state.NextEligibleAt.Equal(s.Now.Add(20 * time.Second)))

	snap, err := s.Store.Snapshot(s.Ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), snap.Revision)
	s.Len(snap.Cells, 1)
	s.Equal(model.Color("#FF0000"), snap.Cells[model.Coord{X: 5, Y: 2}].Color)
}

func (s *StorageSuite) TestCooldownRejectsWithoutWriting() {
	_, err := s.commit("u1", 5, 2, "#FF0000", s.Now)
	s.Require().NoError(err)

	_, err = s.commit("u1", 6, 2, "#00FF00", s.Now.Add(5*time.Second))
	s.Require().ErrorIs(err, model.ErrOnCooldown)

	var cdErr *model.OnCooldownError
	s.Require().True(errors.As(err, &cdErr))
	s.Equal(15*time.Second, cdErr.RetryAfter)
	s.Equal(15, cdErr.RetryAfterSeconds())
	s.Equal(int64(1), cdErr.TotalPlaced)

	_, err = s.Store.GetCell(s.Ctx, model.Coord{X: 6, Y: 2})
	s.ErrorIs(err, model.ErrCellNotFound)

	rev, err := s.Store.CurrentRevision(s.Ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), rev)

	state, err := s.Store.GetPlacementState(s.Ctx, "u1")
	s.Require().NoError(err)
	s.Equal(int64(1), state.TotalPlaced)
	s.True(state.NextEligibleAt.Equal(s.Now.Add(20 * time.Second)))
}

func (s *StorageSuite) TestCooldownExpires() {
	_, err := s.commit("u1", 5, 2, "#FF0000", s.Now)
	s.Require().NoError(err)

	out, err := s.commit("u1", 5, 2, "#0000FF", s.Now.Add(20*time.Second))
	s.Require().NoError(err)
	s.Equal(int64(2), out.Delta.Revision)
	s.Equal(int64(2), out.State.TotalPlaced)
}

func (s *StorageSuite) TestLastWriterWins() {
	_, err := s.commit("u1", 3, 3, "#111111", s.Now)
	s.Require().NoError(err)
	_, err = s.commit("u2", 3, 3, "#222222", s.Now.Add(time.Millisecond))
	s.Require().NoError(err)

	cell, err := s.Store.GetCell(s.Ctx, model.Coord{X: 3, Y: 3})
	s.Require().NoError(err)
	s.Equal(model.Color("#222222"), cell.Color)
	s.Equal(model.UserID("u2"), cell.PlacedBy)

	snap, err := s.Store.Snapshot(s.Ctx)
	s.Require().NoError(err)
	s.Len(snap.Cells, 1)
	s.Equal(int64(2), snap.Revision)
}

// Delta log tests

func (s *StorageSuite) TestDeltasSince() {
	for i := 0; i < 3; i++ {
		_, err := s.commit(fmt.Sprintf("u%d", i), i, 0, "#00FF00", s.Now)
		s.Require().NoError(err)
	}

	deltas, err := s.Store.DeltasSince(s.Ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(deltas, 3)
	for i, d := range deltas {
		s.Equal(int64(i+1), d.Revision)
		s.Equal(model.Coord{X: i, Y: 0}, d.Cell.Coord)
		s.Equal(model.UserID(fmt.Sprintf("u%d", i)), d.Cell.PlacedBy)
	}

	deltas, err = s.Store.DeltasSince(s.Ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(deltas, 1)
	s.Equal(int64(3), deltas[0].Revision)

	deltas, err = s.Store.DeltasSince(s.Ctx, 3)
	s.Require().NoError(err)
	s.Empty(deltas)

	_, err = s.Store.DeltasSince(s.Ctx, 4)
	s.ErrorIs(err, model.ErrRevisionAhead)
}

func (s *StorageSuite) TestDeltaLogIsBounded() {
	for i := 0; i < 7; i++ {
		_, err := s.commit(fmt.Sprintf("u%d", i), i, 1, "#0000FF", s.Now)
		s.Require().NoError(err)
	}

	_, err := s.Store.DeltasSince(s.Ctx, 1)
	s.ErrorIs(err, model.ErrRevisionTooOld)

	deltas, err := s.Store.DeltasSince(s.Ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(deltas, 5)
	s.Equal(int64(3), deltas[0].Revision)
	s.Equal(int64(7), deltas[4].Revision)
}

// Concurrency tests

func (s *StorageSuite) TestConcurrentSameUserAtMostOne() {
	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.commit("u1", i%10, i/10, "#ABCDEF", s.Now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrOnCooldown):
				rejected++
			}
		}(i)
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(attempts-1, rejected)

	rev, err := s.Store.CurrentRevision(s.Ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), rev)

	state, err := s.Store.GetPlacementState(s.Ctx, "u1")
	s.Require().NoError(err)
	s.Equal(int64(1), state.TotalPlaced)
}

func (s *StorageSuite) TestConcurrentDifferentUsers() {
	const users = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		revs = make(map[int64]bool)
		errs []error
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.commit(fmt.Sprintf("user-%d", i), i%10, i/10, "#123456", s.Now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			revs[out.Delta.Revision] = true
		}(i)
	}
	wg.Wait()

	s.Empty(errs)
	s.Len(revs, users)
	for r := int64(1); r <= users; r++ {
		s.True(revs[r], "revision %d missing", r)
	}

	snap, err := s.Store.Snapshot(s.Ctx)
	s.Require().NoError(err)
	s.Equal(int64(users), snap.Revision)
	s.Len(snap.Cells, users)
}

// Palette tests

func (s *StorageSuite) TestPalette() {
	palette, err := s.Store.GetPalette(s.Ctx, "u1")
	s.Require().NoError(err)
	s.Empty(palette)

	want := []model.Color{"#FFFFFF", "#000000", "#FF4500"}
	s.Require().NoError(s.Store.SavePalette(s.Ctx, "u1", want))

	palette, err = s.Store.GetPalette(s.Ctx, "u1")
	s.Require().NoError(err)
	s.Equal(want, palette)

	s.Require().NoError(s.Store.SavePalette(s.Ctx, "u1", []model.Color{"#00FF00"}))
	palette, err = s.Store.GetPalette(s.Ctx, "u1")
	s.Require().NoError(err)
	s.Equal([]model.Color{"#00FF00"}, palette)

	s.Require().NoError(s.Store.SavePalette(s.Ctx, "u1", nil))
	palette, err = s.Store.GetPalette(s.Ctx, "u1")
	s.Require().NoError(err)
	s.Empty(palette)
}

// Player tests

func (s *StorageSuite) TestSaveAndGetPlayer() {
	player := &model.Player{
		ID:          "player-1",
		DisplayName: "Alice",
		IsGuest:     true,
		CreatedAt:   s.Now,
	}
	s.Require().NoError(s.Store.SavePlayer(s.Ctx, player))

	got, err := s.Store.GetPlayer(s.Ctx, "player-1")
	s.Require().NoError(err)
	s.Equal("Alice", got.DisplayName)
	s.True(got.IsGuest)
	s.True(got.CreatedAt.Equal(s.Now))

	_, err = s.Store.GetPlayer(s.Ctx, "missing")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *StorageSuite) TestRegisteredPlayers() {
	s.Require().NoError(s.Store.SavePlayer(s.Ctx, &model.Player{ID: "player-1", DisplayName: "Alice", CreatedAt: s.Now}))
	rp := &model.RegisteredPlayer{
		PlayerID:     "player-1",
		Username:     "alice",
		PasswordHash: "hash",
		CreatedAt:    s.Now,
		UpdatedAt:    s.Now,
	}
	s.Require().NoError(s.Store.SaveRegisteredPlayer(s.Ctx, rp))

	got, err := s.Store.GetRegisteredPlayer(s.Ctx, "player-1")
	s.Require().NoError(err)
	s.Equal("alice", got.Username)

	got, err = s.Store.GetRegisteredPlayerByUsername(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(model.UserID("player-1"), got.PlayerID)
	s.Equal("hash", got.PasswordHash)

	_, err = s.Store.GetRegisteredPlayerByUsername(s.Ctx, "bob")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// Notifier tests

func (s *StorageSuite) TestNotifierDeliversPublishedDeltas() {
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()

	ch, err := s.Notifier.Subscribe(ctx)
	s.Require().NoError(err)

	out, err := s.commit("u1", 1, 1, "#FF0000", s.Now)
	s.Require().NoError(err)
	s.Require().NoError(s.Notifier.Publish(s.Ctx, out.Delta))

	select {
	case got := <-ch:
		s.Equal(out.Delta.Revision, got.Revision)
		s.Equal(out.Delta.Cell.Coord, got.Cell.Coord)
		s.Equal(out.Delta.Cell.Color, got.Cell.Color)
		s.Equal(out.Delta.Cell.PlacedBy, got.Cell.PlacedBy)
		s.True(out.Delta.Cell.PlacedAt.Equal(got.Cell.PlacedAt))
	case <-time.After(5 * time.Second):
		s.Fail("timed out waiting for delta")
	}

	cancel()
	s.Eventually(func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
