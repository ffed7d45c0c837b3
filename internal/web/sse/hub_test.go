package sse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/pxcanvas/internal/dependencies/mocks"
	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/services/cooldown"
	"github.com/mcoot/pxcanvas/internal/storage"
	"github.com/mcoot/pxcanvas/internal/storage/memory"
	"github.com/mcoot/pxcanvas/internal/testutil"
)

const receiveTimeout = 2 * time.Second

type HubSuite struct {
	suite.Suite
	store    *memory.Storage
	notifier *memory.Notifier
	clock    *mocks.MockClock
	hub      *Hub
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	placed   int
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) SetupTest() {
	s.store = memory.New(storage.Options{
		Dimensions:   model.Dimensions{Width: 10, Height: 10},
		Cooldown:     cooldown.New(0),
		DeltaLogSize: 5,
	})
	s.notifier = memory.NewNotifier()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.placed = 0
	s.startHub(Config{})
}

func (s *HubSuite) TearDownTest() {
	s.stopHub()
}

func (s *HubSuite) startHub(cfg Config) {
	s.hub = NewHub(s.store, s.notifier, s.clock, testutil.NopLogger(), cfg)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		_ = s.hub.Run(s.ctx)
	}()
	select {
	case <-s.hub.ready:
	case <-time.After(receiveTimeout):
		s.FailNow("hub did not become ready")
	}
}

func (s *HubSuite) stopHub() {
	s.cancel()
	<-s.done
}

// commit places a cell without publishing it
func (s *HubSuite) commit() model.Delta {
	n := s.placed
	s.placed++
	outcome, err := s.store.CommitPlacement(context.Background(), model.PlacementCommit{
		Identity: model.Identity{UserID: model.UserID(fmt.Sprintf("user-%d", n)), DisplayName: "User"},
		Coord:    model.Coord{X: n % 10, Y: (n / 10) % 10},
		Color:    "#FF0000",
		Now:      s.clock.Now(),
	})
	s.Require().NoError(err)
	return outcome.Delta
}

func (s *HubSuite) commitAndPublish() model.Delta {
	d := s.commit()
	s.Require().NoError(s.notifier.Publish(context.Background(), d))
	return d
}

func (s *HubSuite) receive(sub *Subscription) model.Delta {
	select {
	case d, ok := <-sub.Deltas():
		s.Require().True(ok, "subscription closed: %v", sub.Err())
		return d
	case <-time.After(receiveTimeout):
		s.FailNow("no delta received")
	}
	return model.Delta{}
}

func (s *HubSuite) waitClosed(sub *Subscription) {
	deadline := time.After(receiveTimeout)
	for {
		select {
		case _, ok := <-sub.Deltas():
			if !ok {
				return
			}
		case <-deadline:
			s.FailNow("subscription was not closed")
		}
	}
}

func (s *HubSuite) revisions(deltas []model.Delta) []int64 {
	revs := make([]int64, len(deltas))
	for i, d := range deltas {
		revs[i] = d.Revision
	}
	return revs
}

func (s *HubSuite) TestSubscribeWithoutSinceGetsSnapshot() {
	s.commitAndPublish()
	s.commitAndPublish()

	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().NotNil(sub.Snapshot)
	s.Nil(sub.Replay)
	s.Equal(int64(2), sub.Revision)
	s.Len(sub.Snapshot.Cells, 2)
}

func (s *HubSuite) TestLiveDeltasArriveInOrder() {
	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		s.commitAndPublish()
	}

	s.Equal([]int64{1, 2, 3}, s.revisions([]model.Delta{s.receive(sub), s.receive(sub), s.receive(sub)}))
	s.Equal(int64(3), s.hub.LastRevision())
}

func (s *HubSuite) TestDuplicateDeltasAreDropped() {
	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	defer sub.Close()

	d1 := s.commitAndPublish()
	s.Require().NoError(s.notifier.Publish(s.ctx, d1))
	s.commitAndPublish()

	s.Equal(int64(1), s.receive(sub).Revision)
	s.Equal(int64(2), s.receive(sub).Revision)
}

func (s *HubSuite) TestGapIsFilledFromDeltaLog() {
	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	defer sub.Close()

	s.commit()
	s.commit()
	s.commitAndPublish()

	s.Equal([]int64{1, 2, 3}, s.revisions([]model.Delta{s.receive(sub), s.receive(sub), s.receive(sub)}))
}

func (s *HubSuite) TestGapBeyondDeltaLogTellsSubscribersToResync() {
	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)

	for i := 0; i < 6; i++ {
		s.commit()
	}
	s.commitAndPublish()

	s.waitClosed(sub)
	s.ErrorIs(sub.Err(), ErrGap)
	s.ErrorIs(sub.Err(), model.ErrSubscriptionLost)
	s.Equal(int64(7), s.hub.LastRevision())
	s.Equal(0, s.hub.SubscriberCount())
}

func (s *HubSuite) TestSubscribeWithSinceReplaysDeltaLog() {
	s.commitAndPublish()
	s.commitAndPublish()
	s.commitAndPublish()

	since := int64(1)
	sub, err := s.hub.Subscribe(s.ctx, &since)
	s.Require().NoError(err)
	defer sub.Close()

	s.Nil(sub.Snapshot)
	s.Equal([]int64{2, 3}, s.revisions(sub.Replay))
	s.Equal(int64(3), sub.Revision)
}

func (s *HubSuite) TestSubscribeAtCurrentRevisionReplaysNothing() {
	s.commitAndPublish()

	since := int64(1)
	sub, err := s.hub.Subscribe(s.ctx, &since)
	s.Require().NoError(err)
	defer sub.Close()

	s.Nil(sub.Snapshot)
	s.Empty(sub.Replay)
	s.Equal(int64(1), sub.Revision)
}

func (s *HubSuite) TestSinceOutsideDeltaLogFallsBackToSnapshot() {
	for i := 0; i < 7; i++ {
		s.commitAndPublish()
	}

	for _, since := range []int64{0, 99} {
		sub, err := s.hub.Subscribe(s.ctx, &since)
		s.Require().NoError(err)

		s.Require().NotNil(sub.Snapshot, "since=%d", since)
		s.Equal(int64(7), sub.Revision)
		sub.Close()
	}
}

func (s *HubSuite) TestLaggingSubscriberIsDroppedAlone() {
	s.stopHub()
	s.startHub(Config{BufferSize: 2})

	slow, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	fast, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	defer fast.Close()

	for i := 0; i < 3; i++ {
		d := s.commitAndPublish()
		s.Equal(d.Revision, s.receive(fast).Revision)
	}

	s.Eventually(func() bool { return s.hub.SubscriberCount() == 1 }, receiveTimeout, 5*time.Millisecond)
	s.waitClosed(slow)
	s.ErrorIs(slow.Err(), ErrLagging)

	d := s.commitAndPublish()
	s.Equal(d.Revision, s.receive(fast).Revision)
}

func (s *HubSuite) TestSnapshotThenStreamIsComplete() {
	const total = 40

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			s.commitAndPublish()
		}
	}()

	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	defer sub.Close()

	cells := make(map[model.Coord]model.Cell, len(sub.Snapshot.Cells))
	for k, v := range sub.Snapshot.Cells {
		cells[k] = v
	}
	last := sub.Revision
	for last < total {
		d := s.receive(sub)
		s.Require().Equal(last+1, d.Revision, "deltas must continue the snapshot without gaps or repeats")
		cells[d.Cell.Coord] = d.Cell
		last = d.Revision
	}
	wg.Wait()

	snap, err := s.store.Snapshot(context.Background())
	s.Require().NoError(err)
	s.Equal(snap.Cells, cells)
}

func (s *HubSuite) TestSubscribeClosesCleanly() {
	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(1, s.hub.SubscriberCount())

	sub.Close()
	sub.Close()

	s.Equal(0, s.hub.SubscriberCount())
	s.NoError(sub.Err())
}

func (s *HubSuite) TestStoppingHubClosesSubscriptions() {
	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)

	s.cancel()
	s.waitClosed(sub)
	s.ErrorIs(sub.Err(), ErrHubClosed)
}

func (s *HubSuite) TestSubscribeAfterStopIsRejected() {
	s.stopHub()

	sub, err := s.hub.Subscribe(context.Background(), nil)
	s.Nil(sub)
	s.ErrorIs(err, ErrHubClosed)
	s.Equal(0, s.hub.SubscriberCount())
}

func (s *HubSuite) TestPollDeliversCommitWhosePublishWasLost() {
	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	defer sub.Close()
	s.Require().Equal(1, s.clock.Tickers(DefaultPollInterval))

	d := s.commit()
	s.clock.Tick()

	s.Equal(d, s.receive(sub))
	s.Equal(int64(1), s.hub.LastRevision())
}

func (s *HubSuite) TestPollAdvancesWithoutSubscribers() {
	s.commit()
	s.commit()
	s.clock.Tick()

	s.Eventually(func() bool { return s.hub.LastRevision() == 2 }, receiveTimeout, 5*time.Millisecond)

	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)
	defer sub.Close()
	s.Equal(int64(2), sub.Revision)

	d := s.commitAndPublish()
	s.Equal(d, s.receive(sub))
}

func (s *HubSuite) TestPollOnLongQuietGapTellsSubscribersToResync() {
	sub, err := s.hub.Subscribe(s.ctx, nil)
	s.Require().NoError(err)

	for i := 0; i < 7; i++ {
		s.commit()
	}
	s.clock.Tick()

	s.waitClosed(sub)
	s.ErrorIs(sub.Err(), ErrGap)
	s.Equal(int64(7), s.hub.LastRevision())
}

// lossyNotifier hands out channels the test can close to simulate a lost
// connection. With a gate set, every Subscribe after the first waits for the
// gate to close.
type lossyNotifier struct {
	mu    sync.Mutex
	chans []chan model.Delta
	gate  chan struct{}
}

func (n *lossyNotifier) Publish(context.Context, model.Delta) error { return nil }

func (n *lossyNotifier) Subscribe(ctx context.Context) (<-chan model.Delta, error) {
	n.mu.Lock()
	gate := n.gate
	first := len(n.chans) == 0
	n.mu.Unlock()

	if gate != nil && !first {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan model.Delta)
	n.chans = append(n.chans, ch)
	return ch, nil
}

// send hands d to the latest subscriber, blocking until the hub reads it
func (n *lossyNotifier) send(d model.Delta) {
	n.mu.Lock()
	ch := n.chans[len(n.chans)-1]
	n.mu.Unlock()
	ch <- d
}

func (n *lossyNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.chans)
}

func (n *lossyNotifier) dropLatest() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.chans[len(n.chans)-1])
}

func TestHubResubscribesAfterNotifierLoss(t *testing.T) {
	store := memory.New(storage.DefaultOptions())
	notifier := &lossyNotifier{}
	clock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	hub := NewHub(store, notifier, clock, testutil.NopLogger(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	sub, err := hub.Subscribe(ctx, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	notifier.dropLatest()

	select {
	case _, ok := <-sub.Deltas():
		if ok {
			t.Fatal("expected subscription to close")
		}
	case <-time.After(receiveTimeout):
		t.Fatal("subscription was not closed after notifier loss")
	}
	if err := sub.Err(); err == nil || !errors.Is(err, ErrGap) {
		t.Errorf("Err() = %v, want ErrGap", err)
	}

	deadline := time.Now().Add(receiveTimeout)
	for notifier.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("hub did not resubscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if waits := clock.Waits(); len(waits) == 0 || waits[0] != resubscribeBackoff {
		t.Errorf("Waits() = %v, want backoff of %v", waits, resubscribeBackoff)
	}
}

func TestSubscribeWaitsForRun(t *testing.T) {
	store := memory.New(storage.DefaultOptions())
	hub := NewHub(store, memory.NewNotifier(), mocks.NewMockClock(time.Now()), testutil.NopLogger(), Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := hub.Subscribe(ctx, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Subscribe() error = %v, want deadline exceeded", err)
	}
}

func TestHubCatchesUpSubscribersAfterNotifierOutage(t *testing.T) {
	store := memory.New(storage.Options{
		Dimensions:   model.Dimensions{Width: 10, Height: 10},
		Cooldown:     cooldown.New(0),
		DeltaLogSize: 5,
	})
	notifier := &lossyNotifier{gate: make(chan struct{})}
	clock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	hub := NewHub(store, notifier, clock, testutil.NopLogger(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	first, err := hub.Subscribe(ctx, nil)
	require.NoError(t, err)
	notifier.dropLatest()
	for range first.Deltas() {
	}
	require.ErrorIs(t, first.Err(), ErrGap)

	// Joins while the notifier is down
	sub, err := hub.Subscribe(ctx, nil)
	require.NoError(t, err)
	defer sub.Close()
	require.NotNil(t, sub.Snapshot)
	assert.Equal(t, int64(0), sub.Revision)

	place := func(n int) model.Delta {
		outcome, err := store.CommitPlacement(context.Background(), model.PlacementCommit{
			Identity: model.Identity{UserID: model.UserID(fmt.Sprintf("user-%d", n)), DisplayName: "User"},
			Coord:    model.Coord{X: n, Y: 0},
			Color:    "#00FF00",
			Now:      clock.Now(),
		})
		require.NoError(t, err)
		return outcome.Delta
	}

	missed := place(0)
	close(notifier.gate)
	require.Eventually(t, func() bool { return notifier.count() == 2 }, receiveTimeout, 5*time.Millisecond)

	live := place(1)
	notifier.send(live)

	var got []model.Delta
	for len(got) < 2 {
		select {
		case d, ok := <-sub.Deltas():
			require.True(t, ok, "subscription closed: %v", sub.Err())
			got = append(got, d)
		case <-time.After(receiveTimeout):
			t.Fatalf("received %d deltas, want 2", len(got))
		}
	}
	assert.Equal(t, []model.Delta{missed, live}, got)
	assert.Equal(t, int64(2), hub.LastRevision())
}
