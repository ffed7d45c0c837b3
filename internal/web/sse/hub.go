package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/pxcanvas/internal/dependencies/clock"
	"github.com/mcoot/pxcanvas/internal/metrics"
	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/storage"
)

// Reasons a subscription is ended by the hub
var (
	ErrLagging   = fmt.Errorf("%w: lagging", model.ErrSubscriptionLost)
	ErrGap       = fmt.Errorf("%w: gap", model.ErrSubscriptionLost)
	ErrHubClosed = fmt.Errorf("%w: hub stopped", model.ErrSubscriptionLost)
)

const (
	// DefaultBufferSize is the per-subscriber delta buffer
	DefaultBufferSize = 256

	// DefaultPollInterval is how often the hub checks the store for commits
	// whose publish never arrived
	DefaultPollInterval = 2 * time.Second

	// resubscribeBackoff is how long Run waits before re-subscribing after
	// the notifier connection is lost
	resubscribeBackoff = time.Second

	// gapFillTimeout bounds the delta log read used to fill a gap
	gapFillTimeout = 5 * time.Second

	// pollTimeout bounds the revision read made on each poll
	pollTimeout = time.Second
)

// Source is the read side of the canvas store used by the hub
type Source interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
	CurrentRevision(ctx context.Context) (int64, error)
	DeltasSince(ctx context.Context, since int64) ([]model.Delta, error)
}

// Config holds configuration for the hub
type Config struct {
	BufferSize   int
	PollInterval time.Duration
}

// Hub fans committed deltas out to subscribers in revision order. It is the
// only consumer of the notifier in a process.
type Hub struct {
	source   Source
	notifier storage.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config

	mu           sync.Mutex
	subscribers  map[*Subscription]struct{}
	lastRevision int64
	stopped      bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

// NewHub creates a new Hub. Call Run before Subscribe can return.
func NewHub(source Source, notifier storage.Notifier, clock clock.Clock, logger *slog.Logger, cfg Config) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Hub{
		source:      source,
		notifier:    notifier,
		clock:       clock,
		logger:      logger.With(slog.String("component", "sse-hub")),
		cfg:         cfg,
		subscribers: make(map[*Subscription]struct{}),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run consumes the notifier until ctx is done. If the notifier connection is
// lost every subscriber is told to resync and Run subscribes again. Once Run
// returns, Subscribe fails with ErrHubClosed.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("sse hub started")
	defer func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()
		n := h.closeAll(ErrHubClosed)
		close(h.done)
		h.logger.Info("sse hub stopped", slog.Int("disconnected_subscribers", n))
	}()

	for {
		err := h.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		h.logger.Warn("delta subscription lost, resubscribing", slog.String("error", err.Error()))
		h.closeAll(ErrGap)

		select {
		case <-ctx.Done():
			return nil
		case <-h.clock.After(resubscribeBackoff):
		}
	}
}

// consume runs one notifier subscription until it ends. Between deltas it
// polls the store so a commit whose publish was lost is still delivered.
func (h *Hub) consume(ctx context.Context) error {
	deltas, err := h.notifier.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// The revision is read after subscribing so nothing committed in
	// between is missed. Anything committed while the notifier was down is
	// filled from the delta log.
	rev, err := h.source.CurrentRevision(ctx)
	if err != nil {
		return fmt.Errorf("current revision: %w", err)
	}
	h.catchUp(ctx, rev)

	ticker := h.clock.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()
	h.readyOnce.Do(func() { close(h.ready) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deltas:
			if !ok {
				return errors.New("notifier channel closed")
			}
			h.handle(ctx, d)
		case <-ticker.C():
			h.poll(ctx)
		}
	}
}

// handle drops duplicates, fills gaps from the delta log and delivers
func (h *Hub) handle(ctx context.Context, d model.Delta) {
	last := h.LastRevision()
	if d.Revision <= last {
		return
	}
	if d.Revision > last+1 {
		h.catchUp(ctx, d.Revision-1)
	}
	if d.Revision > h.LastRevision() {
		h.deliver(d)
	}
}

// poll reads the store's revision and catches up to it
func (h *Hub) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	rev, err := h.source.CurrentRevision(pollCtx)
	cancel()
	if err != nil {
		h.logger.Debug("revision poll failed", slog.String("error", err.Error()))
		return
	}
	h.catchUp(ctx, rev)
}

// catchUp delivers every delta up to target from the delta log. When the log
// no longer covers the range every subscriber is told to resync.
func (h *Hub) catchUp(ctx context.Context, target int64) {
	h.mu.Lock()
	last := h.lastRevision
	if target <= last {
		h.mu.Unlock()
		return
	}
	if len(h.subscribers) == 0 {
		// A later subscriber captures its starting point after registering,
		// so it starts at or beyond target.
		h.lastRevision = target
		h.mu.Unlock()
		metrics.SetRevision(target)
		return
	}
	h.mu.Unlock()

	fillCtx, cancel := context.WithTimeout(ctx, gapFillTimeout)
	missing, err := h.source.DeltasSince(fillCtx, last)
	cancel()
	if err != nil {
		metrics.GapRepaired("resync")
		h.logger.Warn("delta gap could not be filled",
			slog.Int64("last_revision", last),
			slog.Int64("revision", target),
			slog.String("error", err.Error()),
		)
		n := h.closeAll(ErrGap)
		h.mu.Lock()
		if target > h.lastRevision {
			h.lastRevision = target
		}
		h.mu.Unlock()
		metrics.SetRevision(target)
		h.logger.Info("subscribers told to resync", slog.Int("count", n))
		return
	}

	metrics.GapRepaired("filled")
	for _, m := range missing {
		if m.Revision > h.LastRevision() {
			h.deliver(m)
		}
	}
}

// deliver sends a delta to every subscriber without blocking. A subscriber
// whose buffer is full is dropped.
func (h *Hub) deliver(d model.Delta) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastRevision = d.Revision
	metrics.SetRevision(d.Revision)

	for sub := range h.subscribers {
		if d.Revision <= sub.floor {
			continue
		}
		select {
		case sub.deltas <- d:
		default:
			h.dropLocked(sub, ErrLagging)
			metrics.SubscriberDropped("lagging")
			h.logger.Warn("sse subscriber dropped", slog.String("reason", "lagging"))
		}
	}
}

// Subscribe registers a subscriber and captures its starting point. With a
// since revision still in the delta log the subscriber gets a replay;
// otherwise it gets a snapshot. Deltas at or below the starting revision are
// never delivered on the live channel.
func (h *Hub) Subscribe(ctx context.Context, since *int64) (*Subscription, error) {
	select {
	case <-h.ready:
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sub := &Subscription{
		hub:    h,
		deltas: make(chan model.Delta, h.cfg.BufferSize),
		floor:  -1,
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	metrics.SubscriberAdded()

	if err := sub.capture(ctx, since); err != nil {
		sub.Close()
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	sub.floor = sub.Revision
	if sub.err == nil {
		// Drop anything buffered during capture that the starting point
		// already covers.
		n := len(sub.deltas)
		for i := 0; i < n; i++ {
			d := <-sub.deltas
			if d.Revision > sub.Revision {
				sub.deltas <- d
			}
		}
	}
	return sub, nil
}

// LastRevision returns the revision of the last delta the hub delivered
func (h *Hub) LastRevision() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastRevision
}

// SubscriberCount returns the number of live subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// closeAll ends every subscription with the given reason
func (h *Hub) closeAll(reason error) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.subscribers)
	for sub := range h.subscribers {
		h.dropLocked(sub, reason)
	}
	if n > 0 && !errors.Is(reason, ErrHubClosed) {
		for i := 0; i < n; i++ {
			metrics.SubscriberDropped("resync")
		}
	}
	return n
}

// dropLocked removes a subscriber and closes its channel. h.mu must be held.
func (h *Hub) dropLocked(sub *Subscription, reason error) {
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	sub.err = reason
	close(sub.deltas)
	metrics.SubscriberRemoved()
}

// Subscription is one subscriber's view of the change stream. Exactly one
// of Snapshot or Replay describes the starting point at Revision.
type Subscription struct {
	hub *Hub

	Snapshot *model.Snapshot
	Replay   []model.Delta
	Revision int64

	deltas chan model.Delta
	floor  int64
	err    error
}

// capture fills in the starting point
func (s *Subscription) capture(ctx context.Context, since *int64) error {
	if since != nil {
		replay, err := s.hub.source.DeltasSince(ctx, *since)
		switch {
		case err == nil:
			s.Replay = replay
			s.Revision = *since
			if len(replay) > 0 {
				s.Revision = replay[len(replay)-1].Revision
			}
			return nil
		case errors.Is(err, model.ErrRevisionTooOld), errors.Is(err, model.ErrRevisionAhead):
			// fall back to a snapshot
		default:
			return err
		}
	}

	snap, err := s.hub.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	s.Snapshot = snap
	s.Revision = snap.Revision
	return nil
}

// Deltas returns the live delta channel. It is closed when the subscription
// ends; Err then reports why.
func (s *Subscription) Deltas() <-chan model.Delta {
	return s.deltas
}

// Err returns why the hub ended the subscription, or nil
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.dropLocked(s, nil)
}
