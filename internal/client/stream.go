package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mcoot/pxcanvas/internal/api/response"
	"github.com/mcoot/pxcanvas/internal/dependencies/clock"
	"github.com/mcoot/pxcanvas/internal/model"
)

// Update kinds reported to StreamConfig.OnUpdate
const (
	UpdateSnapshot = "snapshot"
	UpdateDelta    = "delta"
	UpdateResync   = "resync"
)

// Update describes a change applied to the mirror
type Update struct {
	Kind     string
	Revision int64
	Delta    *model.Delta
	Err      error // why the stream is resyncing
}

// StreamConfig holds reconnect settings for a Stream
type StreamConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnUpdate is called from the stream goroutine after each change
	OnUpdate func(Update)
}

// DefaultStreamConfig returns the default reconnect settings
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Stream keeps a Mirror in sync with the server's change stream. Every
// connection starts from a fresh snapshot; a resync, a gap, EOF or a
// transport error closes it and the stream reconnects with backoff.
type Stream struct {
	client *Client
	mirror *Mirror
	clock  clock.Clock
	logger *slog.Logger
	cfg    StreamConfig
}

// NewStream creates a stream feeding mirror
func NewStream(client *Client, mirror *Mirror, clock clock.Clock, logger *slog.Logger, cfg StreamConfig) *Stream {
	def := DefaultStreamConfig()
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &Stream{
		client: client,
		mirror: mirror,
		clock:  clock,
		logger: logger.With(slog.String("component", "canvas-stream")),
		cfg:    cfg,
	}
}

// Run streams until ctx is done
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.cfg.MinBackoff
	for {
		synced, err := s.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if synced {
			backoff = s.cfg.MinBackoff
		}

		s.logger.Info("canvas stream disconnected",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		s.notify(Update{Kind: UpdateResync, Revision: s.mirror.Revision(), Err: err})

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(backoff):
		}
		if !synced {
			backoff = min(backoff*2, s.cfg.MaxBackoff)
		}
	}
}

// connect runs one connection. synced reports whether a snapshot arrived.
func (s *Stream) connect(ctx context.Context) (synced bool, err error) {
	events, err := s.client.OpenEvents(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrSubscriptionLost, err)
	}
	defer func() { _ = events.Close() }()

	for {
		ev, err := events.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return synced, fmt.Errorf("%w: stream ended", model.ErrSubscriptionLost)
			}
			return synced, fmt.Errorf("%w: %v", model.ErrSubscriptionLost, err)
		}

		switch ev.Name {
		case UpdateSnapshot:
			var canvas response.Canvas
			if err := json.Unmarshal([]byte(ev.Data), &canvas); err != nil {
				return synced, fmt.Errorf("decode snapshot: %w", err)
			}
			s.mirror.ApplySnapshot(canvas.ToModel())
			synced = true
			s.notify(Update{Kind: UpdateSnapshot, Revision: canvas.Revision})

		case UpdateDelta:
			if !synced {
				continue
			}
			var delta response.Delta
			if err := json.Unmarshal([]byte(ev.Data), &delta); err != nil {
				return synced, fmt.Errorf("decode delta: %w", err)
			}
			d := delta.ToModel()
			applied, err := s.mirror.ApplyDelta(d)
			if err != nil {
				return synced, fmt.Errorf("%w: %v", model.ErrSubscriptionLost, err)
			}
			if applied {
				s.notify(Update{Kind: UpdateDelta, Revision: d.Revision, Delta: &d})
			}

		case UpdateResync:
			return synced, fmt.Errorf("%w: server requested resync: %s", model.ErrSubscriptionLost, ev.Data)
		}
	}
}

func (s *Stream) notify(u Update) {
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(u)
	}
}
