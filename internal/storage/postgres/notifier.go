package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/storage"
)

// notifyChannel is the LISTEN/NOTIFY channel carrying live deltas
const notifyChannel = "pxcanvas_deltas"

// Notifier carries deltas over LISTEN/NOTIFY
type Notifier struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Ensure Notifier implements the interface
var _ storage.Notifier = (*Notifier)(nil)

// NewNotifier creates a LISTEN/NOTIFY notifier on an existing pool
func NewNotifier(pool *pgxpool.Pool, logger *slog.Logger) *Notifier {
	return &Notifier{
		pool:   pool,
		logger: logger.With(slog.String("component", "postgres-notifier")),
	}
}

func (n *Notifier) Publish(ctx context.Context, delta model.Delta) error {
	payload, err := storage.EncodeDelta(delta)
	if err != nil {
		return err
	}
	if _, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify delta: %w", err)
	}
	return nil
}

// Subscribe holds one pooled connection in LISTEN mode until ctx is done or
// the connection fails
func (n *Notifier) Subscribe(ctx context.Context) (<-chan model.Delta, error) {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	out := make(chan model.Delta, 256)
	go func() {
		defer close(out)
		defer func() {
			if !conn.Conn().IsClosed() {
				unlistenCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				_, _ = conn.Exec(unlistenCtx, "UNLISTEN *")
				cancel()
			}
			conn.Release()
		}()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					n.logger.Warn("listen connection lost", slog.String("error", err.Error()))
				}
				return
			}
			delta, err := storage.DecodeDelta([]byte(notification.Payload))
			if err != nil {
				n.logger.Warn("dropping malformed delta", slog.String("error", err.Error()))
				continue
			}
			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
