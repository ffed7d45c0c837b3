package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/storage"
)

// Notifier carries deltas over Redis pub/sub, so every server process
// sharing the store sees every commit
type Notifier struct {
	client *redis.Client
	logger *slog.Logger
}

// Ensure Notifier implements the interface
var _ storage.Notifier = (*Notifier)(nil)

// NewNotifier creates a pub/sub notifier on an existing client
func NewNotifier(client *redis.Client, logger *slog.Logger) *Notifier {
	return &Notifier{
		client: client,
		logger: logger.With(slog.String("component", "redis-notifier")),
	}
}

func (n *Notifier) Publish(ctx context.Context, delta model.Delta) error {
	payload, err := storage.EncodeDelta(delta)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, deltasChannel(), payload).Err()
}

// Subscribe returns once the subscription is confirmed by the server, so a
// delta published after it returns is delivered
func (n *Notifier) Subscribe(ctx context.Context) (<-chan model.Delta, error) {
	pubsub := n.client.Subscribe(ctx, deltasChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", deltasChannel(), err)
	}

	out := make(chan model.Delta, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				delta, err := storage.DecodeDelta([]byte(msg.Payload))
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
		}
	}()

	return out, nil
}
