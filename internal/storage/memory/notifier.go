package memory

import (
	"context"
	"sync"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/storage"
)

const subscriberBufferSize = 1024

// Notifier fans deltas out to subscribers in the same process.
// Publish never blocks: a full subscriber misses the delta and repairs the
// gap from the delta log.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan model.Delta]struct{}
}

// Ensure Notifier implements the interface
var _ storage.Notifier = (*Notifier)(nil)

// NewNotifier creates an in-process notifier
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan model.Delta]struct{})}
}

func (n *Notifier) Publish(ctx context.Context, delta model.Delta) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- delta:
		default:
		}
	}
	return nil
}

func (n *Notifier) Subscribe(ctx context.Context) (<-chan model.Delta, error) {
	ch := make(chan model.Delta, subscriberBufferSize)

	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, ch)
		close(ch)
		n.mu.Unlock()
	}()

	return ch, nil
}
