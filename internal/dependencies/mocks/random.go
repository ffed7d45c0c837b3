package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/pxcanvas/internal/dependencies/random"
)

// MockRandom returns queued values first, then deterministic sequential ones
type MockRandom struct {
	mu     sync.Mutex
	ids    []string
	tokens []string
	seq    int
}

// Ensure MockRandom implements Random
var _ random.Random = (*MockRandom)(nil)

// NewMockRandom creates a new MockRandom
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

// ID returns the next queued id, or "id-N"
func (r *MockRandom) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) > 0 {
		id := r.ids[0]
		r.ids = r.ids[1:]
		return id
	}
	r.seq++
	return fmt.Sprintf("id-%d", r.seq)
}

// Token returns the next queued token, or "token-N"
func (r *MockRandom) Token(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tokens) > 0 {
		t := r.tokens[0]
		r.tokens = r.tokens[1:]
		return t
	}
	r.seq++
	return fmt.Sprintf("token-%d", r.seq)
}

// QueueID adds values to the ID result queue
func (r *MockRandom) QueueID(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, values...)
}

// QueueToken adds values to the Token result queue
func (r *MockRandom) QueueToken(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, values...)
}
