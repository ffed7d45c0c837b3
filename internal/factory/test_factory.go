package factory

import (
	"time"

	"github.com/mcoot/pxcanvas/internal/config"
	"github.com/mcoot/pxcanvas/internal/dependencies/mocks"
	"github.com/mcoot/pxcanvas/internal/services/auth"
	"github.com/mcoot/pxcanvas/internal/storage/memory"
	"github.com/mcoot/pxcanvas/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
	Memory     *memory.Storage
}

// NewTestApp creates an App on the memory store with mocked dependencies
func NewTestApp() *TestApp {
	return NewTestAppWithConfig(config.Default())
}

// NewTestAppWithConfig is NewTestApp with a custom canvas configuration
func NewTestAppWithConfig(cfg config.Config) *TestApp {
	store := memory.New(storageOptions(cfg))
	notifier := memory.NewNotifier()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()
	authService := auth.New(store, mockClock, mockRandom, auth.Config{SessionDuration: cfg.Auth.SessionDuration})

	app := newWithDependencies(cfg, store, notifier, mockClock, mockRandom, authService, authService, testutil.NopLogger())

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
		Memory:     store,
	}
}
