package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mcoot/pxcanvas/internal/api"
	"github.com/mcoot/pxcanvas/internal/config"
	"github.com/mcoot/pxcanvas/internal/dependencies/clock"
	"github.com/mcoot/pxcanvas/internal/dependencies/random"
	"github.com/mcoot/pxcanvas/internal/metrics"
	"github.com/mcoot/pxcanvas/internal/services/auth"
	"github.com/mcoot/pxcanvas/internal/services/canvas"
	"github.com/mcoot/pxcanvas/internal/services/cooldown"
	"github.com/mcoot/pxcanvas/internal/storage"
	"github.com/mcoot/pxcanvas/internal/storage/memory"
	pgstorage "github.com/mcoot/pxcanvas/internal/storage/postgres"
	redisstorage "github.com/mcoot/pxcanvas/internal/storage/redis"
	"github.com/mcoot/pxcanvas/internal/web/sse"
)

// sessionCleanupInterval is how often expired local sessions are purged
const sessionCleanupInterval = 10 * time.Minute

// App contains all wired application components
type App struct {
	Config config.Config
	Logger *slog.Logger

	// Storage
	Storage  storage.Storage
	Notifier storage.Notifier

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	CanvasService    *canvas.Service
	IdentityProvider auth.IdentityProvider
	AuthService      *auth.Service // nil unless the local provider is configured
	Hub              *sse.Hub

	closers []func() error
	wg      sync.WaitGroup
}

// New creates a new application with all dependencies wired from config
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	// Use no-op logger if not provided
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	opts := storageOptions(cfg)

	var (
		store    storage.Storage
		notifier storage.Notifier
		closers  []func() error
	)

	switch cfg.Storage.Type {
	case config.StorageMemory, "":
		store = memory.New(opts)
		notifier = memory.NewNotifier()
	case config.StorageRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.Storage.RedisURL
		redisStore, err := redisstorage.New(redisCfg, opts)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		store = redisStore
		notifier = redisstorage.NewNotifier(redisStore.Client(), logger)
		closers = append(closers, redisStore.Close)
	case config.StoragePostgres:
		pgCfg := pgstorage.DefaultConfig()
		pgCfg.URL = cfg.Storage.DatabaseURL
		pgStore, err := pgstorage.New(ctx, pgCfg, opts)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store = pgStore
		notifier = pgstorage.NewNotifier(pgStore.Pool(), logger)
		closers = append(closers, pgStore.Close)
		if err := metrics.Registry().Register(metrics.NewPoolCollector(pgStore.Pool())); err != nil {
			logger.Warn("pgx pool collector not registered", slog.String("error", err.Error()))
		}
	default:
		return nil, fmt.Errorf("invalid storage type %q", cfg.Storage.Type)
	}

	clk := clock.New()
	rnd := random.New()

	var (
		provider    auth.IdentityProvider
		authService *auth.Service
	)
	switch cfg.Auth.Provider {
	case config.AuthLocal, "":
		authService = auth.New(store, clk, rnd, auth.Config{SessionDuration: cfg.Auth.SessionDuration})
		provider = authService
	case config.AuthFirebase:
		fb, err := auth.NewFirebaseProvider(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentialsFile)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		provider = fb
	default:
		closeAll(closers)
		return nil, fmt.Errorf("invalid auth provider %q", cfg.Auth.Provider)
	}

	app := newWithDependencies(cfg, store, notifier, clk, rnd, provider, authService, logger)
	app.closers = closers
	return app, nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	cfg config.Config,
	store storage.Storage,
	notifier storage.Notifier,
	clk clock.Clock,
	rnd random.Random,
	provider auth.IdentityProvider,
	authService *auth.Service,
	logger *slog.Logger,
) *App {
	canvasService := canvas.New(store, notifier, clk, logger, canvas.Config{
		Dimensions:   cfg.Canvas.Dimensions(),
		Cooldown:     cooldown.New(cfg.Canvas.Cooldown),
		PlaceTimeout: cfg.Canvas.PlaceTimeout,
	})
	hub := sse.NewHub(store, notifier, clk, logger, sse.Config{})

	return &App{
		Config:           cfg,
		Logger:           logger,
		Storage:          store,
		Notifier:         notifier,
		Clock:            clk,
		Random:           rnd,
		CanvasService:    canvasService,
		IdentityProvider: provider,
		AuthService:      authService,
		Hub:              hub,
	}
}

func storageOptions(cfg config.Config) storage.Options {
	return storage.Options{
		Dimensions:   cfg.Canvas.Dimensions(),
		Cooldown:     cooldown.New(cfg.Canvas.Cooldown),
		DeltaLogSize: cfg.Canvas.DeltaLogSize,
	}
}

// Router builds the HTTP handler for the app
func (a *App) Router() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Logger:             a.Logger,
		CanvasService:      a.CanvasService,
		Hub:                a.Hub,
		IdentityProvider:   a.IdentityProvider,
		AuthService:        a.AuthService,
		CORSAllowedOrigins: a.Config.CORSAllowedOrigins,
	})
}

// Start runs the background workers until ctx is done
func (a *App) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.Hub.Run(ctx); err != nil {
			a.Logger.Error("sse hub stopped", slog.String("error", err.Error()))
		}
	}()

	if a.AuthService != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.AuthService.RunSessionCleanup(ctx, sessionCleanupInterval)
		}()
	}
}

// Close waits for background workers and releases store connections.
// Cancel the context passed to Start first.
func (a *App) Close() error {
	a.wg.Wait()
	return closeAll(a.closers)
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
