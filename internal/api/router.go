package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/mcoot/pxcanvas/internal/api/handler"
	apimw "github.com/mcoot/pxcanvas/internal/api/middleware"
	"github.com/mcoot/pxcanvas/internal/api/response"
	"github.com/mcoot/pxcanvas/internal/metrics"
	"github.com/mcoot/pxcanvas/internal/middleware"
	"github.com/mcoot/pxcanvas/internal/services/auth"
	"github.com/mcoot/pxcanvas/internal/services/canvas"
	"github.com/mcoot/pxcanvas/internal/web/sse"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger           *slog.Logger
	CanvasService    *canvas.Service
	Hub              *sse.Hub
	IdentityProvider auth.IdentityProvider

	// AuthService enables the guest/register/login endpoints. Leave nil
	// when identities come from an external provider.
	AuthService *auth.Service

	CORSAllowedOrigins []string
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	canvasHandler := handler.NewCanvasHandler(cfg.CanvasService, cfg.Logger)
	playerHandler := handler.NewPlayerHandler(cfg.AuthService)
	eventsHandler := sse.NewHandler(cfg.Hub, cfg.Logger)

	// Create middleware
	authMiddleware := apimw.Auth(cfg.IdentityProvider)
	loggingMiddleware := middleware.Logging(cfg.Logger)
	recoveryMiddleware := apimw.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)
	api.Use(metrics.Metrics)

	// Public canvas reads
	api.HandleFunc("/canvas", canvasHandler.Snapshot).Methods(http.MethodGet)
	api.HandleFunc("/canvas/cells/{key}", canvasHandler.Cell).Methods(http.MethodGet)
	api.HandleFunc("/canvas/deltas", canvasHandler.Deltas).Methods(http.MethodGet)
	api.Handle("/canvas/events", eventsHandler).Methods(http.MethodGet)

	// Placement requires an identity
	canvasProtected := api.PathPrefix("/canvas").Subrouter()
	canvasProtected.Use(authMiddleware)
	canvasProtected.HandleFunc("/place", canvasHandler.Place).Methods(http.MethodPost)

	// Player account routes (no auth required for creating players/logging in)
	if cfg.AuthService != nil {
		api.HandleFunc("/players/guest", playerHandler.CreateGuest).Methods(http.MethodPost)
		api.HandleFunc("/players/register", playerHandler.Register).Methods(http.MethodPost)
		api.HandleFunc("/players/login", playerHandler.Login).Methods(http.MethodPost)
	}

	// Protected player routes
	playerProtected := api.PathPrefix("/players").Subrouter()
	playerProtected.Use(authMiddleware)
	playerProtected.HandleFunc("/me", playerHandler.GetMe).Methods(http.MethodGet)
	playerProtected.HandleFunc("/me/status", canvasHandler.Status).Methods(http.MethodGet)
	playerProtected.HandleFunc("/me/palette", canvasHandler.GetPalette).Methods(http.MethodGet)
	playerProtected.HandleFunc("/me/palette", canvasHandler.SavePalette).Methods(http.MethodPut)
	if cfg.AuthService != nil {
		playerProtected.HandleFunc("/logout", playerHandler.Logout).Methods(http.MethodPost)
	}

	// Health and metrics (no auth)
	r.HandleFunc("/health", healthHandler(cfg.CanvasService)).Methods(http.MethodGet)
	api.HandleFunc("/health", healthHandler(cfg.CanvasService)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	allowedOrigins := cfg.CORSAllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
		},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID", middleware.RequestIDHeader},
		ExposedHeaders: []string{"Retry-After", middleware.RequestIDHeader},
	})

	return c.Handler(r)
}

// healthHandler reports ok when the canvas store answers
func healthHandler(canvasService *canvas.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rev, err := canvasService.CurrentRevision(r.Context())
		if err != nil {
			response.JSON(w, http.StatusServiceUnavailable, response.Health{Status: "unavailable"})
			return
		}
		response.JSON(w, http.StatusOK, response.Health{Status: "ok", Revision: rev})
	}
}
