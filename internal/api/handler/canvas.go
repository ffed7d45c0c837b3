package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mcoot/pxcanvas/internal/api/middleware"
	"github.com/mcoot/pxcanvas/internal/api/request"
	"github.com/mcoot/pxcanvas/internal/api/response"
	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/services/canvas"
)

// CanvasHandler handles canvas and per-user placement endpoints
type CanvasHandler struct {
	canvasService *canvas.Service
	logger        *slog.Logger
}

// NewCanvasHandler creates a new canvas handler
func NewCanvasHandler(canvasService *canvas.Service, logger *slog.Logger) *CanvasHandler {
	return &CanvasHandler{
		canvasService: canvasService,
		logger:        logger.With(slog.String("component", "canvas-handler")),
	}
}

// Place handles POST /api/v1/canvas/place
func (h *CanvasHandler) Place(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.PlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	if req.X == nil || req.Y == nil {
		WriteError(w, NewInvalidRequestError("x and y are required"))
		return
	}

	result, err := h.canvasService.Place(r.Context(), *identity, model.Coord{X: *req.X, Y: *req.Y}, req.Color)
	if err != nil {
		var cdErr *model.OnCooldownError
		if errors.As(err, &cdErr) {
			response.RetryLater(w, http.StatusTooManyRequests, cdErr.RetryAfterSeconds(), response.PlaceResponseRejected(cdErr))
			return
		}
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.PlaceResponseAccepted(result.Delta, result.State))
}

// Snapshot handles GET /api/v1/canvas
func (h *CanvasHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.canvasService.Snapshot(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.CanvasFromModel(snap))
}

// Cell handles GET /api/v1/canvas/cells/{key}
func (h *CanvasHandler) Cell(w http.ResponseWriter, r *http.Request) {
	coord, err := model.ParseCoordKey(mux.Vars(r)["key"])
	if err != nil {
		WriteError(w, err)
		return
	}

	cell, err := h.canvasService.Cell(r.Context(), coord)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.CellFromModel(*cell))
}

// Deltas handles GET /api/v1/canvas/deltas?since=N
func (h *CanvasHandler) Deltas(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil || since < 0 {
		WriteError(w, NewInvalidRequestError("since must be a non-negative integer"))
		return
	}

	deltas, err := h.canvasService.DeltasSince(r.Context(), since)
	if err != nil {
		WriteError(w, err)
		return
	}

	revision := since
	if len(deltas) > 0 {
		revision = deltas[len(deltas)-1].Revision
	}
	response.JSON(w, http.StatusOK, response.DeltasFromModel(revision, deltas))
}

// Status handles GET /api/v1/players/me/status
func (h *CanvasHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	status, err := h.canvasService.Status(r.Context(), identity.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.StatusFromModel(status.State, status.CanPlace, status.RetryAfter))
}

// GetPalette handles GET /api/v1/players/me/palette
func (h *CanvasHandler) GetPalette(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	colors, err := h.canvasService.GetPalette(r.Context(), identity.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.PaletteFromModel(colors))
}

// SavePalette handles PUT /api/v1/players/me/palette
func (h *CanvasHandler) SavePalette(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.PaletteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	colors, err := h.canvasService.SavePalette(r.Context(), identity.UserID, req.Colors)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.PaletteFromModel(colors))
}
