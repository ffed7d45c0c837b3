package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/services/auth"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidColor       = "INVALID_COLOR"
	CodeInvalidCoordinate  = "INVALID_COORDINATE"
	CodeInvalidRevision    = "INVALID_REVISION"
	CodeInvalidDisplayName = "INVALID_DISPLAY_NAME"
	CodeOutOfBounds        = "OUT_OF_BOUNDS"
	CodePaletteTooLarge    = "PALETTE_TOO_LARGE"
	CodeOnCooldown         = "ON_COOLDOWN"
	CodeRevisionTooOld     = "REVISION_TOO_OLD"
	CodeCellNotFound       = "CELL_NOT_FOUND"
	CodePlayerNotFound     = "PLAYER_NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeUsernameExists     = "USERNAME_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError.
// A positive retryAfter is sent as the Retry-After header, in seconds.
type httpError struct {
	status     int
	apiError   APIError
	retryAfter int
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	if he.retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(he.retryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status an error maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	// Check for specific error types
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	var cooldownErr *model.OnCooldownError
	if errors.As(err, &cooldownErr) {
		return &httpError{
			status:     http.StatusTooManyRequests,
			apiError:   APIError{CodeOnCooldown, cooldownErr.Error()},
			retryAfter: cooldownErr.RetryAfterSeconds(),
		}
	}

	// Map model errors
	switch {
	case errors.Is(err, model.ErrOutOfBounds):
		return &httpError{status: http.StatusBadRequest, apiError: APIError{CodeOutOfBounds, "Coordinate is outside the canvas"}}
	case errors.Is(err, model.ErrInvalidColor):
		return &httpError{status: http.StatusBadRequest, apiError: APIError{CodeInvalidColor, "Color must be in #RRGGBB form"}}
	case errors.Is(err, model.ErrInvalidCoordKey):
		return &httpError{status: http.StatusBadRequest, apiError: APIError{CodeInvalidCoordinate, "Coordinate must be in x,y form"}}
	case errors.Is(err, model.ErrPaletteTooLarge):
		return &httpError{status: http.StatusBadRequest, apiError: APIError{CodePaletteTooLarge, "Palette has too many colors"}}
	case errors.Is(err, model.ErrRevisionAhead):
		return &httpError{status: http.StatusBadRequest, apiError: APIError{CodeInvalidRevision, "Revision is ahead of the canvas"}}
	case errors.Is(err, model.ErrOnCooldown):
		return &httpError{status: http.StatusTooManyRequests, apiError: APIError{CodeOnCooldown, "On cooldown"}}
	case errors.Is(err, model.ErrRevisionTooOld):
		return &httpError{status: http.StatusGone, apiError: APIError{CodeRevisionTooOld, "Revision is too old, fetch a snapshot"}}
	case errors.Is(err, model.ErrCellNotFound):
		return &httpError{status: http.StatusNotFound, apiError: APIError{CodeCellNotFound, "Cell has never been placed"}}
	case errors.Is(err, model.ErrPlayerNotFound):
		return &httpError{status: http.StatusNotFound, apiError: APIError{CodePlayerNotFound, "Player not found"}}
	case errors.Is(err, model.ErrStoreUnavailable):
		return &httpError{status: http.StatusServiceUnavailable, apiError: APIError{CodeStoreUnavailable, "Canvas store is unavailable, try again"}, retryAfter: 1}

	// Map auth errors
	case errors.Is(err, auth.ErrInvalidCredentials):
		return &httpError{status: http.StatusUnauthorized, apiError: APIError{CodeInvalidCredentials, "Invalid username or password"}}
	case errors.Is(err, auth.ErrInvalidSession):
		return &httpError{status: http.StatusUnauthorized, apiError: APIError{CodeUnauthorized, "Invalid or expired session"}}
	case errors.Is(err, auth.ErrUsernameExists):
		return &httpError{status: http.StatusConflict, apiError: APIError{CodeUsernameExists, "Username already exists"}}
	case errors.Is(err, auth.ErrInvalidDisplayName):
		return &httpError{status: http.StatusBadRequest, apiError: APIError{CodeInvalidDisplayName, "Display name must be 1-32 characters"}}

	default:
		return &httpError{status: http.StatusInternalServerError, apiError: APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{status: http.StatusBadRequest, apiError: APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{status: http.StatusUnauthorized, apiError: APIError{CodeUnauthorized, "Authentication required"}}
}

// NewNotFoundError creates a not found error for routes that are not enabled
func NewNotFoundError(message string) error {
	return &httpError{status: http.StatusNotFound, apiError: APIError{"NOT_FOUND", message}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{status: http.StatusInternalServerError, apiError: APIError{CodeInternalError, "Internal server error"}}
}
