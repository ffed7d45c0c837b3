package response

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// JSON writes a JSON response. Canvas state moves with every placement, so
// API responses are marked uncacheable.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// RetryLater writes a JSON response carrying a Retry-After header in whole
// seconds
func RetryLater(w http.ResponseWriter, status, retryAfterSeconds int, data any) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	JSON(w, status, data)
}

// NoContent writes a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
