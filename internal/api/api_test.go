package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/pxcanvas/internal/api"
	"github.com/mcoot/pxcanvas/internal/api/apierr"
	"github.com/mcoot/pxcanvas/internal/api/response"
	"github.com/mcoot/pxcanvas/internal/config"
	"github.com/mcoot/pxcanvas/internal/factory"
	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/testutil"
)

// testServer creates a test server with all dependencies
type testServer struct {
	handler http.Handler
	app     *factory.TestApp
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Canvas.Width = 20
	cfg.Canvas.Height = 20
	app := factory.NewTestAppWithConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	app.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = app.Close()
	})

	return &testServer{
		handler: app.Router(),
		app:     app,
	}
}

func (ts *testServer) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func createGuestPlayer(t *testing.T, ts *testServer, name string) string {
	t.Helper()
	rr := ts.request(http.MethodPost, "/api/v1/players/guest", map[string]string{"display_name": name}, "")
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp response.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.SessionToken
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apierr.APIError {
	t.Helper()
	var resp apierr.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func place(x, y int, color string) map[string]any {
	return map[string]any{"x": x, "y": y, "color": color}
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		rr := ts.request(http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "ok")
		assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.request(http.MethodGet, "/api/v1/canvas", nil, "")

	rr := ts.request(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pxcanvas_http_requests_total")
}

func TestCreateGuestPlayer(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/players/guest", map[string]string{"display_name": "Alice"}, "")
	assert.Equal(t, http.StatusCreated, rr.Code)

	var resp response.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Alice", resp.Player.DisplayName)
	assert.True(t, resp.Player.IsGuest)
	assert.NotEmpty(t, resp.SessionToken)
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	registerBody := map[string]string{
		"username":     "alice",
		"password":     "secret123",
		"display_name": "Alice",
	}
	rr := ts.request(http.MethodPost, "/api/v1/players/register", registerBody, "")
	assert.Equal(t, http.StatusCreated, rr.Code)

	var registerResp response.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &registerResp))
	assert.False(t, registerResp.Player.IsGuest)

	rr = ts.request(http.MethodPost, "/api/v1/players/register", registerBody, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	loginBody := map[string]string{"username": "alice", "password": "secret123"}
	rr = ts.request(http.MethodPost, "/api/v1/players/login", loginBody, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var loginResp response.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &loginResp))
	assert.Equal(t, registerResp.Player.ID, loginResp.Player.ID)

	rr = ts.request(http.MethodPost, "/api/v1/players/login", map[string]string{"username": "alice", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apierr.CodeInvalidCredentials, decodeError(t, rr).Code)
}

func TestGetMeAndLogout(t *testing.T) {
	ts := newTestServer(t)
	token := createGuestPlayer(t, ts, "Bob")

	rr := ts.request(http.MethodGet, "/api/v1/players/me", nil, token)
	assert.Equal(t, http.StatusOK, rr.Code)

	var me response.Player
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	assert.Equal(t, "Bob", me.DisplayName)
	assert.True(t, me.IsGuest)

	rr = ts.request(http.MethodPost, "/api/v1/players/logout", nil, token)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/players/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/players/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request(http.MethodPost, "/api/v1/canvas/place", place(1, 1, "#FF0000"), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apierr.CodeUnauthorized, decodeError(t, rr).Code)

	rr = ts.request(http.MethodPost, "/api/v1/canvas/place", place(1, 1, "#FF0000"), "sess_bogus")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSessionCookieAuth(t *testing.T) {
	ts := newTestServer(t)
	token := createGuestPlayer(t, ts, "Carol")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/players/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token})
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPlaceAndReadBack(t *testing.T) {
	ts := newTestServer(t)
	token := createGuestPlayer(t, ts, "Alice")

	rr := ts.request(http.MethodPost, "/api/v1/canvas/place", place(5, 12, "#ff0000"), token)
	require.Equal(t, http.StatusOK, rr.Code)

	var placed response.PlaceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &placed))
	assert.True(t, placed.Accepted)
	assert.Equal(t, int64(1), placed.TotalPlaced)
	assert.Equal(t, int64(1), placed.Revision)
	require.NotNil(t, placed.Cell)
	assert.Equal(t, "#FF0000", placed.Cell.Color)
	assert.Equal(t, "Alice", placed.Cell.Username)
	require.NotNil(t, placed.NextEligibleAt)
	assert.Equal(t, ts.app.MockClock.Now().Add(20*time.Second), *placed.NextEligibleAt)

	rr = ts.request(http.MethodGet, "/api/v1/canvas", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var canvas response.Canvas
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &canvas))
	assert.Equal(t, 20, canvas.Width)
	assert.Equal(t, int64(1), canvas.Revision)
	assert.Equal(t, map[string]string{"5,12": "#FF0000"}, canvas.Cells)
	assert.Equal(t, "Alice", canvas.Metadata["5,12"].Username)

	rr = ts.request(http.MethodGet, "/api/v1/canvas/cells/5,12", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var cell response.Cell
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cell))
	assert.Equal(t, 5, cell.X)
	assert.Equal(t, 12, cell.Y)

	rr = ts.request(http.MethodGet, "/api/v1/canvas/deltas?since=0", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var deltas response.Deltas
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &deltas))
	assert.Equal(t, int64(1), deltas.Revision)
	require.Len(t, deltas.Deltas, 1)
	assert.Equal(t, "#FF0000", deltas.Deltas[0].Cell.Color)
}

func TestPlaceOnCooldown(t *testing.T) {
	ts := newTestServer(t)
	token := createGuestPlayer(t, ts, "Alice")

	rr := ts.request(http.MethodPost, "/api/v1/canvas/place", place(1, 1, "#FF0000"), token)
	require.Equal(t, http.StatusOK, rr.Code)

	ts.app.MockClock.Advance(5 * time.Second)

	rr = ts.request(http.MethodPost, "/api/v1/canvas/place", place(2, 2, "#00FF00"), token)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "15", rr.Header().Get("Retry-After"))

	var rejected response.PlaceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rejected))
	assert.False(t, rejected.Accepted)
	assert.Equal(t, 15, rejected.RetryAfterSeconds)
	assert.Equal(t, int64(1), rejected.TotalPlaced)
	assert.Nil(t, rejected.Cell)

	rr = ts.request(http.MethodGet, "/api/v1/canvas/cells/2,2", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodeCellNotFound, decodeError(t, rr).Code)
}

func TestPlaceValidation(t *testing.T) {
	ts := newTestServer(t)
	token := createGuestPlayer(t, ts, "Alice")

	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{"out of bounds", place(20, 0, "#FF0000"), apierr.CodeOutOfBounds},
		{"negative", place(-1, 0, "#FF0000"), apierr.CodeOutOfBounds},
		{"bad color", place(0, 0, "red"), apierr.CodeInvalidColor},
		{"missing y", map[string]any{"x": 1, "color": "#FF0000"}, apierr.CodeInvalidRequest},
		{"not json", "nope", apierr.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.request(http.MethodPost, "/api/v1/canvas/place", tt.body, token)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rr).Code)
		})
	}

	// Rejected placements do not start a cooldown
	rr := ts.request(http.MethodPost, "/api/v1/canvas/place", place(0, 0, "#FF0000"), token)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPlaceIgnoresClientTimestamp(t *testing.T) {
	ts := newTestServer(t)
	token := createGuestPlayer(t, ts, "Alice")

	body := map[string]any{"x": 3, "y": 3, "color": "#123456", "client_timestamp": 1}
	rr := ts.request(http.MethodPost, "/api/v1/canvas/place", body, token)
	require.Equal(t, http.StatusOK, rr.Code)

	var placed response.PlaceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &placed))
	assert.Equal(t, ts.app.MockClock.Now(), placed.Cell.Timestamp)
}

func TestCellKeyValidation(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/canvas/cells/05,1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidCoordinate, decodeError(t, rr).Code)

	rr = ts.request(http.MethodGet, "/api/v1/canvas/cells/25,1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeOutOfBounds, decodeError(t, rr).Code)
}

func TestDeltasValidation(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/canvas/deltas", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/canvas/deltas?since=5", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidRevision, decodeError(t, rr).Code)
}

func TestDeltasTooOld(t *testing.T) {
	cfg := config.Default()
	cfg.Canvas.DeltaLogSize = 2
	cfg.Canvas.Cooldown = 0
	app := factory.NewTestAppWithConfig(cfg)
	handler := api.NewRouter(api.RouterConfig{
		Logger:           testutil.NopLogger(),
		CanvasService:    app.CanvasService,
		Hub:              app.Hub,
		IdentityProvider: app.IdentityProvider,
		AuthService:      app.AuthService,
	})

	identity := model.Identity{UserID: "u1", DisplayName: "U1"}
	for i := 0; i < 4; i++ {
		_, err := app.CanvasService.Place(context.Background(), identity, model.Coord{X: i, Y: 0}, "#000000")
		require.NoError(t, err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/canvas/deltas?since=0", nil))
	assert.Equal(t, http.StatusGone, rr.Code)
	assert.Equal(t, apierr.CodeRevisionTooOld, decodeError(t, rr).Code)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	token := createGuestPlayer(t, ts, "Alice")

	rr := ts.request(http.MethodGet, "/api/v1/players/me/status", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	var status response.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.True(t, status.CanPlace)
	assert.Nil(t, status.NextEligibleAt)

	ts.request(http.MethodPost, "/api/v1/canvas/place", place(0, 0, "#FF0000"), token)
	ts.app.MockClock.Advance(500 * time.Millisecond)

	rr = ts.request(http.MethodGet, "/api/v1/players/me/status", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.False(t, status.CanPlace)
	assert.Equal(t, 20, status.RetryAfterSeconds)
	assert.Equal(t, int64(1), status.TotalPlaced)
}

func TestPalette(t *testing.T) {
	ts := newTestServer(t)
	token := createGuestPlayer(t, ts, "Alice")

	rr := ts.request(http.MethodGet, "/api/v1/players/me/palette", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	var palette response.Palette
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &palette))
	assert.Empty(t, palette.Colors)

	rr = ts.request(http.MethodPut, "/api/v1/players/me/palette", map[string]any{"colors": []string{"#abcdef", "#000000"}}, token)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/players/me/palette", nil, token)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &palette))
	assert.Equal(t, []string{"#ABCDEF", "#000000"}, palette.Colors)

	rr = ts.request(http.MethodPut, "/api/v1/players/me/palette", map[string]any{"colors": []string{"blue"}}, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidColor, decodeError(t, rr).Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/canvas/place", nil)
	req.Header.Set("Origin", "https://viewer.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
