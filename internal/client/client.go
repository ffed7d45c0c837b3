package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcoot/pxcanvas/internal/api/apierr"
	"github.com/mcoot/pxcanvas/internal/api/request"
	"github.com/mcoot/pxcanvas/internal/api/response"
	"github.com/mcoot/pxcanvas/internal/model"
)

// Client is an HTTP client for the canvas API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// streamClient has no timeout; event streams stay open indefinitely
	streamClient *http.Client
}

// New creates a new API client
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
	}
}

// SetToken updates the client's token
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the server URL the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is an error response from the API
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration

	// Body is the raw response body
	Body []byte
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Do performs an HTTP request and decodes a JSON response into result
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.send(ctx, c.httpClient, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// Check for error responses
	if resp.StatusCode >= 400 {
		return toAPIError(resp, respBody)
	}

	// Parse successful response
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body any, accept string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func toAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body)), Body: body}
	var errResp apierr.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Code != "" {
		apiErr.Code = errResp.Error.Code
		apiErr.Message = errResp.Error.Message
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// CreateGuest creates a guest player and adopts its session token
func (c *Client) CreateGuest(ctx context.Context, displayName string) (*response.AuthResponse, error) {
	var resp response.AuthResponse
	if err := c.Do(ctx, http.MethodPost, "/api/v1/players/guest", request.CreateGuestRequest{DisplayName: displayName}, &resp); err != nil {
		return nil, err
	}
	c.token = resp.SessionToken
	return &resp, nil
}

// Register creates a registered player and adopts its session token
func (c *Client) Register(ctx context.Context, username, password, displayName string) (*response.AuthResponse, error) {
	var resp response.AuthResponse
	req := request.RegisterRequest{Username: username, Password: password, DisplayName: displayName}
	if err := c.Do(ctx, http.MethodPost, "/api/v1/players/register", req, &resp); err != nil {
		return nil, err
	}
	c.token = resp.SessionToken
	return &resp, nil
}

// Login logs in and adopts the new session token
func (c *Client) Login(ctx context.Context, username, password string) (*response.AuthResponse, error) {
	var resp response.AuthResponse
	if err := c.Do(ctx, http.MethodPost, "/api/v1/players/login", request.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.token = resp.SessionToken
	return &resp, nil
}

// Me returns the authenticated player
func (c *Client) Me(ctx context.Context) (*response.Player, error) {
	var resp response.Player
	if err := c.Do(ctx, http.MethodGet, "/api/v1/players/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Place asks the server to place a cell. A cooldown rejection is returned as
// a response with Accepted false, not as an error. The local mirror is not
// touched; the change arrives through the event stream.
func (c *Client) Place(ctx context.Context, coord model.Coord, color string) (*response.PlaceResponse, error) {
	x, y := coord.X, coord.Y
	var resp response.PlaceResponse
	err := c.Do(ctx, http.MethodPost, "/api/v1/canvas/place", request.PlaceRequest{X: &x, Y: &y, Color: color}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
			return decodeRejection(apiErr)
		}
		return nil, err
	}
	return &resp, nil
}

// decodeRejection reads the cooldown rejection body of a 429
func decodeRejection(apiErr *APIError) (*response.PlaceResponse, error) {
	var resp response.PlaceResponse
	if err := json.Unmarshal(apiErr.Body, &resp); err != nil {
		return nil, apiErr
	}
	if resp.RetryAfterSeconds == 0 {
		resp.RetryAfterSeconds = model.CeilSeconds(apiErr.RetryAfter)
	}
	return &resp, nil
}

// Snapshot fetches the full canvas
func (c *Client) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	var resp response.Canvas
	if err := c.Do(ctx, http.MethodGet, "/api/v1/canvas", nil, &resp); err != nil {
		return nil, err
	}
	return resp.ToModel(), nil
}

// Cell fetches one cell
func (c *Client) Cell(ctx context.Context, coord model.Coord) (*model.Cell, error) {
	var resp response.Cell
	if err := c.Do(ctx, http.MethodGet, "/api/v1/canvas/cells/"+coord.Key(), nil, &resp); err != nil {
		return nil, err
	}
	cell := resp.ToModel()
	return &cell, nil
}

// DeltasSince fetches the deltas committed after a revision
func (c *Client) DeltasSince(ctx context.Context, since int64) ([]model.Delta, error) {
	var resp response.Deltas
	path := "/api/v1/canvas/deltas?" + url.Values{"since": {strconv.FormatInt(since, 10)}}.Encode()
	if err := c.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	deltas := make([]model.Delta, len(resp.Deltas))
	for i, d := range resp.Deltas {
		deltas[i] = d.ToModel()
	}
	return deltas, nil
}

// Status returns the caller's placement eligibility
func (c *Client) Status(ctx context.Context) (*response.Status, error) {
	var resp response.Status
	if err := c.Do(ctx, http.MethodGet, "/api/v1/players/me/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Palette returns the caller's saved colors
func (c *Client) Palette(ctx context.Context) ([]string, error) {
	var resp response.Palette
	if err := c.Do(ctx, http.MethodGet, "/api/v1/players/me/palette", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Colors, nil
}

// SavePalette replaces the caller's saved colors
func (c *Client) SavePalette(ctx context.Context, colors []string) ([]string, error) {
	var resp response.Palette
	if err := c.Do(ctx, http.MethodPut, "/api/v1/players/me/palette", request.PaletteRequest{Colors: colors}, &resp); err != nil {
		return nil, err
	}
	return resp.Colors, nil
}

// Health checks the server
func (c *Client) Health(ctx context.Context) (*response.Health, error) {
	var resp response.Health
	if err := c.Do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenEvents connects to the change stream. since may be nil for a fresh
// snapshot. The caller closes the returned reader.
func (c *Client) OpenEvents(ctx context.Context, since *int64) (*EventReader, error) {
	path := "/api/v1/canvas/events"
	if since != nil {
		path += "?" + url.Values{"since": {strconv.FormatInt(*since, 10)}}.Encode()
	}

	resp, err := c.send(ctx, c.streamClient, http.MethodGet, path, nil, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		return nil, toAPIError(resp, body)
	}
	return NewEventReader(resp.Body), nil
}
