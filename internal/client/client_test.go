package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/pxcanvas/internal/client"
	"github.com/mcoot/pxcanvas/internal/config"
	"github.com/mcoot/pxcanvas/internal/factory"
	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/testutil"
)

type ClientSuite struct {
	suite.Suite
	app    *factory.TestApp
	server *httptest.Server
	cancel context.CancelFunc
	ctx    context.Context
}

func (s *ClientSuite) SetupTest() {
	cfg := config.Default()
	cfg.Canvas.Width = 16
	cfg.Canvas.Height = 16
	s.app = factory.NewTestAppWithConfig(cfg)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.app.Start(s.ctx)
	s.server = httptest.NewServer(s.app.Router())
}

func (s *ClientSuite) TearDownTest() {
	s.cancel()
	s.server.Close()
	_ = s.app.Close()
}

func (s *ClientSuite) guest(name string) *client.Client {
	c := client.New(s.server.URL, "")
	_, err := c.CreateGuest(s.ctx, name)
	s.Require().NoError(err)
	return c
}

func (s *ClientSuite) TestGuestPlaceAndRead() {
	c := s.guest("Alice")

	me, err := c.Me(s.ctx)
	s.Require().NoError(err)
	s.Equal("Alice", me.DisplayName)
	s.True(me.IsGuest)

	placed, err := c.Place(s.ctx, model.Coord{X: 3, Y: 4}, "#ff0000")
	s.Require().NoError(err)
	s.True(placed.Accepted)
	s.Equal(int64(1), placed.Revision)
	s.Equal(int64(1), placed.TotalPlaced)

	cell, err := c.Cell(s.ctx, model.Coord{X: 3, Y: 4})
	s.Require().NoError(err)
	s.Equal(model.Color("#FF0000"), cell.Color)
	s.Equal("Alice", cell.PlacedByName)

	snap, err := c.Snapshot(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), snap.Revision)
	s.Equal(model.Dimensions{Width: 16, Height: 16}, snap.Dimensions)
	s.Len(snap.Cells, 1)

	deltas, err := c.DeltasSince(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(deltas, 1)
	s.Equal(model.Coord{X: 3, Y: 4}, deltas[0].Cell.Coord)
}

func (s *ClientSuite) TestCooldownRejectionIsNotAnError() {
	c := s.guest("Bob")

	_, err := c.Place(s.ctx, model.Coord{X: 0, Y: 0}, "#000000")
	s.Require().NoError(err)

	s.app.MockClock.Advance(5 * time.Second)
	rejected, err := c.Place(s.ctx, model.Coord{X: 1, Y: 0}, "#000000")
	s.Require().NoError(err)
	s.False(rejected.Accepted)
	s.Equal(15, rejected.RetryAfterSeconds)
	s.Require().NotNil(rejected.NextEligibleAt)

	status, err := c.Status(s.ctx)
	s.Require().NoError(err)
	s.False(status.CanPlace)
	s.Equal(15, status.RetryAfterSeconds)
}

func (s *ClientSuite) TestErrorsCarryCodes() {
	anon := client.New(s.server.URL, "")
	_, err := anon.Place(s.ctx, model.Coord{X: 0, Y: 0}, "#000000")
	var apiErr *client.APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(http.StatusUnauthorized, apiErr.Status)
	s.Equal("UNAUTHORIZED", apiErr.Code)

	c := s.guest("Carol")
	_, err = c.Place(s.ctx, model.Coord{X: 99, Y: 0}, "#000000")
	s.Require().ErrorAs(err, &apiErr)
	s.Equal("OUT_OF_BOUNDS", apiErr.Code)

	_, err = c.DeltasSince(s.ctx, 50)
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(http.StatusBadRequest, apiErr.Status)
}

func (s *ClientSuite) TestPalette() {
	c := s.guest("Dana")

	colors, err := c.Palette(s.ctx)
	s.Require().NoError(err)
	s.Empty(colors)

	colors, err = c.SavePalette(s.ctx, []string{"#abcdef", "#000000"})
	s.Require().NoError(err)
	s.Equal([]string{"#ABCDEF", "#000000"}, colors)

	colors, err = c.Palette(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"#ABCDEF", "#000000"}, colors)
}

func (s *ClientSuite) TestRegisterAndLogin() {
	c := client.New(s.server.URL, "")
	_, err := c.Register(s.ctx, "erin", "hunter22", "Erin")
	s.Require().NoError(err)

	other := client.New(s.server.URL, "")
	_, err = other.Login(s.ctx, "erin", "hunter22")
	s.Require().NoError(err)

	me, err := other.Me(s.ctx)
	s.Require().NoError(err)
	s.Equal("Erin", me.DisplayName)
	s.False(me.IsGuest)

	_, err = client.New(s.server.URL, "").Login(s.ctx, "erin", "wrong")
	var apiErr *client.APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(http.StatusUnauthorized, apiErr.Status)
}

func (s *ClientSuite) TestHealth() {
	health, err := client.New(s.server.URL, "").Health(s.ctx)
	s.Require().NoError(err)
	s.Equal("ok", health.Status)
}

// Two viewers that join at different times converge on the same grid
func (s *ClientSuite) TestViewersConverge() {
	writers := make([]*client.Client, 6)
	for i := range writers {
		writers[i] = s.guest("writer")
	}

	early := client.NewMirror()
	earlyStream := client.NewStream(client.New(s.server.URL, ""), early, s.app.MockClock, testutil.NopLogger(), client.DefaultStreamConfig())
	go func() { _ = earlyStream.Run(s.ctx) }()
	s.Require().Eventually(func() bool { return s.app.Hub.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i, w := range writers[:3] {
		_, err := w.Place(s.ctx, model.Coord{X: i, Y: i}, "#112233")
		s.Require().NoError(err)
	}

	late := client.NewMirror()
	lateStream := client.NewStream(client.New(s.server.URL, ""), late, s.app.MockClock, testutil.NopLogger(), client.DefaultStreamConfig())
	go func() { _ = lateStream.Run(s.ctx) }()

	for i, w := range writers[3:] {
		_, err := w.Place(s.ctx, model.Coord{X: 0, Y: 0}, []string{"#AA0000", "#00AA00", "#0000AA"}[i])
		s.Require().NoError(err)
	}

	s.Require().Eventually(func() bool {
		return early.Revision() == 6 && late.Revision() == 6
	}, 3*time.Second, 10*time.Millisecond)

	snap, err := writers[0].Snapshot(s.ctx)
	s.Require().NoError(err)
	s.Equal(snap.Cells, early.Snapshot().Cells)
	s.Equal(snap.Cells, late.Snapshot().Cells)

	c, ok := late.Cell(model.Coord{X: 0, Y: 0})
	s.Require().True(ok)
	s.Equal(model.Color("#0000AA"), c.Color)
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func TestAPIErrorMessage(t *testing.T) {
	err := &client.APIError{Status: 503, Code: "STORE_UNAVAILABLE", Message: "down"}
	assert.Equal(t, "down (STORE_UNAVAILABLE)", err.Error())

	err = &client.APIError{Status: 502, Message: "bad gateway"}
	require.Equal(t, "HTTP 502: bad gateway", err.Error())
}
