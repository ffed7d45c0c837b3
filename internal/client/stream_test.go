package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/pxcanvas/internal/api/response"
	"github.com/mcoot/pxcanvas/internal/dependencies/mocks"
	"github.com/mcoot/pxcanvas/internal/model"
	"github.com/mcoot/pxcanvas/internal/testutil"
)

// scriptedServer answers each connection to the event stream with the
// next script in order. The last script is repeated.
type scriptedServer struct {
	t       *testing.T
	scripts []func(w http.ResponseWriter, r *http.Request)
	conns   atomic.Int32
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(s.conns.Add(1)) - 1
	if n >= len(s.scripts) {
		n = len(s.scripts) - 1
	}
	s.scripts[n](w, r)
}

func writeEvent(t *testing.T, w http.ResponseWriter, event string, id int64, payload any) {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	_, _ = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, data)
	w.(http.Flusher).Flush()
}

func snapshotAt(rev int64, cells ...model.Cell) response.Canvas {
	snap := model.NewSnapshot(model.Dimensions{Width: 10, Height: 10}, rev)
	for _, c := range cells {
		snap.Cells[c.Coord] = c
	}
	return response.CanvasFromModel(snap)
}

func streamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "retry: 3000\n\n")
}

type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (l *updateLog) add(u Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]string, len(l.updates))
	for i, u := range l.updates {
		kinds[i] = u.Kind
	}
	return kinds
}

func runStream(t *testing.T, srv *scriptedServer, clk *mocks.MockClock, log *updateLog) (*Mirror, context.CancelFunc, <-chan error) {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	mirror := NewMirror()
	stream := NewStream(New(ts.URL, ""), mirror, clk, testutil.NopLogger(), StreamConfig{
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 300 * time.Millisecond,
		OnUpdate:   log.add,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()
	t.Cleanup(cancel)
	return mirror, cancel, done
}

func TestStreamResyncsFromFreshSnapshot(t *testing.T) {
	srv := &scriptedServer{t: t}
	srv.scripts = []func(http.ResponseWriter, *http.Request){
		func(w http.ResponseWriter, r *http.Request) {
			streamHeaders(w)
			writeEvent(t, w, "snapshot", 1, snapshotAt(1, delta(1, 0, 0, "#FF0000").Cell))
			writeEvent(t, w, "delta", 2, response.DeltaFromModel(delta(2, 1, 1, "#00FF00")))
			writeEvent(t, w, "resync", 2, map[string]string{"reason": "lagging"})
		},
		func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.URL.Query().Get("since"))
			streamHeaders(w)
			writeEvent(t, w, "snapshot", 5, snapshotAt(5,
				delta(3, 0, 0, "#0000FF").Cell,
				delta(5, 2, 2, "#FFFFFF").Cell,
			))
			<-r.Context().Done()
		},
	}
	clk := mocks.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	log := &updateLog{}

	mirror, cancel, done := runStream(t, srv, clk, log)

	require.Eventually(t, func() bool { return mirror.Revision() == 5 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}

	assert.Equal(t, []string{UpdateSnapshot, UpdateDelta, UpdateResync, UpdateSnapshot}, log.kinds())
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clk.Waits())

	// The old cell at 1,1 is gone; the fresh snapshot replaced everything
	_, ok := mirror.Cell(model.Coord{X: 1, Y: 1})
	assert.False(t, ok)
	c, ok := mirror.Cell(model.Coord{X: 0, Y: 0})
	require.True(t, ok)
	assert.Equal(t, model.Color("#0000FF"), c.Color)
}

func TestStreamBacksOffWhileUnavailable(t *testing.T) {
	unavailable := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprint(w, `{"error":{"code":"STORE_UNAVAILABLE","message":"down"}}`)
	}
	srv := &scriptedServer{t: t}
	srv.scripts = []func(http.ResponseWriter, *http.Request){
		unavailable, unavailable, unavailable, unavailable,
		func(w http.ResponseWriter, r *http.Request) {
			streamHeaders(w)
			writeEvent(t, w, "snapshot", 7, snapshotAt(7))
			<-r.Context().Done()
		},
	}
	clk := mocks.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	log := &updateLog{}

	mirror, cancel, done := runStream(t, srv, clk, log)

	require.Eventually(t, func() bool { return mirror.Revision() == 7 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, clk.Waits())
}

func TestStreamReconnectsOnMirrorGap(t *testing.T) {
	srv := &scriptedServer{t: t}
	srv.scripts = []func(http.ResponseWriter, *http.Request){
		func(w http.ResponseWriter, r *http.Request) {
			streamHeaders(w)
			// A delta before the snapshot is ignored
			writeEvent(t, w, "delta", 9, response.DeltaFromModel(delta(9, 4, 4, "#123456")))
			writeEvent(t, w, "snapshot", 2, snapshotAt(2))
			writeEvent(t, w, "delta", 4, response.DeltaFromModel(delta(4, 1, 1, "#00FF00")))
			<-r.Context().Done()
		},
		func(w http.ResponseWriter, r *http.Request) {
			streamHeaders(w)
			writeEvent(t, w, "snapshot", 4, snapshotAt(4, delta(4, 1, 1, "#00FF00").Cell))
			<-r.Context().Done()
		},
	}
	clk := mocks.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	log := &updateLog{}

	mirror, cancel, done := runStream(t, srv, clk, log)

	require.Eventually(t, func() bool { return mirror.Revision() == 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{UpdateSnapshot, UpdateResync, UpdateSnapshot}, log.kinds())
	assert.Equal(t, int32(2), srv.conns.Load())
	_, ok := mirror.Cell(model.Coord{X: 4, Y: 4})
	assert.False(t, ok)
}
