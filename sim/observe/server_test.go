package observe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandobusta/farm-concurrency/sim"
	"github.com/fernandobusta/farm-concurrency/sim/farm"
	"github.com/fernandobusta/farm-concurrency/sim/internal/testutil"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// newTestFarm builds the default farm with its clock running but no agents.
func newTestFarm(t *testing.T) *farm.Farm {
	t.Helper()
	cfg := sim.DefaultFarmConfig()
	cfg.Clock.TickDuration = time.Millisecond
	f, err := farm.New(cfg)
	require.NoError(t, err)
	f.Clock().Start()
	t.Cleanup(f.Clock().Shutdown)
	return f
}

func newTestServer(t *testing.T, f *farm.Farm) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(f, f.Clock(), "")
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestCollector_OneSeriesPerField(t *testing.T) {
	f := newTestFarm(t)
	c := NewCollector(f)

	assert.Equal(t, 5, promtest.CollectAndCount(c, "farm_field_stock"))
	assert.Equal(t, 5, promtest.CollectAndCount(c, "farm_depot_animals"))
	assert.Equal(t, 1, promtest.CollectAndCount(c, "farm_clock_tick"))
}

func TestServer_Metrics(t *testing.T) {
	// GIVEN a farm with five fields holding five animals each
	f := newTestFarm(t)
	_, ts := newTestServer(t, f)

	// WHEN /metrics is scraped
	code, body := get(t, ts.URL+"/metrics")

	// THEN field, depot and runtime series are exposed
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `farm_field_stock{species="pigs"} 5`)
	assert.Contains(t, body, `farm_field_capacity{species="cows"} 10`)
	assert.Contains(t, body, `farm_depot_animals{species="sheep"} 0`)
	assert.Contains(t, body, `farm_farmers{state="idle"} 3`)
	assert.Contains(t, body, "farm_deliveries_total 0")
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_Snapshot(t *testing.T) {
	f := newTestFarm(t)
	_, ts := newTestServer(t, f)

	code, body := get(t, ts.URL+"/snapshot")

	require.Equal(t, http.StatusOK, code)
	var s farm.Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &s))
	assert.Len(t, s.Fields, 5)
	assert.Len(t, s.Farmers, 3)
	assert.Len(t, s.Buyers, 3)
}

func TestServer_Snapshot_RejectsPost(t *testing.T) {
	f := newTestFarm(t)
	_, ts := newTestServer(t, f)

	resp, err := http.Post(ts.URL+"/snapshot", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_WebSocket_StreamsOneSnapshotPerTick(t *testing.T) {
	// GIVEN an observer on a running clock
	f := newTestFarm(t)
	s, ts := newTestServer(t, f)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	// WHEN a client connects and reads a few frames
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var last int64 = -1
	for i := 0; i < 4; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var snap farm.Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		// THEN every frame after the first is from a later tick
		if i > 0 {
			assert.Greater(t, snap.Elapsed, last)
		}
		last = snap.Elapsed
	}
	assert.Equal(t, int64(1), s.Sessions())

	// AND stopping the clock closes the stream normally
	f.Clock().Shutdown()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var snap farm.Snapshot
		if err = conn.ReadJSON(&snap); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Eventually(t, func() bool { return s.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_WebSocket_ClientGoingAwayEndsSession(t *testing.T) {
	f := newTestFarm(t)
	s, ts := newTestServer(t, f)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	var snap farm.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	require.Eventually(t, func() bool { return s.Sessions() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return s.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_Run_ServesUntilCancelled(t *testing.T) {
	// GIVEN an observer bound to a free port
	f := newTestFarm(t)
	s, err := NewServer(f, f.Clock(), "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 5*time.Millisecond)

	// WHEN it is queried and then cancelled
	code, body := get(t, "http://"+s.Addr()+"/healthz")
	cancel()

	// THEN it answered and shut down cleanly
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)
	assert.NoError(t, testutil.Receive(t, done, 5*time.Second, "observer shutdown"))
}

func TestServer_Run_ListenFailure(t *testing.T) {
	f := newTestFarm(t)
	s, err := NewServer(f, f.Clock(), "256.0.0.1:99999")
	require.NoError(t, err)

	err = s.Run(context.Background())

	assert.Error(t, err)
}

func TestServer_AsFarmService(t *testing.T) {
	// GIVEN a short farm run with the observer as a service
	cfg := sim.DefaultFarmConfig()
	cfg.Clock.TickDuration = 200 * time.Microsecond
	cfg.Duration = 150 * time.Millisecond
	var s *Server
	f, err := farm.New(cfg, farm.WithService("observer", func(ctx context.Context) error { return s.Run(ctx) }))
	require.NoError(t, err)
	s, err = NewServer(f, f.Clock(), "127.0.0.1:0")
	require.NoError(t, err)

	// WHEN the farm runs to completion
	summary, err := f.Run(context.Background())

	// THEN the observer stopped with it
	require.NoError(t, err)
	assert.Zero(t, summary.Unaccounted())
}

// stepTicks is a tick source advanced by hand: each value sent on step
// releases one AwaitNextTick, a closed channel stops the clock.
type stepTicks struct {
	step chan struct{}
}

func (s *stepTicks) CurrentTick() int64 { return 0 }
func (s *stepTicks) Elapsed() int64     { return 0 }

func (s *stepTicks) AwaitNextTick(ctx context.Context) error {
	select {
	case _, ok := <-s.step:
		if !ok {
			return sim.ErrClockStopped
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stepTicks) AwaitTicks(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := s.AwaitNextTick(ctx); err != nil {
			return err
		}
	}
	return nil
}

// countingSource returns a snapshot whose Elapsed counts the reads.
type countingSource struct {
	reads atomic.Int64
}

func (c *countingSource) Snapshot() farm.Snapshot {
	return farm.Snapshot{Elapsed: c.reads.Add(1)}
}

func TestServer_WebSocket_PacedByAnyTickSource(t *testing.T) {
	// GIVEN an observer paced by a hand-driven tick source
	ticks := &stepTicks{step: make(chan struct{})}
	src := &countingSource{}
	s, err := NewServer(src, ticks, "")
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// WHEN the source ticks twice and then stops
	var snap farm.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, int64(1), snap.Elapsed)
	for want := int64(2); want <= 3; want++ {
		ticks.step <- struct{}{}
		require.NoError(t, conn.ReadJSON(&snap))
		assert.Equal(t, want, snap.Elapsed)
	}
	close(ticks.step)

	// THEN one frame arrived per tick and the stream closed with the clock
	err = conn.ReadJSON(&snap)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
