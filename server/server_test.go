package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/persistence/indexdb"
	"github.com/pthm-cable/meadow/pool"
	"github.com/pthm-cable/meadow/sim"
	"github.com/pthm-cable/meadow/systems"
	"github.com/pthm-cable/meadow/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	cfg := config.Defaults().Clone()
	cfg.Cover.SpawnThreshold = -1
	cfg.Cover.SpawnLowerBound = 0
	cfg.Cover.SpawnUpperBound = 1
	cfg.Managers = []config.ManagerConfig{
		{Name: "flowers", Preset: "flower", Initial: 10, PoolSize: 20},
		{Name: "voles", Preset: "vole", Initial: 4, PoolSize: 8},
	}
	require.NoError(t, cfg.Recompute())

	s, err := sim.New(sim.Options{
		Seed:   7,
		Config: cfg,
		Policy: sim.PolicyFunc(func(sim.Observation) systems.Action { return systems.ActionNone }),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, opts)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})
	r := srv.Router()

	var st State
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/api/stats", nil, &st))
	assert.Equal(t, "state", st.Type)
	assert.Equal(t, 1, st.Episode)
	assert.Equal(t, int64(0), st.Tick)
	assert.Equal(t, 1.0, st.Speed)
	require.Len(t, st.Managers, 2)
	assert.Equal(t, "flowers", st.Managers[0].Name)
	assert.True(t, st.Managers[0].Static)
	assert.Equal(t, 10, st.Managers[0].Active)
	assert.Equal(t, 10, st.Managers[0].Free)
	assert.Equal(t, 4, st.Managers[1].Active)
}

func TestStepAndAgents(t *testing.T) {
	srv := newTestServer(t, Options{})
	r := srv.Router()

	var st State
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/api/step?n=5", nil, &st))
	assert.Equal(t, int64(5), st.Tick)
	assert.Equal(t, int64(5), st.Steps)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, r, http.MethodPost, "/api/step?n=0", nil, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, r, http.MethodPost, "/api/step?n=abc", nil, nil))

	active := 0
	for _, m := range st.Managers {
		active += m.Active
	}
	var all []pool.Record
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/api/agents", nil, &all))
	assert.Len(t, all, active)

	var voles []pool.Record
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/api/agents?manager=voles", nil, &voles))
	require.Len(t, voles, st.Managers[1].Active)
	for _, v := range voles {
		assert.Equal(t, "voles", v.Manager)
		assert.Equal(t, "vole", v.Class)
	}

	assert.Equal(t, http.StatusNotFound, doJSON(t, r, http.MethodGet, "/api/agents?manager=badgers", nil, nil))
}

func TestGridEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})
	r := srv.Router()

	var g GridView
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/api/grid/flowers?noise=1", nil, &g))
	assert.Equal(t, 30, g.Size)
	assert.Equal(t, 10, g.Occupied)
	assert.Len(t, g.Cells, 10)
	assert.Equal(t, 30*30-10, g.Available)
	assert.Len(t, g.Noise, 30*30)

	seen := map[[2]int]bool{}
	for _, c := range g.Cells {
		key := [2]int{c.X, c.Y}
		assert.False(t, seen[key], "cell %v occupied twice", key)
		seen[key] = true
		assert.NotEmpty(t, c.ID)
	}

	assert.Equal(t, http.StatusNotFound, doJSON(t, r, http.MethodGet, "/api/grid/voles", nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, r, http.MethodGet, "/api/grid/nope", nil, nil))
}

func TestPauseAndSpeed(t *testing.T) {
	srv := newTestServer(t, Options{})
	r := srv.Router()

	var st State
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/api/pause", nil, &st))
	assert.True(t, st.Paused)
	assert.True(t, srv.Paused())

	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/api/speed", speedRequest{Multiplier: 4}, &st))
	assert.Equal(t, 4.0, st.Speed)
	assert.Equal(t, 5*time.Millisecond, srv.tickInterval())

	assert.Equal(t, http.StatusBadRequest, doJSON(t, r, http.MethodPost, "/api/speed", speedRequest{Multiplier: -1}, nil))
	assert.Equal(t, 4.0, srv.Speed())

	srv.SetSpeed(1e-6)
	assert.Equal(t, maxTickInterval, srv.tickInterval())
	srv.SetSpeed(1e6)
	assert.Equal(t, minTickInterval, srv.tickInterval())
}

func TestResetAndEpisodes(t *testing.T) {
	srv := newTestServer(t, Options{})
	r := srv.Router()

	var eps []telemetry.EpisodeSummary
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/api/episodes", nil, &eps))
	assert.Empty(t, eps)

	doJSON(t, r, http.MethodPost, "/api/step?n=3", nil, nil)
	var sum telemetry.EpisodeSummary
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/api/reset", nil, &sum))
	assert.Equal(t, telemetry.ReasonReset, sum.Reason)
	assert.Equal(t, 1, sum.Episode)
	assert.Equal(t, int64(3), sum.Steps)

	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/api/episodes", nil, &eps))
	require.Len(t, eps, 1)
	assert.Equal(t, telemetry.ReasonReset, eps[0].Reason)

	var st State
	doJSON(t, r, http.MethodGet, "/api/stats", nil, &st)
	assert.Equal(t, 2, st.Episode)
	assert.Equal(t, int64(0), st.Steps)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, r, http.MethodGet, "/api/episodes?limit=-2", nil, nil))
}

func TestEpisodesLimitKeepsLatest(t *testing.T) {
	srv := newTestServer(t, Options{})
	r := srv.Router()

	for i := 0; i < 3; i++ {
		doJSON(t, r, http.MethodPost, "/api/step?n=2", nil, nil)
		require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/api/reset", nil, nil))
	}

	var eps []telemetry.EpisodeSummary
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/api/episodes?limit=2", nil, &eps))
	require.Len(t, eps, 2)
	assert.Equal(t, 2, eps[0].Episode)
	assert.Equal(t, 3, eps[1].Episode)
}

func TestEpisodesFromIndex(t *testing.T) {
	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	srv := newTestServer(t, Options{Index: idx})
	runID := srv.sim.RunID()
	idx.RecordEpisode(telemetry.EpisodeSummary{RunID: runID, Episode: 1, Reason: telemetry.ReasonExtinction})
	idx.RecordEpisode(telemetry.EpisodeSummary{RunID: "other", Episode: 1, Reason: telemetry.ReasonReset})

	r := srv.Router()
	require.Eventually(t, func() bool {
		var eps []telemetry.EpisodeSummary
		if doJSON(t, r, http.MethodGet, "/api/episodes", nil, &eps) != http.StatusOK {
			return false
		}
		return len(eps) == 1 && eps[0].Reason == telemetry.ReasonExtinction
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})
	var snap telemetry.Snapshot
	require.Equal(t, http.StatusOK, doJSON(t, srv.Router(), http.MethodGet, "/api/snapshot", nil, &snap))
	assert.Equal(t, telemetry.SnapshotVersion, snap.Version)
	assert.Len(t, snap.Managers, 2)
	assert.Len(t, snap.Agents, 14)
}

func TestWebsocket(t *testing.T) {
	srv := newTestServer(t, Options{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var st State
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, "state", st.Type)
	assert.False(t, st.Paused)
	assert.Equal(t, 1, srv.Hub().Len())

	require.NoError(t, conn.WriteJSON(clientAction{Action: "toggle_pause"}))
	require.NoError(t, conn.ReadJSON(&st))
	assert.True(t, st.Paused)

	require.NoError(t, conn.WriteJSON(clientAction{Action: "step", Steps: 3}))
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, int64(3), st.Tick)

	require.NoError(t, conn.WriteJSON(clientAction{Action: "set_speed", Multiplier: 2}))
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, 2.0, st.Speed)
}

func TestRunStepsUntilCancelled(t *testing.T) {
	srv := newTestServer(t, Options{TickInterval: time.Millisecond, BroadcastInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.State().Tick >= 5 }, 5*time.Second, 5*time.Millisecond)

	srv.TogglePause()
	time.Sleep(20 * time.Millisecond)
	paused := srv.State().Tick
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, paused, srv.State().Tick)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
