package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pthm-cable/meadow/pool"
	"github.com/pthm-cable/meadow/telemetry"
)

// State is the live summary pushed to websocket clients and served at /api/stats.
type State struct {
	Type     string          `json:"type"`
	RunID    string          `json:"run_id"`
	Tick     int64           `json:"tick"`
	Episode  int             `json:"episode"`
	Steps    int64           `json:"steps"`
	Paused   bool            `json:"paused"`
	Speed    float64         `json:"speed"`
	Managers []ManagerStatus `json:"managers"`
}

// ManagerStatus summarizes one population.
type ManagerStatus struct {
	Name                string  `json:"name"`
	Class               string  `json:"class"`
	Static              bool    `json:"static"`
	Disabled            bool    `json:"disabled"`
	Active              int     `json:"active"`
	Free                int     `json:"free"`
	Replications        int     `json:"replications"`
	Expirations         int     `json:"expirations"`
	MeanAge             float64 `json:"mean_age"`
	ReplicationFraction float64 `json:"replication_fraction"`
}

// GridView is the occupancy of one manager's cover grid.
type GridView struct {
	Manager   string                `json:"manager"`
	Size      int                   `json:"size"`
	Seed      int64                 `json:"seed"`
	Available int                   `json:"available"`
	Occupied  int                   `json:"occupied"`
	Cells     []telemetry.CellState `json:"cells"`
	Noise     []float64             `json:"noise,omitempty"`
}

// State captures the current simulation state.
func (s *Server) State() State {
	paused, speed := s.Paused(), s.Speed()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Type:    "state",
		RunID:   s.sim.RunID(),
		Tick:    s.sim.Tick(),
		Episode: s.sim.Episode(),
		Steps:   s.sim.Tick() - s.sim.EpisodeStart(),
		Paused:  paused,
		Speed:   speed,
	}
	for _, m := range s.sim.Managers() {
		ms := ManagerStatus{
			Name:     m.Name(),
			Class:    m.Class(),
			Static:   m.IsStatic(),
			Disabled: m.Disabled(),
		}
		if !m.Disabled() {
			ms.Active = m.ActiveCount()
			ms.Free = m.Pool().FreeCount()
			ms.Replications = m.Replications()
			ms.Expirations = m.Expirations()
			ms.MeanAge = m.MeanAge()
			ms.ReplicationFraction = m.ReplicationFraction()
		}
		st.Managers = append(st.Managers, ms)
	}
	return st
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.State())
}

func (s *Server) handleWindows(c *gin.Context) {
	s.mu.Lock()
	stats := s.sim.LastStats()
	s.mu.Unlock()
	if stats == nil {
		stats = []telemetry.WindowStats{}
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handlePerf(c *gin.Context) {
	s.mu.Lock()
	perf := s.sim.PerfStats().ToCSV(s.sim.Tick())
	s.mu.Unlock()
	c.JSON(http.StatusOK, perf)
}

func (s *Server) handleAgents(c *gin.Context) {
	name := c.Query("manager")

	s.mu.Lock()
	defer s.mu.Unlock()

	if name != "" {
		if _, ok := s.sim.Manager(name); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown manager"})
			return
		}
	}
	agents := []pool.Record{}
	for _, r := range s.sim.Records() {
		if name == "" || r.Manager == name {
			agents = append(agents, r)
		}
	}
	c.JSON(http.StatusOK, agents)
}

func (s *Server) handleGrid(c *gin.Context) {
	name := c.Param("manager")
	withNoise := c.Query("noise") == "1"

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.sim.Manager(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown manager"})
		return
	}
	g := m.Grid()
	if g == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "manager has no cover grid"})
		return
	}

	view := GridView{
		Manager:   name,
		Size:      g.Size(),
		Seed:      g.Seed(),
		Available: g.Available(),
		Occupied:  g.Occupied(),
		Cells:     []telemetry.CellState{},
	}
	for i, id := range g.Occupants() {
		if id != "" {
			view.Cells = append(view.Cells, telemetry.CellState{X: i % view.Size, Y: i / view.Size, ID: id})
		}
	}
	if withNoise {
		view.Noise = g.Noise()
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleEpisodes(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	if s.index != nil {
		s.mu.Lock()
		runID := s.sim.RunID()
		s.mu.Unlock()
		eps, err := s.index.Episodes(c.Request.Context(), runID, limit)
		if err != nil {
			slog.Error("episode_query_failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if eps == nil {
			eps = []telemetry.EpisodeSummary{}
		}
		c.JSON(http.StatusOK, eps)
		return
	}

	s.mu.Lock()
	eps := s.sim.Summaries()
	s.mu.Unlock()
	if limit > 0 && len(eps) > limit {
		eps = eps[len(eps)-limit:]
	}
	if eps == nil {
		eps = []telemetry.EpisodeSummary{}
	}
	c.JSON(http.StatusOK, eps)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	s.mu.Lock()
	snap := s.sim.Snapshot()
	s.mu.Unlock()
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handlePause(c *gin.Context) {
	s.TogglePause()
	st := s.State()
	s.hub.Broadcast(st)
	c.JSON(http.StatusOK, st)
}

type speedRequest struct {
	Multiplier float64 `json:"multiplier"`
}

func (s *Server) handleSpeed(c *gin.Context) {
	var req speedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.SetSpeed(req.Multiplier) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multiplier must be positive"})
		return
	}
	c.JSON(http.StatusOK, s.State())
}

const maxStepsPerRequest = 100000

func (s *Server) handleStep(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "1"))
	if err != nil || n < 1 || n > maxStepsPerRequest {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be between 1 and 100000"})
		return
	}
	c.JSON(http.StatusOK, s.Step(n))
}

func (s *Server) handleReset(c *gin.Context) {
	summary := s.Reset()
	s.hub.Broadcast(s.State())
	c.JSON(http.StatusOK, summary)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientAction is an inbound websocket command.
type clientAction struct {
	Action     string  `json:"action"`
	Multiplier float64 `json:"multiplier"`
	Steps      int     `json:"steps"`
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("ws_upgrade_failed", "error", err)
		return
	}
	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	if err := s.hub.Send(conn, s.State()); err != nil {
		slog.Debug("ws_initial_send_failed", "error", err)
		return
	}

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var a clientAction
		if err := json.Unmarshal(msg, &a); err != nil {
			slog.Debug("ws_bad_message", "error", err)
			continue
		}

		switch a.Action {
		case "toggle_pause":
			s.TogglePause()
			s.hub.Broadcast(s.State())
		case "set_speed":
			if s.SetSpeed(a.Multiplier) {
				s.hub.Broadcast(s.State())
			}
		case "step":
			if a.Steps < 1 {
				a.Steps = 1
			}
			if a.Steps > maxStepsPerRequest {
				a.Steps = maxStepsPerRequest
			}
			s.hub.Broadcast(s.Step(a.Steps))
		case "reset":
			summary := s.Reset()
			s.hub.Broadcast(struct {
				Type    string                   `json:"type"`
				Summary telemetry.EpisodeSummary `json:"summary"`
			}{"episode_end", summary})
			s.hub.Broadcast(s.State())
		case "state":
			_ = s.hub.Send(conn, s.State())
		}
	}
}
