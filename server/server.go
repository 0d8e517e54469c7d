// Package server exposes a running simulation over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pthm-cable/meadow/persistence/indexdb"
	"github.com/pthm-cable/meadow/sim"
	"github.com/pthm-cable/meadow/telemetry"
)

const (
	minTickInterval = time.Millisecond
	maxTickInterval = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	TickInterval      time.Duration // wall time per tick at 1x speed
	BroadcastInterval time.Duration
	Index             *indexdb.SQLiteIndex // optional episode history
	StartPaused       bool
}

// Server owns the stepping loop of a simulation and serializes access to it.
type Server struct {
	mu  sync.Mutex // guards sim
	sim *sim.Simulation

	index *indexdb.SQLiteIndex
	hub   *Hub

	baseInterval      time.Duration
	broadcastInterval time.Duration

	ctlMu  sync.RWMutex
	speed  float64
	paused bool

	speedCh chan struct{}
}

// New wraps s. The caller keeps ownership of s and of the index.
func New(s *sim.Simulation, opts Options) *Server {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 20 * time.Millisecond
	}
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = 250 * time.Millisecond
	}
	return &Server{
		sim:               s,
		index:             opts.Index,
		hub:               NewHub(),
		baseInterval:      opts.TickInterval,
		broadcastInterval: opts.BroadcastInterval,
		speed:             1,
		paused:            opts.StartPaused,
		speedCh:           make(chan struct{}, 1),
	}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Paused reports whether stepping is paused.
func (s *Server) Paused() bool {
	s.ctlMu.RLock()
	defer s.ctlMu.RUnlock()
	return s.paused
}

// Speed returns the current speed multiplier.
func (s *Server) Speed() float64 {
	s.ctlMu.RLock()
	defer s.ctlMu.RUnlock()
	return s.speed
}

// TogglePause flips the pause state and returns the new value.
func (s *Server) TogglePause() bool {
	s.ctlMu.Lock()
	s.paused = !s.paused
	p := s.paused
	s.ctlMu.Unlock()
	slog.Info("pause_toggled", "paused", p)
	return p
}

// SetSpeed changes the speed multiplier. Non-positive values are rejected.
func (s *Server) SetSpeed(speed float64) bool {
	if speed <= 0 {
		return false
	}
	s.ctlMu.Lock()
	s.speed = speed
	s.ctlMu.Unlock()

	select {
	case s.speedCh <- struct{}{}:
	default:
	}
	slog.Info("speed_changed", "speed", speed, "interval", s.tickInterval())
	return true
}

func (s *Server) tickInterval() time.Duration {
	d := time.Duration(float64(s.baseInterval) / s.Speed())
	if d < minTickInterval {
		d = minTickInterval
	} else if d > maxTickInterval {
		d = maxTickInterval
	}
	return d
}

// Step advances the simulation by n ticks regardless of the pause state.
func (s *Server) Step(n int) State {
	s.mu.Lock()
	for i := 0; i < n; i++ {
		s.sim.Step()
	}
	s.mu.Unlock()
	return s.State()
}

// Reset ends the current episode and starts the next one.
func (s *Server) Reset() telemetry.EpisodeSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.Reset()
}

// Run steps the simulation and broadcasts state until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	step := time.NewTicker(s.tickInterval())
	bcast := time.NewTicker(s.broadcastInterval)
	defer func() {
		step.Stop()
		bcast.Stop()
		s.hub.CloseAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.speedCh:
			step.Reset(s.tickInterval())
		case <-step.C:
			if s.Paused() {
				continue
			}
			s.mu.Lock()
			s.sim.Step()
			s.mu.Unlock()
		case <-bcast.C:
			if s.hub.Len() > 0 {
				s.hub.Broadcast(s.State())
			}
		}
	}
}

// ListenAndServe serves the router on addr and runs the stepping loop until
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		cancel()
	}()

	runErr := s.Run(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server_shutdown_failed", "error", err)
	}

	select {
	case err := <-errCh:
		return err
	default:
		return runErr
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/windows", s.handleWindows)
	api.GET("/perf", s.handlePerf)
	api.GET("/agents", s.handleAgents)
	api.GET("/grid/:manager", s.handleGrid)
	api.GET("/episodes", s.handleEpisodes)
	api.GET("/snapshot", s.handleSnapshot)
	api.POST("/pause", s.handlePause)
	api.POST("/speed", s.handleSpeed)
	api.POST("/step", s.handleStep)
	api.POST("/reset", s.handleReset)

	r.GET("/ws", s.handleWebsocket)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
