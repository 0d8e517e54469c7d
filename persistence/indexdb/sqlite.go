// Package indexdb keeps a queryable SQLite index of runs and finished episodes.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pthm-cable/meadow/telemetry"
)

// Run describes one simulation run.
type Run struct {
	RunID     string
	Seed      int64
	Config    string
	StartedAt time.Time
}

// SQLiteIndex writes asynchronously from a single goroutine. Writes are
// dropped when the queue is full so the simulation never stalls on disk.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqEpisode
)

type req struct {
	kind    reqKind
	run     Run
	episode telemetry.EpisodeSummary
	at      time.Time
}

const (
	queueSize   = 4096
	commitEvery = 256
)

// OpenSQLite opens (or creates) the index at path.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			config TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			run_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			start_tick INTEGER NOT NULL,
			end_tick INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			reason TEXT NOT NULL,
			grid_seed INTEGER NOT NULL,
			spawns INTEGER NOT NULL,
			expirations INTEGER NOT NULL,
			replications INTEGER NOT NULL,
			placement_failures INTEGER NOT NULL,
			pool_exhausted INTEGER NOT NULL,
			exchanges INTEGER NOT NULL,
			energy_transferred REAL NOT NULL,
			mean_lifespan_ticks REAL NOT NULL,
			survivors INTEGER NOT NULL,
			dynamic_survivors INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, episode)
		);`,
		`CREATE INDEX IF NOT EXISTS episodes_reason ON episodes(reason);`,
	}
	for _, st := range stmts {
		if _, err := db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued writes and closes the database.
func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped returns how many writes were discarded because the queue was full.
func (s *SQLiteIndex) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// RecordRun queues a run row.
func (s *SQLiteIndex) RecordRun(runID string, seed int64, config string) {
	if runID == "" {
		return
	}
	s.enqueue(req{kind: reqRun, run: Run{RunID: runID, Seed: seed, Config: config, StartedAt: time.Now().UTC()}})
}

// RecordEpisode queues an episode summary. It has the signature of
// sim.Options.EpisodeCallback.
func (s *SQLiteIndex) RecordEpisode(e telemetry.EpisodeSummary) {
	s.enqueue(req{kind: reqEpisode, episode: e, at: time.Now().UTC()})
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,seed,config,started_at) VALUES(?,?,?,?)`)
	insertEpisode, _ := s.db.Prepare(`INSERT OR REPLACE INTO episodes(
		run_id,episode,start_tick,end_tick,steps,reason,grid_seed,
		spawns,expirations,replications,placement_failures,pool_exhausted,
		exchanges,energy_transferred,mean_lifespan_ticks,survivors,dynamic_survivors,recorded_at
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertRun != nil {
			_ = insertRun.Close()
		}
		if insertEpisode != nil {
			_ = insertEpisode.Close()
		}
	}()

	var (
		tx      *sql.Tx
		opCount int
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Warn("index_begin_failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			slog.Warn("index_commit_failed", "error", err)
		}
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.dropped.Add(1)
			continue
		}

		var err error
		switch r.kind {
		case reqRun:
			if insertRun == nil {
				break
			}
			_, err = tx.Stmt(insertRun).Exec(
				r.run.RunID, r.run.Seed, r.run.Config, r.run.StartedAt.Format(time.RFC3339Nano),
			)
		case reqEpisode:
			if insertEpisode == nil {
				break
			}
			e := r.episode
			_, err = tx.Stmt(insertEpisode).Exec(
				e.RunID, e.Episode, e.StartTick, e.EndTick, e.Steps, e.Reason, e.GridSeed,
				e.Spawns, e.Expirations, e.Replications, e.PlacementFailures, e.PoolExhausted,
				e.Exchanges, e.EnergyTransferred, e.MeanLifespanTicks, e.Survivors, e.DynamicSurvivors,
				r.at.Format(time.RFC3339Nano),
			)
		}
		if err != nil {
			slog.Warn("index_write_failed", "kind", r.kind, "error", err)
			rollback()
			continue
		}
		opCount++

		// Commit once the queue drains so readers never wait on an idle tx.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

// Runs returns every recorded run, oldest first.
func (s *SQLiteIndex) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,seed,config,started_at FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r  Run
			at string
		)
		if err := rows.Scan(&r.RunID, &r.Seed, &r.Config, &at); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Episodes returns the summaries recorded for runID in episode order.
// A positive limit keeps only the latest limit episodes; zero returns all.
func (s *SQLiteIndex) Episodes(ctx context.Context, runID string, limit int) ([]telemetry.EpisodeSummary, error) {
	q := `SELECT run_id,episode,start_tick,end_tick,steps,reason,grid_seed,
		spawns,expirations,replications,placement_failures,pool_exhausted,
		exchanges,energy_transferred,mean_lifespan_ticks,survivors,dynamic_survivors
		FROM episodes WHERE run_id = ?`
	args := []any{runID}
	if limit > 0 {
		q = `SELECT * FROM (` + q + ` ORDER BY episode DESC LIMIT ?) ORDER BY episode`
		args = append(args, limit)
	} else {
		q += ` ORDER BY episode`
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.EpisodeSummary
	for rows.Next() {
		var e telemetry.EpisodeSummary
		if err := rows.Scan(
			&e.RunID, &e.Episode, &e.StartTick, &e.EndTick, &e.Steps, &e.Reason, &e.GridSeed,
			&e.Spawns, &e.Expirations, &e.Replications, &e.PlacementFailures, &e.PoolExhausted,
			&e.Exchanges, &e.EnergyTransferred, &e.MeanLifespanTicks, &e.Survivors, &e.DynamicSurvivors,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReasonCounts returns how many episodes of runID ended for each reason.
func (s *SQLiteIndex) ReasonCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reason, COUNT(*) FROM episodes WHERE run_id = ? GROUP BY reason`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			reason string
			n      int
		)
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		out[reason] = n
	}
	return out, rows.Err()
}
