package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run ID is not in the store.
var ErrRunNotFound = errors.New("journal: run not found")

// Store is a SQLite database of runs and their events.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("journal: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes writes anyway.
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
	return &Store{db: db}, nil
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
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			seed INTEGER NOT NULL,
			config_json TEXT NOT NULL,
			summary_json TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL REFERENCES runs(id),
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			elapsed INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			agent TEXT NOT NULL,
			species TEXT NOT NULL,
			amount INTEGER NOT NULL,
			wait INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_kind ON events(run_id, kind);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// RunInfo describes a run when it begins.
type RunInfo struct {
	Seed      int64
	Config    any // stored as JSON
	StartedAt time.Time
}

// BeginRun inserts a run row with a fresh ID and returns a recorder for its events.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (*RunRecorder, error) {
	cfg, err := json.Marshal(info.Config)
	if err != nil {
		return nil, fmt.Errorf("journal: encode run config: %w", err)
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, seed, config_json) VALUES(?,?,?,?)`,
		id, info.StartedAt.UTC().Format(time.RFC3339Nano), info.Seed, string(cfg)); err != nil {
		return nil, fmt.Errorf("journal: insert run: %w", err)
	}

	r := &RunRecorder{
		store: s,
		id:    id,
		ch:    make(chan Event, 4096),
	}
	r.Emitter = r.enqueue
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
	logrus.Debugf("journal: run %s started", id)
	return r, nil
}

// RunRecorder streams one run's events into the store from a single writer
// goroutine. Recording blocks only while the buffer is full.
type RunRecorder struct {
	Emitter

	store *Store
	id    string

	mu     sync.RWMutex // guards ch against send-after-close
	ch     chan Event
	closed bool
	wg     sync.WaitGroup
	once   sync.Once

	written atomic.Int64
	failed  atomic.Int64
}

func (r *RunRecorder) ID() string { return r.id }

// Written returns how many events reached the database.
func (r *RunRecorder) Written() int64 { return r.written.Load() }

func (r *RunRecorder) enqueue(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.ch <- e
}

// Finish drains pending events and stores the summary and end time.
// Calling it again is a no-op.
func (r *RunRecorder) Finish(ctx context.Context, summary any) error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
		r.wg.Wait()

		b, merr := json.Marshal(summary)
		if merr != nil {
			err = fmt.Errorf("journal: encode summary: %w", merr)
			return
		}
		_, err = r.store.db.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, summary_json = ? WHERE id = ?`,
			time.Now().UTC().Format(time.RFC3339Nano), string(b), r.id)
		if err == nil && r.failed.Load() > 0 {
			err = fmt.Errorf("journal: %d events of run %s could not be stored", r.failed.Load(), r.id)
		}
		logrus.Debugf("journal: run %s finished with %d events", r.id, r.written.Load())
	})
	return err
}

func (r *RunRecorder) loop() {
	const commitEvery = 500

	var (
		tx      *sql.Tx
		stmt    *sql.Stmt
		pending int
		seq     int64
	)
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			logrus.WithError(err).Warn("journal: commit failed")
			r.failed.Add(int64(pending))
		} else {
			r.written.Add(int64(pending))
		}
		tx, stmt, pending = nil, nil, 0
	}

	for {
		var e Event
		var ok bool
		if tx == nil {
			e, ok = <-r.ch
		} else {
			select {
			case e, ok = <-r.ch:
			default:
				// Idle: commit what we have before blocking.
				commit()
				continue
			}
		}
		if !ok {
			commit()
			return
		}

		if tx == nil {
			var err error
			if tx, err = r.store.db.Begin(); err != nil {
				logrus.WithError(err).Warn("journal: begin failed")
				r.failed.Add(1)
				tx = nil
				continue
			}
			if stmt, err = tx.Prepare(`INSERT INTO events(run_id, seq, kind, elapsed, tick, agent, species, amount, wait, raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`); err != nil {
				logrus.WithError(err).Warn("journal: prepare failed")
				_ = tx.Rollback()
				r.failed.Add(1)
				tx = nil
				continue
			}
		}
		seq++
		if _, err := stmt.Exec(r.id, seq, e.Kind, e.Elapsed, e.Tick, e.Agent, e.Species, e.Amount, e.Wait, string(e.Data)); err != nil {
			r.failed.Add(1)
			continue
		}
		pending++
		if pending >= commitEvery {
			commit()
		}
	}
}

// RunRow is one stored run.
type RunRow struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while unfinished
	Seed       int64
	Events     int64
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, COALESCE(r.finished_at, ''), r.seed,
		       (SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)
		FROM runs r ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var row RunRow
		var started, finished string
		if err := rows.Scan(&row.ID, &started, &finished, &row.Seed, &row.Events); err != nil {
			return nil, err
		}
		row.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished != "" {
			row.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LatestRun returns the ID of the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return id, err
}

// KindTotals counts one event kind.
type KindTotals struct {
	Events int64 `json:"events"`
	Amount int64 `json:"amount"`
}

// RunSummary aggregates a stored run.
type RunSummary struct {
	ID                 string                `json:"id"`
	Seed               int64                 `json:"seed"`
	Kinds              map[string]KindTotals `json:"kinds"`
	PurchasedBySpecies map[string]int64      `json:"purchased_by_species"`
	MeanWaitTicks      float64               `json:"mean_wait_ticks"`
	MaxWaitTicks       int64                 `json:"max_wait_ticks"`
	LastElapsed        int64                 `json:"last_elapsed"`
	SummaryJSON        string                `json:"-"`
}

// Summarize reads a run back and aggregates its events.
func (s *Store) Summarize(ctx context.Context, runID string) (RunSummary, error) {
	out := RunSummary{
		ID:                 runID,
		Kinds:              make(map[string]KindTotals),
		PurchasedBySpecies: make(map[string]int64),
	}
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT seed, summary_json FROM runs WHERE id = ?`, runID).Scan(&out.Seed, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return out, err
	}
	out.SummaryJSON = summary.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*), SUM(amount) FROM events WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return out, err
	}
	for rows.Next() {
		var kind string
		var kt KindTotals
		if err := rows.Scan(&kind, &kt.Events, &kt.Amount); err != nil {
			rows.Close()
			return out, err
		}
		out.Kinds[kind] = kt
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT species, COUNT(*) FROM events WHERE run_id = ? AND kind = ? GROUP BY species`, runID, KindPurchase)
	if err != nil {
		return out, err
	}
	for rows.Next() {
		var species string
		var n int64
		if err := rows.Scan(&species, &n); err != nil {
			rows.Close()
			return out, err
		}
		out.PurchasedBySpecies[species] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(CASE WHEN kind = ? THEN wait END), 0),
		       COALESCE(MAX(CASE WHEN kind = ? THEN wait END), 0),
		       COALESCE(MAX(elapsed), 0)
		FROM events WHERE run_id = ?`, KindPurchase, KindPurchase, runID).
		Scan(&out.MeanWaitTicks, &out.MaxWaitTicks, &out.LastElapsed)
	return out, err
}
