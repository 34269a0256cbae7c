package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/UngaBanana9000/CPRbai/internal/sim/cycle"
	"github.com/UngaBanana9000/CPRbai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary copy of the cycle log. Writes are
// queued and applied by one goroutine; the JSONL log stays the source of
// truth, so a full queue drops entries instead of stalling the run.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan cycle.LogEntry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTotal    atomic.Uint64
	writeFailure atomic.Uint64
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropTotal     uint64
	WriteFailures uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
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
		ch: make(chan cycle.LogEntry, queue),
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cycles (
			cycle INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			resources INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			events INTEGER NOT NULL,
			scores_json TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			cycle INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			agent INTEGER NOT NULL,
			partner INTEGER NOT NULL,
			team INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			reason TEXT,
			PRIMARY KEY (cycle, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_cycle ON events(kind, cycle);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent_cycle ON events(agent, cycle);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordCycle queues e for indexing.
func (s *SQLiteIndex) RecordCycle(e cycle.LogEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropTotal.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropTotal.Load(),
		WriteFailures: s.writeFailure.Load(),
	}
}

// PutRun stores the run id and the tuning the run applies.
func (s *SQLiteIndex) PutRun(runID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows := [][2]string{
		{"schema_version", "1"},
		{"run_id", runID},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
	}
	for _, r := range rows {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// Digest returns the stored digest of cycle c, or "" if it is not indexed.
func (s *SQLiteIndex) Digest(ctx context.Context, c uint64) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM cycles WHERE cycle=?`, int64(c)).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return d, err
}

// EventCounts tallies indexed events by kind.
func (s *SQLiteIndex) EventCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// AgentEvents returns the kinds of events agent took part in, oldest first.
func (s *SQLiteIndex) AgentEvents(ctx context.Context, agent int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind FROM events WHERE agent=? OR partner=? ORDER BY cycle, seq`, agent, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, err
		}
		out = append(out, kind)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertCycle, _ := s.db.Prepare(`INSERT OR REPLACE INTO cycles(cycle,digest,resources,removed,events,scores_json,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(cycle,seq,kind,agent,partner,team,x,y,reason) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertCycle != nil {
			_ = insertCycle.Close()
		}
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFailure.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeFailure.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for e := range s.ch {
		begin()
		if tx == nil || insertCycle == nil || insertEvent == nil {
			s.writeFailure.Add(1)
			continue
		}
		raw, _ := json.Marshal(e)
		scores, _ := json.Marshal(e.Scores)
		if _, err := tx.Stmt(insertCycle).Exec(
			int64(e.Cycle),
			e.Digest,
			e.Resources,
			len(e.Removed),
			len(e.Events),
			string(scores),
			string(raw),
		); err != nil {
			rollback()
			continue
		}
		opCount++
		for i, ev := range e.Events {
			if _, err := tx.Stmt(insertEvent).Exec(
				int64(e.Cycle), i, ev.Kind, ev.Agent, ev.Partner, ev.Team, ev.Pos[0], ev.Pos[1], ev.Reason,
			); err != nil {
				rollback()
				break
			}
			opCount++
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
