package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"turtlecraft.ai/internal/sim/actor"
)

// SQLiteIndex is a queryable command history. Writes go through a buffered
// channel to a single writer goroutine; when it falls behind, events are
// dropped and counted.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTotal      atomic.Uint64
	writeFailTotal atomic.Uint64
}

// Fixed width so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type req struct {
	ev   actor.Event
	sync chan struct{}
}

type IndexStats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropTotal      uint64 `json:"drop_total"`
	WriteFailTotal uint64 `json:"write_fail_total"`
}

type CommandRow struct {
	ID           string    `json:"id"`
	Agent        string    `json:"agent"`
	ReceivedAt   time.Time `json:"received_at"`
	Source       string    `json:"source"`
	Text         string    `json:"text"`
	Canonical    string    `json:"canonical,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Instructions int       `json:"instructions"`
}

type InstructionRow struct {
	Seq   int     `json:"seq"`
	Op    string  `json:"op"`
	Arg   float64 `json:"arg"`
	OK    bool    `json:"ok"`
	Ticks int     `json:"ticks"`
}

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
		ch: make(chan req, 4096),
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
		"PRAGMA foreign_keys=ON;",
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
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			received_at TEXT NOT NULL,
			source TEXT NOT NULL,
			text TEXT NOT NULL,
			canonical TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_received ON commands(received_at);`,
		`CREATE TABLE IF NOT EXISTS instructions (
			command_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			op TEXT NOT NULL,
			arg REAL NOT NULL,
			ok INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (command_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS session_events (
			at TEXT NOT NULL,
			agent TEXT NOT NULL,
			kind TEXT NOT NULL,
			x REAL,
			y REAL,
			z REAL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_at ON session_events(at);`,
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

// Record implements actor.Recorder.
func (s *SQLiteIndex) Record(e actor.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{ev: e}:
	default:
		// The journal remains the source of truth.
		s.dropTotal.Add(1)
	}
}

// Sync waits until everything recorded so far is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{sync: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() IndexStats {
	return IndexStats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTotal:      s.dropTotal.Load(),
		WriteFailTotal: s.writeFailTotal.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var tx *sql.Tx
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFailTotal.Add(1)
		}
		tx = nil
	}

	for r := range s.ch {
		if r.sync != nil {
			commit()
			close(r.sync)
			continue
		}
		if tx == nil {
			txx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				s.writeFailTotal.Add(1)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			tx = txx
		}
		if err := apply(tx, r.ev); err != nil {
			s.writeFailTotal.Add(1)
		}
		// Batch while there is a backlog, commit when idle.
		if len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func apply(tx *sql.Tx, e actor.Event) error {
	at := e.Time.UTC().Format(timeLayout)
	switch e.Kind {
	case actor.EventQueued:
		_, err := tx.Exec(`INSERT OR REPLACE INTO commands(id,agent,received_at,source,text,canonical,status,error) VALUES(?,?,?,?,?,?,?,'')`,
			e.EntryID, e.Agent, at, e.Source, e.Text, e.Canonical, "queued")
		return err
	case actor.EventRejected:
		id := e.EntryID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO commands(id,agent,received_at,source,text,canonical,status,error,finished_at) VALUES(?,?,?,?,?,'',?,?,?)`,
			id, e.Agent, at, e.Source, e.Text, "rejected", e.Error, at)
		return err
	case actor.EventInstruction:
		ok := 0
		if e.OK {
			ok = 1
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO instructions(command_id,seq,op,arg,ok,ticks,at) VALUES(?,?,?,?,?,?,?)`,
			e.EntryID, e.Seq, e.Op, e.Arg, ok, e.Ticks, at); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE commands SET status='running' WHERE id=? AND status='queued'`, e.EntryID)
		return err
	case actor.EventCompleted, actor.EventAborted:
		_, err := tx.Exec(`UPDATE commands SET status=?, finished_at=? WHERE id=?`, string(e.Kind), at, e.EntryID)
		return err
	case actor.EventCorrection, actor.EventReady, actor.EventDisconnect:
		var x, y, z sql.NullFloat64
		if e.Pos != nil {
			x = sql.NullFloat64{Float64: e.Pos.X, Valid: true}
			y = sql.NullFloat64{Float64: e.Pos.Y, Valid: true}
			z = sql.NullFloat64{Float64: e.Pos.Z, Valid: true}
		}
		_, err := tx.Exec(`INSERT INTO session_events(at,agent,kind,x,y,z) VALUES(?,?,?,?,?,?)`, at, e.Agent, string(e.Kind), x, y, z)
		return err
	}
	return nil
}

// RecentCommands returns the newest commands first.
func (s *SQLiteIndex) RecentCommands(ctx context.Context, limit int) ([]CommandRow, error) {
	return RecentCommands(ctx, s.db, limit)
}

func (s *SQLiteIndex) Instructions(ctx context.Context, commandID string) ([]InstructionRow, error) {
	return Instructions(ctx, s.db, commandID)
}

// OpenQuery opens an existing index for queries, e.g. from the CLI while the
// bot is running.
func OpenQuery(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func RecentCommands(ctx context.Context, db *sql.DB, limit int) ([]CommandRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.agent, c.received_at, c.source, c.text, c.canonical, c.status, c.error,
			(SELECT COUNT(*) FROM instructions i WHERE i.command_id = c.id)
		FROM commands c
		ORDER BY c.received_at DESC, c.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommandRow
	for rows.Next() {
		var r CommandRow
		var at string
		if err := rows.Scan(&r.ID, &r.Agent, &at, &r.Source, &r.Text, &r.Canonical, &r.Status, &r.Error, &r.Instructions); err != nil {
			return nil, err
		}
		r.ReceivedAt, _ = time.Parse(timeLayout, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func Instructions(ctx context.Context, db *sql.DB, commandID string) ([]InstructionRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT seq, op, arg, ok, ticks FROM instructions WHERE command_id=? ORDER BY seq`, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InstructionRow
	for rows.Next() {
		var r InstructionRow
		var ok int
		if err := rows.Scan(&r.Seq, &r.Op, &r.Arg, &ok, &r.Ticks); err != nil {
			return nil, err
		}
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
