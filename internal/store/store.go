// Package store owns the memory core's SQLite state: the memories table
// and its FTS5 mirror, embedding vectors (vec0 virtual table when the
// extension is present, plain BLOBs otherwise), the append-only history
// log, the extraction job queue, the entity graph, and session candidate
// tracking.
//
// Concurrency discipline:
//   - All writes flow through WithWriteTx, which serializes on a single
//     connection and opens BEGIN IMMEDIATE transactions so the write lock
//     is taken up front.
//   - Reads use a separate pooled handle (WAL mode keeps them concurrent
//     with the writer) and never issue writes.
//
// Every mutation of a memory row bumps its version by exactly one and
// records exactly one history event inside the same transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/signetai/signet/internal/logging"
)

// DBTX is the query surface shared by *sql.DB, *sql.Conn, and *sql.Tx.
// Transaction closures receive it so helpers can run against either a
// live transaction or a bare read handle.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// QueryEmbedder supplies query vectors for the semantic half of recall.
// A nil return means the provider is unavailable and recall degrades to
// keyword-only scoring.
type QueryEmbedder interface {
	EmbedOrNil(ctx context.Context, text string) []float32
}

// Reranker reorders the top recall candidates. Rerank returns candidate
// indexes in preference order; an error leaves the fused order in place.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]int, error)
}

// Store is the single owner of the memories database.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	writeMu sync.Mutex
	dbPath  string

	hasVec  bool
	hasFTS  bool
	vecDims int

	embedder QueryEmbedder
	reranker Reranker

	now func() time.Time
}

// Open initializes the database at path, applies pragmas and migrations,
// and probes for optional SQLite features. Migration failure is fatal to
// the caller: a half-migrated schema must not serve traffic.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening memory store at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writeDB, err := openHandle(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	readDB := writeDB
	if path != ":memory:" {
		// In-memory databases are per-connection, so tests share one
		// handle. File databases get a pooled read handle on the side.
		readDB, err = openHandle(path)
		if err != nil {
			writeDB.Close()
			return nil, fmt.Errorf("failed to open read handle: %w", err)
		}
		readDB.SetMaxOpenConns(4)
	}

	s := &Store{
		writeDB: writeDB,
		readDB:  readDB,
		dbPath:  path,
		now:     time.Now,
	}

	s.detectFTS()
	if !s.hasFTS {
		s.Close()
		return nil, fmt.Errorf("sqlite build lacks FTS5; keyword recall cannot work")
	}

	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	s.detectVec()
	if s.hasVec {
		logging.Store("sqlite-vec extension detected; vec0 ANN search enabled")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; falling back to in-process vector scan")
	}

	logging.StoreDebug("Store ready (fts=%v vec=%v)", s.hasFTS, s.hasVec)
	return s, nil
}

func openHandle(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma %q failed: %v", pragma, err)
		}
	}
	return db, nil
}

// Close releases both handles. Safe to call more than once.
func (s *Store) Close() error {
	var first error
	if s.readDB != nil && s.readDB != s.writeDB {
		if err := s.readDB.Close(); err != nil {
			first = err
		}
	}
	if s.writeDB != nil {
		if err := s.writeDB.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.readDB = nil
	s.writeDB = nil
	return first
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string { return s.dbPath }

// HasVec reports whether the vec0 virtual table is usable.
func (s *Store) HasVec() bool { return s.hasVec }

// SetEmbedder wires the embedding client used for query vectors.
func (s *Store) SetEmbedder(e QueryEmbedder) { s.embedder = e }

// SetReranker wires the optional reranking client.
func (s *Store) SetReranker(r Reranker) { s.reranker = r }

// SetClock overrides the time source. Tests use it to make retention and
// lease expiry deterministic.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithReadDB runs fn against the pooled read handle. fn must not write.
func (s *Store) WithReadDB(_ context.Context, fn func(q DBTX) error) error {
	if s.readDB == nil {
		return fmt.Errorf("store is closed")
	}
	return fn(s.readDB)
}

// WithWriteTx runs fn inside a BEGIN IMMEDIATE transaction on the write
// connection. The write lock is acquired up front so concurrent writers
// queue instead of deadlocking mid-transaction. On error or panic the
// transaction is rolled back; panics are re-raised after rollback.
func (s *Store) WithWriteTx(ctx context.Context, fn func(tx DBTX) error) error {
	if s.writeDB == nil {
		return fmt.Errorf("store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn, err := s.writeDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire write connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback still runs when ctx is done.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry opens an IMMEDIATE transaction, backing off
// exponentially while the database reports busy.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay << uint(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("database busy after %d retries: %w", maxRetries, lastErr)
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (s *Store) detectFTS() {
	if _, err := s.writeDB.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS fts_probe USING fts5(content)"); err == nil {
		s.hasFTS = true
		_, _ = s.writeDB.Exec("DROP TABLE IF EXISTS fts_probe")
	}
}

func (s *Store) detectVec() {
	if _, err := s.writeDB.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.hasVec = true
		_, _ = s.writeDB.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.hasVec = false
}

// ===== Time representation =====
//
// Timestamps are stored as fixed-width UTC strings so lexicographic
// comparison in SQL matches chronological order across both drivers.

const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	if t, ok := parseTime(s.String); ok {
		return &t
	}
	return nil
}
