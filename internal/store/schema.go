package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/signetai/signet/internal/logging"
)

// Schema versions:
// v1: memories + memory_history tables
// v2: memories_fts external-content table with sync triggers
// v3: embeddings table (vec_embeddings mirror is created lazily once
//     dimensions are known)
// v4: memory_jobs queue, entity graph, session_candidates
const currentSchemaVersion = 4

var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		normalized_content TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'fact',
		tags TEXT NOT NULL DEFAULT '',
		importance REAL NOT NULL DEFAULT 0.8,
		pinned INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT,
		who TEXT NOT NULL DEFAULT '',
		why TEXT NOT NULL DEFAULT '',
		project TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		embedding_model TEXT NOT NULL DEFAULT '',
		extraction_status TEXT NOT NULL DEFAULT 'none',
		extraction_model TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT ''
	)`,
	// Hash uniqueness only applies to live rows; deleted rows keep their
	// hash so recovery can detect collisions with newer content.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_hash_live ON memories(content_hash) WHERE is_deleted = 0`,
	`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_pinned ON memories(pinned)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(is_deleted, deleted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)`,

	`CREATE TABLE IF NOT EXISTS memory_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		memory_id TEXT NOT NULL,
		event TEXT NOT NULL,
		old_content TEXT NOT NULL DEFAULT '',
		new_content TEXT NOT NULL DEFAULT '',
		changed_by TEXT NOT NULL DEFAULT '',
		actor_type TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_memory ON memory_history(memory_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL UNIQUE,
		vector BLOB NOT NULL,
		dimensions INTEGER NOT NULL,
		source_type TEXT NOT NULL DEFAULT 'memory',
		source_id TEXT NOT NULL,
		chunk_text TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_embeddings_source ON embeddings(source_id)`,

	`CREATE TABLE IF NOT EXISTS memory_jobs (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		job_type TEXT NOT NULL DEFAULT 'extract',
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		leased_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON memory_jobs(status, created_at)`,

	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entity_mentions (
		entity_id TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(entity_id, memory_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mentions_memory ON entity_mentions(memory_id)`,
	`CREATE INDEX IF NOT EXISTS idx_mentions_entity ON entity_mentions(entity_id)`,

	`CREATE TABLE IF NOT EXISTS session_candidates (
		session_key TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		injected INTEGER NOT NULL DEFAULT 0,
		fts_hit INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE(session_key, memory_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candidates_session ON session_candidates(session_key, created_at)`,

	`CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`,
}

// ftsSchema keeps memories_fts in lockstep with memories via triggers.
// External-content mode means FTS5 stores only the index, not the text.
var ftsSchema = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		content,
		tags,
		content='memories',
		content_rowid='rowid',
		tokenize='porter unicode61'
	)`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, content, tags) VALUES (new.rowid, new.content, new.tags);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content, tags) VALUES ('delete', old.rowid, old.content, old.tags);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content, tags) VALUES ('delete', old.rowid, old.content, old.tags);
		INSERT INTO memories_fts(rowid, content, tags) VALUES (new.rowid, new.content, new.tags);
	END`,
}

// migration adds a column to an existing table. Fresh databases already
// have these columns from baseSchema; the list exists for databases
// created before the column did.
type migration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []migration{
	// Normalized content was added once dedupe moved to hashing the
	// normalized form instead of the raw text.
	{"memories", "normalized_content", "TEXT NOT NULL DEFAULT ''"},
	// Extraction pipeline columns arrived with the background worker.
	{"memories", "extraction_status", "TEXT NOT NULL DEFAULT 'none'"},
	{"memories", "extraction_model", "TEXT NOT NULL DEFAULT ''"},
	{"memories", "updated_by", "TEXT NOT NULL DEFAULT ''"},
	{"memory_jobs", "job_type", "TEXT NOT NULL DEFAULT 'extract'"},
	// FTS hit tracking on candidates arrived with continuity scoring.
	{"session_candidates", "fts_hit", "INTEGER NOT NULL DEFAULT 0"},
}

// migrate builds the schema and applies any additive column migrations.
// Any failure here is fatal to Open: a partially migrated database must
// not serve traffic.
func (s *Store) migrate() error {
	timer := logging.StartTimer(logging.CategoryStore, "migrate")
	defer timer.Stop()

	db := s.writeDB

	for _, stmt := range baseSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("base schema: %w", err)
		}
	}
	for _, stmt := range ftsSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("fts schema: %w", err)
		}
	}

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	if v := schemaVersion(db); v < currentSchemaVersion {
		if _, err := db.Exec(
			"INSERT OR REPLACE INTO schema_versions (version, description) VALUES (?, ?)",
			currentSchemaVersion, "memory core schema",
		); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}

	logging.StoreDebug("Schema ready at version %d (column migrations applied=%d)", currentSchemaVersion, applied)
	return nil
}

func schemaVersion(db *sql.DB) int {
	if !tableExists(db, "schema_versions") {
		return 0
	}
	var version int
	if err := db.QueryRow("SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		return 0
	}
	return version
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// ===== vec0 mirror =====

// EnsureVecTable creates the vec_embeddings virtual table at the given
// dimensionality. When a table with different dimensions already exists
// it is dropped and re-mirrored from the embeddings table, which keeps
// only vectors of the new size.
func (s *Store) EnsureVecTable(dims int) error {
	if !s.hasVec || dims <= 0 {
		return nil
	}
	if s.vecDims == 0 {
		s.vecDims = s.storedVecDims()
	}
	if s.vecDims == dims && tableExists(s.writeDB, "vec_embeddings") {
		return nil
	}

	if s.vecDims != 0 && s.vecDims != dims {
		logging.Store("vec_embeddings dimensions changed %d -> %d, rebuilding mirror", s.vecDims, dims)
		if _, err := s.writeDB.Exec("DROP TABLE IF EXISTS vec_embeddings"); err != nil {
			return fmt.Errorf("drop vec_embeddings: %w", err)
		}
	}

	query := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(
		embedding float[%d],
		embedding_id TEXT,
		memory_id TEXT
	)`, dims)
	if _, err := s.writeDB.Exec(query); err != nil {
		return fmt.Errorf("create vec_embeddings: %w", err)
	}

	// vec0 accepts little-endian float32 blobs directly, so the stored
	// vectors mirror over without re-encoding.
	if _, err := s.writeDB.Exec(`
		INSERT INTO vec_embeddings(embedding, embedding_id, memory_id)
		SELECT e.vector, e.id, e.source_id FROM embeddings e
		WHERE e.dimensions = ?
		AND NOT EXISTS (SELECT 1 FROM vec_embeddings v WHERE v.embedding_id = e.id)`, dims); err != nil {
		logging.Get(logging.CategoryStore).Warn("vec_embeddings re-mirror failed: %v", err)
	}

	s.vecDims = dims
	if _, err := s.writeDB.Exec(
		"INSERT OR REPLACE INTO store_meta (key, value) VALUES ('vec_dimensions', ?)",
		strconv.Itoa(dims),
	); err != nil {
		return fmt.Errorf("record vec dimensions: %w", err)
	}
	return nil
}

func (s *Store) storedVecDims() int {
	var raw string
	err := s.writeDB.QueryRow("SELECT value FROM store_meta WHERE key = 'vec_dimensions'").Scan(&raw)
	if err != nil {
		return 0
	}
	dims, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return dims
}

// RebuildFTS re-derives the full-text index from the memories table.
func (s *Store) RebuildFTS(ctx context.Context) error {
	logging.Store("Rebuilding memories_fts from content table")
	_, err := s.writeDB.ExecContext(ctx, "INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')")
	if err != nil {
		return fmt.Errorf("fts rebuild: %w", err)
	}
	return nil
}
