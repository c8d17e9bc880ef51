package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/ruteri/soulkeeper/interfaces"
	_ "modernc.org/sqlite"
)

// SQLiteIndex is an AgentIndex persisted in a SQLite database. Each entry
// gets a ULID derived from its creation time, so ordering by id is ordering
// by upload time.
type SQLiteIndex struct {
	db *sql.DB

	mu      sync.Mutex
	entropy io.Reader
}

// NewSQLiteIndex opens or creates the index database at dbPath.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		dsn += "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	idx := &SQLiteIndex{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}

	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index db: %w", err)
	}

	return idx, nil
}

func (idx *SQLiteIndex) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS soul_uploads (
		id          TEXT PRIMARY KEY,
		agent_id    TEXT NOT NULL,
		object_id   TEXT NOT NULL,
		size_bytes  INTEGER NOT NULL,
		tags        TEXT,
		created_at  INTEGER NOT NULL,
		UNIQUE (agent_id, object_id)
	);
	CREATE INDEX IF NOT EXISTS idx_soul_uploads_agent ON soul_uploads(agent_id, id DESC);
	`
	_, err := idx.db.Exec(schema)
	return err
}

func (idx *SQLiteIndex) newID(t time.Time) (string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), idx.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Record inserts entry. A repeated (agent, object) pair is ignored.
func (idx *SQLiteIndex) Record(ctx context.Context, entry interfaces.IndexEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	id, err := idx.newID(createdAt)
	if err != nil {
		return fmt.Errorf("generate entry id: %w", err)
	}

	var tags []byte
	if len(entry.Tags) > 0 {
		tags, err = json.Marshal(entry.Tags)
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
	}

	_, err = idx.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO soul_uploads (id, agent_id, object_id, size_bytes, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, entry.AgentID, string(entry.ObjectID), entry.SizeBytes, string(tags), createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert index entry: %w", err)
	}
	return nil
}

// Latest returns up to limit object ids for agentID, newest first.
// A non-positive limit returns every entry.
func (idx *SQLiteIndex) Latest(ctx context.Context, agentID string, limit int) ([]interfaces.ObjectID, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := idx.db.QueryContext(ctx,
		`SELECT object_id FROM soul_uploads WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	var ids []interfaces.ObjectID
	for rows.Next() {
		var objectID string
		if err := rows.Scan(&objectID); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		ids = append(ids, interfaces.ObjectID(objectID))
	}
	return ids, rows.Err()
}

// Close closes the database.
func (idx *SQLiteIndex) Close() error {
	return idx.db.Close()
}
