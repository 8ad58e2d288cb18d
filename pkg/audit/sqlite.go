package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const invocationTable = "flow_invocations"

// SQLiteStore persists invocation records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database at the given path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return db, nil
}

// NewSQLiteStore creates a SQLite-backed invocation store and ensures its
// schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			flow TEXT NOT NULL,
			streaming INTEGER NOT NULL,
			status TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`, invocationTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_flow ON %s(flow);`, invocationTable, invocationTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at);`, invocationTable, invocationTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts an entry, stamping ID and CreatedAt when unset.
func (s *SQLiteStore) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	streaming := 0
	if entry.Streaming {
		streaming = 1
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, flow, streaming, status, chunks, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)", invocationTable),
		entry.ID, entry.Flow, streaming, entry.Status, entry.Chunks,
		entry.Duration.Milliseconds(), entry.CreatedAt.UnixMilli())
	return err
}

// List returns matching entries, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.Flow != "" {
		clauses = append(clauses, "flow = ?")
		args = append(args, filter.Flow)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	query := fmt.Sprintf("SELECT id, flow, streaming, status, chunks, duration_ms, created_at FROM %s", invocationTable)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		var streaming int
		var durationMS, createdAt int64
		if err := rows.Scan(&entry.ID, &entry.Flow, &streaming, &entry.Status, &entry.Chunks, &durationMS, &createdAt); err != nil {
			return nil, err
		}
		entry.Streaming = streaming != 0
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}
