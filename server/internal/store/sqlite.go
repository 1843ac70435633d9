package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/pipepulse/pipepulse/pkg/types"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. All timestamps are
// stored in UTC, so the encoding sorts lexicographically and the started_at
// range comparison can happen inside SQLite.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is the durable Store implementation backed by a single SQLite file.
// Build rows are immutable after insert; the rowid doubles as the insertion
// order.
type SQLite struct {
	db  *sql.DB
	now func() time.Time // injectable for deterministic tests
}

// NewSQLite opens (or creates) the database at dbPath and runs migrations.
// WAL mode and a busy timeout are set for the read-heavy dashboard workload.
func NewSQLite(dbPath string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// migrate creates the schema if it does not exist yet.
func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		pipeline TEXT NOT NULL,
		repo TEXT NOT NULL,
		branch TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('success', 'failure', 'cancelled', 'in_progress')),
		started_at TEXT NOT NULL,
		completed_at TEXT,
		duration_seconds REAL CHECK(duration_seconds IS NULL OR duration_seconds >= 0),
		url TEXT NOT NULL DEFAULT '',
		logs TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_builds_started_at ON builds(started_at);
	CREATE INDEX IF NOT EXISTS idx_builds_pipeline ON builds(pipeline, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append inserts b and returns the stored record with its assigned ID and
// insertion timestamp.
func (s *SQLite) Append(ctx context.Context, b types.Build) (types.Build, error) {
	created := s.now().UTC()

	var completed sql.NullString
	if b.CompletedAt != nil {
		completed = sql.NullString{String: b.CompletedAt.UTC().Format(timeLayout), Valid: true}
	}
	var duration sql.NullFloat64
	if b.DurationSeconds != nil {
		duration = sql.NullFloat64{Float64: *b.DurationSeconds, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO builds (provider, pipeline, repo, branch, status, started_at,
		completed_at, duration_seconds, url, logs, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Provider, b.Pipeline, b.Repo, b.Branch, b.Status,
		b.StartedAt.UTC().Format(timeLayout),
		completed, duration, b.URL, b.Logs,
		created.Format(timeLayout),
	)
	if err != nil {
		return types.Build{}, fmt.Errorf("store: append build: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return types.Build{}, fmt.Errorf("store: last insert id: %w", err)
	}

	b.ID = id
	b.CreatedAt = created
	return b, nil
}

// Query returns builds matching f, ordered by started_at descending with
// insertion order (id) breaking ties, latest first.
func (s *SQLite) Query(ctx context.Context, f Filter) ([]types.Build, error) {
	var (
		where []string
		args  []any
	)
	if f.Pipeline != "" {
		where = append(where, "pipeline = ?")
		args = append(args, f.Pipeline)
	}
	if !f.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	query := `
	SELECT id, provider, pipeline, repo, branch, status, started_at,
		completed_at, duration_seconds, url, logs, created_at
	FROM builds`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query builds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate builds: %w", err)
	}
	return out, nil
}

func scanBuild(rows *sql.Rows) (types.Build, error) {
	var (
		b          types.Build
		startedStr string
		createdStr string
		completed  sql.NullString
		duration   sql.NullFloat64
	)
	if err := rows.Scan(&b.ID, &b.Provider, &b.Pipeline, &b.Repo, &b.Branch,
		&b.Status, &startedStr, &completed, &duration, &b.URL, &b.Logs,
		&createdStr); err != nil {
		return types.Build{}, fmt.Errorf("store: scan build: %w", err)
	}

	var err error
	if b.StartedAt, err = time.Parse(timeLayout, startedStr); err != nil {
		return types.Build{}, fmt.Errorf("store: parse started_at %q: %w", startedStr, err)
	}
	if b.CreatedAt, err = time.Parse(timeLayout, createdStr); err != nil {
		return types.Build{}, fmt.Errorf("store: parse created_at %q: %w", createdStr, err)
	}
	if completed.Valid {
		t, err := time.Parse(timeLayout, completed.String)
		if err != nil {
			return types.Build{}, fmt.Errorf("store: parse completed_at %q: %w", completed.String, err)
		}
		b.CompletedAt = &t
	}
	if duration.Valid {
		d := duration.Float64
		b.DurationSeconds = &d
	}
	return b, nil
}
