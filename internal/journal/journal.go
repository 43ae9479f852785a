package journal

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"conveyor/internal/config"
)

// Kind classifies a journal event.
type Kind string

const (
	KindRouted       Kind = "routed"
	KindUnclassified Kind = "unclassified"
	KindDescriptor   Kind = "descriptor"
	KindCorrelated   Kind = "correlated"
	KindDispatched   Kind = "dispatched"
	KindDropped      Kind = "dropped"
	KindFailed       Kind = "failed"
	KindMerged       Kind = "merged"
)

// Event is one recorded pipeline outcome.
type Event struct {
	ID        string
	CreatedAt time.Time
	Kind      Kind
	Path      string
	Detail    string
}

// Store manages journal persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal database in the log
// directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "journal.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the backing database path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one event. Callers treat failures as best-effort.
func (s *Store) Record(ctx context.Context, kind Kind, path, detail string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, created_at, kind, path, detail) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(kind),
		path,
		detail,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, kind, path, detail
         FROM events ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event   Event
			created string
			detail  sql.NullString
		)
		if err := rows.Scan(&event.ID, &created, &event.Kind, &event.Path, &detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339Nano, created); parseErr == nil {
			event.CreatedAt = ts
		}
		event.Detail = detail.String
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountByKind summarizes event totals for status output.
func (s *Store) CountByKind(ctx context.Context) (map[Kind]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(1) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[Kind]int64)
	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Kind(kind)] = count
	}
	return counts, rows.Err()
}
