// Package catalog indexes the projects under a projects root in SQLite so a
// project can be addressed by id, id prefix or slug. Project directories stay
// authoritative; the catalog can be rebuilt from them at any time.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/plan"
)

// Entry is one catalogued project.
type Entry struct {
	ID        string
	Slug      string
	Title     string
	Topic     string
	Dir       string
	UnitCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntryFor describes p stored in dir.
func EntryFor(p *plan.Project, dir string, now time.Time) Entry {
	return Entry{
		ID:        p.ID,
		Slug:      plan.GenerateSlug(p.Topic),
		Title:     p.Title,
		Topic:     p.Topic,
		Dir:       dir,
		UnitCount: p.UnitCount(),
		CreatedAt: p.CreatedAt,
		UpdatedAt: now,
	}
}

// Store manages the catalog database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// Open opens (or creates) the catalog database and runs migrations.
func Open(dbPath string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog migration failed: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		title TEXT NOT NULL,
		topic TEXT NOT NULL,
		dir TEXT NOT NULL,
		unit_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_slug ON projects(slug);
	CREATE INDEX IF NOT EXISTS idx_projects_created ON projects(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrateV1: %w", err)
	}
	return nil
}

// Upsert inserts or refreshes an entry. created_at is kept from the first
// insert.
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	query := `
	INSERT INTO projects (id, slug, title, topic, dir, unit_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		slug = excluded.slug,
		title = excluded.title,
		topic = excluded.topic,
		dir = excluded.dir,
		unit_count = excluded.unit_count,
		updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Slug, e.Title, e.Topic, e.Dir, e.UnitCount,
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", e.ID, err)
	}
	return nil
}

// Delete removes an entry. A missing entry is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	return nil
}

const entryColumns = `id, slug, title, topic, dir, unit_count, created_at, updated_at`

// List returns every entry, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM projects ORDER BY created_at DESC, id`)
}

// Get returns the entry with exactly this id.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	rows, err := s.query(ctx, `SELECT `+entryColumns+` FROM projects WHERE id = ?`, id)
	if err != nil {
		return Entry{}, err
	}
	if len(rows) == 0 {
		return Entry{}, fmt.Errorf("project %q: %w", id, perrors.ErrNotFound)
	}
	return rows[0], nil
}

// Resolve finds a project by exact id, then by unique id prefix, then by
// slug. More than one candidate is a validation error naming them.
func (s *Store) Resolve(ctx context.Context, ref string) (Entry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Entry{}, perrors.Validationf("empty project reference")
	}
	e, err := s.Get(ctx, ref)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, perrors.ErrNotFound) {
		return Entry{}, err
	}

	prefix := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(ref) + "%"
	matches, err := s.query(ctx, `SELECT `+entryColumns+` FROM projects WHERE id LIKE ? ESCAPE '\' ORDER BY created_at DESC`, prefix)
	if err != nil {
		return Entry{}, err
	}
	if len(matches) == 0 {
		matches, err = s.query(ctx, `SELECT `+entryColumns+` FROM projects WHERE slug = ? ORDER BY created_at DESC`, plan.GenerateSlug(ref))
		if err != nil {
			return Entry{}, err
		}
	}
	switch len(matches) {
	case 0:
		return Entry{}, fmt.Errorf("project %q: %w", ref, perrors.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return Entry{}, perrors.Validationf("project %q is ambiguous: %s", ref, strings.Join(ids, ", "))
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created, updated int64
		if err := rows.Scan(&e.ID, &e.Slug, &e.Title, &e.Topic, &e.Dir, &e.UnitCount, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		e.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
