// Package project persists user projects, the source programs the engine
// debugs. Storage is a single sqlite database file.
package project

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/codestep/stepd/internal/errors"
	"github.com/codestep/stepd/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	code       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Store is a sqlite-backed project repository
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the project database at path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.StoreFailure("open", err)
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent front-ends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.StoreFailure("migrate", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Create inserts a new project and returns it with its generated ID
func (s *Store) Create(ctx context.Context, name, code string) (*types.Project, error) {
	p := &types.Project{
		ID:        uuid.New().String(),
		Name:      name,
		Code:      code,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, code, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Code, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, errors.StoreFailure("create", err)
	}
	return p, nil
}

// Get fetches one project by ID
func (s *Store) Get(ctx context.Context, id string) (*types.Project, error) {
	var p types.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, code, created_at, updated_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Code, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ProjectNotFound(id)
	}
	if err != nil {
		return nil, errors.StoreFailure("get", err)
	}
	return &p, nil
}

// List returns all projects, newest first
func (s *Store) List(ctx context.Context) ([]types.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, code, created_at, updated_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.StoreFailure("list", err)
	}
	defer rows.Close()

	var projects []types.Project
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errors.StoreFailure("list", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreFailure("list", err)
	}
	return projects, nil
}

// Update replaces a project's name and code
func (s *Store) Update(ctx context.Context, id, name, code string) (*types.Project, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, code = ?, updated_at = ? WHERE id = ?`,
		name, code, now(), id)
	if err != nil {
		return nil, errors.StoreFailure("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.StoreFailure("update", err)
	}
	if n == 0 {
		return nil, errors.ProjectNotFound(id)
	}
	return s.Get(ctx, id)
}

// Delete removes a project
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return errors.StoreFailure("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.StoreFailure("delete", err)
	}
	if n == 0 {
		return errors.ProjectNotFound(id)
	}
	return nil
}
