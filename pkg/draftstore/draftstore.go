// Package draftstore persists unsaved workflow builds locally, so a CLI
// session can be resumed before anything is pushed to the engine.
package draftstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/apiweave/apiweave/pkg/model/mworkflow"
)

var ErrNotFound = errors.New("draft not found")

type Draft struct {
	ID        string
	Workflow  mworkflow.Workflow
	UpdatedAt time.Time
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	id         TEXT PRIMARY KEY,
	workflow   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open draft store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init draft store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, d Draft) error {
	if d.ID == "" {
		return errors.New("draft id is required")
	}
	blob, err := json.Marshal(d.Workflow)
	if err != nil {
		return err
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drafts (id, workflow, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET workflow = excluded.workflow, updated_at = excluded.updated_at`,
		d.ID, string(blob), d.UpdatedAt.UnixMilli())
	return err
}

func (s *Store) Get(ctx context.Context, id string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, workflow, updated_at FROM drafts WHERE id = ?`, id)
	return scanDraft(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (Draft, error) {
	var d Draft
	var blob string
	var updated int64
	if err := row.Scan(&d.ID, &blob, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Draft{}, ErrNotFound
		}
		return Draft{}, err
	}
	if err := json.Unmarshal([]byte(blob), &d.Workflow); err != nil {
		return Draft{}, fmt.Errorf("decode draft %s: %w", d.ID, err)
	}
	d.UpdatedAt = time.UnixMilli(updated)
	return d, nil
}

func (s *Store) List(ctx context.Context) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, workflow, updated_at FROM drafts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
