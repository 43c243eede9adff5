package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"caseflow/internal/domain"
)

// Repo holds the local identity tables: actors, their roles and API keys.
// Case data is never stored here.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (r Repo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	err := r.DB.QueryRowContext(ctx, `SELECT id, created_at FROM actors WHERE id=?`, id).Scan(&a.ID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, created_at FROM actors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
