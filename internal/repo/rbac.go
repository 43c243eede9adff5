package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return errors.New("actor_id required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now())
	return err
}

// AssignRole grants roleID to actorID. Roles keep their first assignment
// order, which decides the default active role.
func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	if strings.TrimSpace(roleID) == "" {
		return errors.New("role_id required")
	}
	if err := r.EnsureActor(ctx, tx, actorID); err != nil {
		return err
	}
	_, err := r.q(tx).ExecContext(ctx, `
INSERT OR IGNORE INTO actor_roles(actor_id, role_id, assigned_at, seq)
VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM actor_roles WHERE actor_id=?))`,
		actorID, roleID, now(), actorID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActorRoles returns the roles of actorID in assignment order.
func (r Repo) ActorRoles(ctx context.Context, tx *sql.Tx, actorID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY seq`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
