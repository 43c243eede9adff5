package app

import (
	"context"
	"database/sql"
	"fmt"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
)

// Workspace is an opened workspace: its config and migrated identity store.
type Workspace struct {
	Path   string
	Config *config.Config
	DB     *sql.DB
	Repo   repo.Repo
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// Open loads the workspace config (defaults when absent), opens the database
// and applies pending migrations.
func Open(path string) (*Workspace, error) {
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(path, cfg)
}

func OpenWithConfig(path string, cfg *config.Config) (*Workspace, error) {
	conn, err := db.Open(db.Config{Workspace: path})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{Path: path, Config: cfg, DB: conn, Repo: repo.Repo{DB: conn}}, nil
}

// BootstrapActor ensures actorID exists and holds every role in roles.
// Roles are checked against the config before anything is written.
func BootstrapActor(ctx context.Context, w *Workspace, actorID string, roles []string) error {
	if actorID == "" {
		actorID = "local-user"
	}
	for _, role := range roles {
		if !w.Config.KnowsRole(role) {
			return fmt.Errorf("role %s is not declared in roles.known", role)
		}
	}
	return w.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := w.Repo.EnsureActor(ctx, tx, actorID); err != nil {
			return fmt.Errorf("ensure actor: %w", err)
		}
		for _, role := range roles {
			if err := w.Repo.AssignRole(ctx, tx, actorID, role); err != nil {
				return fmt.Errorf("assign role %s: %w", role, err)
			}
		}
		return nil
	})
}
