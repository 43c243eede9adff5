package auth

import (
	"context"
	"errors"
	"testing"

	"caseflow/internal/db"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
)

func TestResolveRole(t *testing.T) {
	s := Service{Known: func(r string) bool { return r != "retired" }}
	p := Principal{ActorID: "alice", Roles: []string{"section_head", "bulk_approver", "retired"}}

	if role, err := s.ResolveRole(p, ""); err != nil || role != "section_head" {
		t.Fatalf("ResolveRole(default) = %s, %v", role, err)
	}
	if role, err := s.ResolveRole(p, " bulk_approver "); err != nil || role != "bulk_approver" {
		t.Fatalf("ResolveRole(bulk) = %s, %v", role, err)
	}
	var fe ForbiddenError
	if _, err := s.ResolveRole(p, "quality_officer"); !errors.As(err, &fe) || fe.Role != "quality_officer" {
		t.Fatalf("ResolveRole(unassigned) error = %v", err)
	}
	if _, err := s.ResolveRole(p, "retired"); !errors.As(err, &fe) {
		t.Fatalf("ResolveRole(unknown) error = %v", err)
	}
	if _, err := s.ResolveRole(Principal{ActorID: "bob"}, ""); !errors.As(err, &fe) {
		t.Fatalf("ResolveRole(no roles) error = %v", err)
	}
}

func TestLoadReadsStoredRoles(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	for _, role := range []string{"bulk_approver", "reporter"} {
		if err := r.AssignRole(ctx, nil, "alice", role); err != nil {
			t.Fatalf("AssignRole() error = %v", err)
		}
	}
	p, err := Service{Repo: r}.Load(ctx, "alice", "api_key")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Roles) != 2 || p.Roles[0] != "bulk_approver" || p.Source != "api_key" {
		t.Fatalf("principal = %+v", p)
	}
}
