package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"caseflow/internal/domain"
	"caseflow/internal/repo"
)

// Principal is an authenticated caller and the roles assigned to it locally.
type Principal struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

// ForbiddenError indicates the caller may not act under the requested role.
type ForbiddenError struct {
	Role   string
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return e.Reason
	}
	return fmt.Sprintf("role %s: %s", e.Role, e.Reason)
}

// Service resolves the active role of a caller from the local role table.
type Service struct {
	Repo repo.Repo
	// Known, when set, restricts roles to the declared ones.
	Known func(role string) bool
}

// Load returns the principal for actorID with its roles in assignment order.
func (s Service) Load(ctx context.Context, actorID, source string) (Principal, error) {
	roles, err := s.Repo.ActorRoles(ctx, nil, actorID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ActorID: actorID, Roles: roles, Source: source}, nil
}

// ResolveRole picks the role p acts under. An explicit request must be one of
// p's roles; otherwise the first assigned role is used.
func (s Service) ResolveRole(p Principal, requested string) (domain.Role, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		if len(p.Roles) == 0 {
			return "", ForbiddenError{Reason: "no role assigned"}
		}
		requested = p.Roles[0]
	} else if !slices.Contains(p.Roles, requested) {
		return "", ForbiddenError{Role: requested, Reason: "not assigned to actor " + p.ActorID}
	}
	if s.Known != nil && !s.Known(requested) {
		return "", ForbiddenError{Role: requested, Reason: "not a known role"}
	}
	return domain.Role(requested), nil
}
