package engine

import (
	"slices"

	"caseflow/internal/domain"
)

// bulkAllowList is everything the bulk-capable role may ever see.
var bulkAllowList = []domain.ActionKind{domain.ActionView, domain.ActionDirectApprove}

// ActionFilter decides which actions a caller is offered for a subcase.
// It narrows the server-declared list and never adds to it.
type ActionFilter struct {
	BulkRole domain.Role
}

func (f ActionFilter) bulkRole() domain.Role {
	if f.BulkRole != "" {
		return f.BulkRole
	}
	return domain.RoleBulkApprover
}

// IsBulkRole reports whether role is the bulk-capable role.
func (f ActionFilter) IsBulkRole(role domain.Role) bool {
	return role == f.bulkRole()
}

// VisibleActions returns, in server order, the recognised actions declared for
// sc, restricted to view and direct approval for the bulk role. Unknown action
// strings are dropped.
func (f ActionFilter) VisibleActions(sc domain.Subcase, role domain.Role) []domain.ActionKind {
	bulk := f.IsBulkRole(role)
	out := make([]domain.ActionKind, 0, len(sc.AllowedActions))
	for _, raw := range sc.AllowedActions {
		kind, ok := domain.ParseActionKind(raw)
		if !ok {
			continue
		}
		if bulk && !slices.Contains(bulkAllowList, kind) {
			continue
		}
		if slices.Contains(out, kind) {
			continue
		}
		out = append(out, kind)
	}
	return out
}

// Permits reports whether kind is visible for sc under role.
func (f ActionFilter) Permits(sc domain.Subcase, role domain.Role, kind domain.ActionKind) bool {
	return slices.Contains(f.VisibleActions(sc, role), kind)
}
