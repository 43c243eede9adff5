package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"caseflow/internal/backend"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
)

// CaseSource reads subcase snapshots from the case backend.
type CaseSource interface {
	ListSubcases(ctx context.Context, f backend.SubcaseFilter) ([]domain.Subcase, error)
	GetSubcases(ctx context.Context, ids []string) ([]domain.Subcase, error)
}

var _ CaseSource = (*backend.Client)(nil)

// RoleHeader selects the role a request acts under.
type RoleHeader struct {
	ActiveRole string `header:"X-Active-Role" doc:"Role to act under; defaults to the first assigned role"`
}

type subcaseQuery struct {
	RoleHeader
	Status     string `query:"status"`
	IncidentID string `query:"incident_id"`
	UnitID     string `query:"unit_id"`
}

func (q subcaseQuery) filter() backend.SubcaseFilter {
	return backend.SubcaseFilter{Status: q.Status, IncidentID: q.IncidentID, UnitID: q.UnitID}
}

// resolve returns the authenticated principal and the role it acts under.
func (d deps) resolve(ctx context.Context, requested string) (auth.Principal, domain.Role, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return auth.Principal{}, "", authErr
	}
	role, err := d.roles.ResolveRole(principal, requested)
	if err != nil {
		return principal, "", err
	}
	return principal, role, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal and active role",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *RoleHeader) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := WhoAmIResponse{
			ActorID: principal.ActorID,
			Roles:   nonNilSlice(principal.Roles),
			Source:  principal.Source,
		}
		role, err := d.roles.ResolveRole(principal, input.ActiveRole)
		switch {
		case err == nil:
			resp.ActiveRole = string(role)
			resp.BulkRole = d.engine.Filter.IsBulkRole(role)
		case input.ActiveRole != "":
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSubcases(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "list-subcases",
		Method:      http.MethodGet,
		Path:        "/subcases",
		Summary:     "List subcases with the actions offered to the active role",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusBadGateway},
	}, func(ctx context.Context, input *subcaseQuery) (*struct {
		Body SubcaseListResponse `json:"body"`
	}, error) {
		_, role, err := d.resolve(ctx, input.ActiveRole)
		if err != nil {
			return nil, handleError(err)
		}
		rows, err := d.cases.ListSubcases(ctx, input.filter())
		if err != nil {
			return nil, caseSourceError(err)
		}
		return &struct {
			Body SubcaseListResponse `json:"body"`
		}{Body: SubcaseListResponse{Role: string(role), Items: d.engine.Annotate(rows, role)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "subcase-actions",
		Method:      http.MethodGet,
		Path:        "/subcases/{id}/actions",
		Summary:     "Actions offered for one subcase",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		RoleHeader
		ID string `path:"id"`
	}) (*struct {
		Body VisibleActionsResponse `json:"body"`
	}, error) {
		_, role, err := d.resolve(ctx, input.ActiveRole)
		if err != nil {
			return nil, handleError(err)
		}
		rows, err := d.cases.GetSubcases(ctx, []string{input.ID})
		if err != nil {
			return nil, caseSourceError(err)
		}
		if len(rows) == 0 {
			return nil, newAPIError(http.StatusNotFound, "not_found", "subcase not found", nil)
		}
		return &struct {
			Body VisibleActionsResponse `json:"body"`
		}{Body: VisibleActionsResponse{
			SubcaseID: rows[0].ID,
			Role:      string(role),
			Actions:   d.engine.Filter.VisibleActions(rows[0], role),
		}}, nil
	})
}

func registerGroups(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "group-rows",
		Method:      http.MethodPost,
		Path:        "/groups",
		Summary:     "Group rows by parent incident",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body GroupRequest `json:"body"`
	}) (*struct {
		Body GroupsResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body GroupsResponse `json:"body"`
		}{Body: GroupsResponse{Groups: engine.Group(input.Body.Rows)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "group-backend-rows",
		Method:      http.MethodPost,
		Path:        "/groups/from-backend",
		Summary:     "Group the case service's current rows by parent incident",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusBadGateway},
	}, func(ctx context.Context, input *subcaseQuery) (*struct {
		Body GroupsResponse `json:"body"`
	}, error) {
		if _, _, err := d.resolve(ctx, input.ActiveRole); err != nil {
			return nil, handleError(err)
		}
		rows, err := d.cases.ListSubcases(ctx, input.filter())
		if err != nil {
			return nil, caseSourceError(err)
		}
		return &struct {
			Body GroupsResponse `json:"body"`
		}{Body: GroupsResponse{Groups: engine.Group(rows)}}, nil
	})
}

func parseTransitionKind(raw string) (domain.ActionKind, huma.StatusError) {
	kind, ok := domain.ParseActionKind(raw)
	if !ok || !kind.IsTransition() {
		return "", newAPIError(http.StatusBadRequest, "bad_request", "unknown action "+strings.TrimSpace(raw), map[string]any{"action": raw})
	}
	return kind, nil
}

func registerTransitions(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-transition",
		Method:      http.MethodPost,
		Path:        "/transitions",
		Summary:     "Apply one action to one or more subcases",
		Description: "Single targets report the backend failure directly. Several targets are " +
			"submitted concurrently and a partial success returns 200 with status partial.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		RoleHeader
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body engine.Outcome `json:"body"`
	}, error) {
		kind, apiErr := parseTransitionKind(input.Body.Action)
		if apiErr != nil {
			return nil, apiErr
		}
		principal, role, err := d.resolve(ctx, input.ActiveRole)
		if err != nil {
			return nil, handleError(err)
		}
		ar, err := engine.NewActionRequest(kind, input.Body.Targets, nil)
		if err != nil {
			return nil, handleError(err)
		}
		rows, err := d.cases.GetSubcases(ctx, ar.Targets)
		if err != nil {
			return nil, caseSourceError(err)
		}
		out, err := d.engine.Submit(ctx, principal.ActorID, role, rows, engine.Request{
			Kind:    kind,
			Targets: ar.Targets,
			Form:    input.Body.Form.toForm(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if out.Err != nil && out.Err.Kind == engine.FailureValidation {
			var ve *engine.ValidationError
			if errors.As(out.Err, &ve) {
				return nil, handleError(ve)
			}
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", out.Err.Message, nil)
		}
		if out.Status != engine.OutcomeSucceeded {
			d.logger.Warn("transition not fully applied", "actor_id", principal.ActorID, "action", kind, "status", out.Status, "message", out.Message)
		}
		return &struct {
			Body engine.Outcome `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-transition",
		Method:      http.MethodPost,
		Path:        "/transitions/preview",
		Summary:     "Validate a form and show the request body that would be sent",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body PreviewRequest `json:"body"`
	}) (*struct {
		Body PreviewResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		kind, apiErr := parseTransitionKind(input.Body.Action)
		if apiErr != nil {
			return nil, apiErr
		}
		form := input.Body.Form.toForm()
		if err := engine.Validate(kind, form); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PreviewResponse `json:"body"`
		}{Body: PreviewResponse{Action: kind, Payload: engine.Build(kind, form)}}, nil
	})
}

func registerDevAuth(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !d.auth.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		ttl := d.auth.tokenTTL()
		token, err := signDevToken(d.auth.JWTSecret, actor, input.Body.Roles, ttl)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, ExpiresIn: int(ttl.Seconds())}}, nil
	})
}
