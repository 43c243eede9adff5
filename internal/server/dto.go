package server

import (
	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

// Request payloads

type ActionItemInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty" doc:"YYYY-MM-DD; empty means no due date"`
}

// FormInput is the transition form as sent by clients. Only the fields the
// action uses are read.
type FormInput struct {
	ExplanationText string                    `json:"explanation_text,omitempty"`
	ActionItems     []ActionItemInput         `json:"action_items,omitempty"`
	RootCause       *domain.RootCauseFeedback `json:"root_cause,omitempty"`
	RejectionText   string                    `json:"rejection_text,omitempty"`
	Reason          string                    `json:"reason,omitempty"`
}

func (f *FormInput) toForm() domain.FormState {
	form := domain.NewFormState()
	if f == nil {
		return form
	}
	form.ExplanationText = f.ExplanationText
	form.RejectionText = f.RejectionText
	form.Reason = f.Reason
	if f.RootCause != nil {
		form.RootCause = *f.RootCause
	}
	for _, it := range f.ActionItems {
		form.ActionItems = append(form.ActionItems, domain.ActionItemDraft{
			Title:       it.Title,
			Description: it.Description,
			DueDate:     it.DueDate,
		})
	}
	return form
}

type TransitionRequest struct {
	Action  string     `json:"action" example:"direct_approve"`
	Targets []string   `json:"targets" minItems:"1"`
	Form    *FormInput `json:"form,omitempty"`
}

type PreviewRequest struct {
	Action string     `json:"action" example:"force_close"`
	Form   *FormInput `json:"form,omitempty"`
}

type GroupRequest struct {
	Rows []domain.Subcase `json:"rows"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type WhoAmIResponse struct {
	ActorID    string   `json:"actor_id"`
	Roles      []string `json:"roles"`
	ActiveRole string   `json:"active_role,omitempty"`
	BulkRole   bool     `json:"bulk_role"`
	Source     string   `json:"source"`
}

type SubcaseListResponse struct {
	Role  string             `json:"role"`
	Items []engine.Annotated `json:"items"`
}

type VisibleActionsResponse struct {
	SubcaseID string              `json:"subcase_id"`
	Role      string              `json:"role"`
	Actions   []domain.ActionKind `json:"actions"`
}

type GroupsResponse struct {
	Groups []domain.IncidentGroup `json:"groups"`
}

type PreviewResponse struct {
	Action  domain.ActionKind `json:"action"`
	Payload any               `json:"payload"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
