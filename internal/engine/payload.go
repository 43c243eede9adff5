package engine

import (
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

// Payload is the request body of one transition kind.
type Payload interface {
	Kind() domain.ActionKind
}

// ActionItem is a follow-up item as the backend expects it.
type ActionItem struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DueDate     *string `json:"dueDate,omitempty"`
}

// ResponsePayload is sent for submit_response and direct_approve.
type ResponsePayload struct {
	kind              domain.ActionKind
	ExplanationText   string                   `json:"explanationText"`
	ActionItems       []ActionItem             `json:"actionItems"`
	RootCauseFeedback domain.RootCauseFeedback `json:"rootCauseFeedback"`
}

func (p ResponsePayload) Kind() domain.ActionKind { return p.kind }

type OverridePayload struct {
	ExplanationText string       `json:"explanationText"`
	ActionItems     []ActionItem `json:"actionItems"`
}

func (OverridePayload) Kind() domain.ActionKind { return domain.ActionOverride }

// ReturnPayload is sent for reject and reopen. Both explain why the case goes back.
type ReturnPayload struct {
	kind          domain.ActionKind
	RejectionText string `json:"rejectionText"`
}

func (p ReturnPayload) Kind() domain.ActionKind { return p.kind }

type ForceClosePayload struct {
	Reason string `json:"reason"`
}

func (ForceClosePayload) Kind() domain.ActionKind { return domain.ActionForceClose }

// ApprovePayload has no fields; approval is confirmation only.
type ApprovePayload struct{}

func (ApprovePayload) Kind() domain.ActionKind { return domain.ActionApprove }

// Build maps an action kind and form values to the canonical request body.
// It panics for kinds that are not transitions: callers must check
// IsTransition on untrusted input first.
func Build(kind domain.ActionKind, form domain.FormState) Payload {
	switch kind {
	case domain.ActionSubmitResponse, domain.ActionDirectApprove:
		return ResponsePayload{
			kind:              kind,
			ExplanationText:   form.ExplanationText,
			ActionItems:       buildActionItems(form.ActionItems),
			RootCauseFeedback: form.RootCause,
		}
	case domain.ActionOverride:
		return OverridePayload{
			ExplanationText: form.ExplanationText,
			ActionItems:     buildActionItems(form.ActionItems),
		}
	case domain.ActionReject, domain.ActionReopen:
		return ReturnPayload{kind: kind, RejectionText: form.RejectionText}
	case domain.ActionForceClose:
		return ForceClosePayload{Reason: form.Reason}
	case domain.ActionApprove:
		return ApprovePayload{}
	default:
		panic(fmt.Sprintf("engine: no payload builder for action %q", kind))
	}
}

// buildActionItems drops drafts without a title and turns blank due dates into absent ones.
func buildActionItems(drafts []domain.ActionItemDraft) []ActionItem {
	items := make([]ActionItem, 0, len(drafts))
	for _, d := range drafts {
		if strings.TrimSpace(d.Title) == "" {
			continue
		}
		item := ActionItem{Title: d.Title, Description: d.Description}
		if due := strings.TrimSpace(d.DueDate); due != "" {
			item.DueDate = &due
		}
		items = append(items, item)
	}
	return items
}
