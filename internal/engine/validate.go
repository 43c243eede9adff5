package engine

import (
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

// Validate checks the required fields of one action kind and returns the
// first violation as a *ValidationError. It never modifies form.
//
// Minimum lengths are a presentation concern and are not enforced here.
func Validate(kind domain.ActionKind, form domain.FormState) error {
	switch kind {
	case domain.ActionSubmitResponse, domain.ActionDirectApprove, domain.ActionOverride:
		return requireText(kind, "explanation_text", form.ExplanationText, "explanation is required")
	case domain.ActionReject:
		return requireText(kind, "rejection_text", form.RejectionText, "rejection reason is required")
	case domain.ActionReopen:
		return requireText(kind, "rejection_text", form.RejectionText, "note to section is required")
	case domain.ActionForceClose:
		return requireText(kind, "reason", form.Reason, "close reason is required")
	case domain.ActionApprove:
		return nil
	default:
		panic(fmt.Sprintf("engine: no validator for action %q", kind))
	}
}

func requireText(kind domain.ActionKind, field, value, msg string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Kind: kind, Field: field, Message: msg}
	}
	return nil
}
