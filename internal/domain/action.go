package domain

import "strings"

// ActionKind names a workflow action a caller may take on a subcase.
type ActionKind string

const (
	ActionSubmitResponse ActionKind = "submit_response"
	ActionReject         ActionKind = "reject"
	ActionApprove        ActionKind = "approve"
	ActionOverride       ActionKind = "override"
	ActionForceClose     ActionKind = "force_close"
	ActionReopen         ActionKind = "reopen"
	ActionDirectApprove  ActionKind = "direct_approve"

	// ActionView is a capability, not a transition. It never reaches the backend.
	ActionView ActionKind = "view"
)

var transitionKinds = []ActionKind{
	ActionSubmitResponse,
	ActionReject,
	ActionApprove,
	ActionOverride,
	ActionForceClose,
	ActionReopen,
	ActionDirectApprove,
}

// TransitionKinds returns the closed set of transition kinds in a fixed order.
func TransitionKinds() []ActionKind {
	return append([]ActionKind(nil), transitionKinds...)
}

// IsTransition reports whether k submits a workflow state transition.
func (k ActionKind) IsTransition() bool {
	for _, t := range transitionKinds {
		if t == k {
			return true
		}
	}
	return false
}

// Known reports whether k is a transition kind or the view capability.
func (k ActionKind) Known() bool {
	return k == ActionView || k.IsTransition()
}

// ParseActionKind normalises a server-declared action string.
// Case, surrounding space, dashes and inner spaces are ignored.
func ParseActionKind(raw string) (ActionKind, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	k := ActionKind(s)
	if !k.Known() {
		return "", false
	}
	return k, true
}
