package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"caseflow/internal/domain"
)

var (
	ErrEmptyTargets         = errors.New("at least one target subcase is required")
	ErrUnknownAction        = errors.New("unknown transition action")
	ErrSubmissionInProgress = errors.New("a submission is already in progress")
)

// FailureKind classifies why a transition did not happen.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureForbidden  FailureKind = "forbidden"
	FailureConflict   FailureKind = "conflict"
	FailureBadInput   FailureKind = "bad_input"
	FailureNetwork    FailureKind = "network"
	FailureServer     FailureKind = "server"
)

const (
	msgForbidden = "not allowed to perform this action"
	msgConflict  = "case is no longer in a valid state for this action"
	msgBadInput  = "invalid input"
	msgNetwork   = "could not reach the case service; check your connection and try again"
	msgServer    = "the case service failed to process the request"
)

// TransitionError is the only failure shape callers of the executor see.
type TransitionError struct {
	Kind    FailureKind `json:"kind"`
	Status  int         `json:"status,omitempty"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

func (e *TransitionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the same request may succeed.
// Only connectivity failures qualify; nothing changed server-side.
func (e *TransitionError) Retryable() bool {
	return e != nil && e.Kind == FailureNetwork
}

// ValidationError reports the first form rule an action violates.
type ValidationError struct {
	Kind    domain.ActionKind
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StatusCoder is implemented by transport errors that carry a server response.
type StatusCoder interface {
	StatusCode() int
}

// ServerMessager is implemented by transport errors that carry a server-supplied message.
type ServerMessager interface {
	ServerMessage() string
}

// Classify converts any transport or validation error into a TransitionError.
// Errors without a response status are treated as connectivity failures.
func Classify(err error) *TransitionError {
	if err == nil {
		return nil
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return te
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &TransitionError{Kind: FailureValidation, Message: ve.Message, Err: err}
	}
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return &TransitionError{Kind: FailureNetwork, Message: msgNetwork, Err: err}
	}
	status := sc.StatusCode()
	switch {
	case status == http.StatusForbidden:
		return &TransitionError{Kind: FailureForbidden, Status: status, Message: msgForbidden, Err: err}
	case status == http.StatusConflict:
		return &TransitionError{Kind: FailureConflict, Status: status, Message: msgConflict, Err: err}
	case status == http.StatusBadRequest:
		msg := msgBadInput
		var sm ServerMessager
		if errors.As(err, &sm) {
			if m := strings.TrimSpace(sm.ServerMessage()); m != "" {
				msg = m
			}
		}
		return &TransitionError{Kind: FailureBadInput, Status: status, Message: msg, Err: err}
	default:
		return &TransitionError{Kind: FailureServer, Status: status, Message: msgServer, Err: err}
	}
}

// NotOfferedError reports a target that does not offer the requested action
// to the caller's role, or that is not in the caller's row list at all.
type NotOfferedError struct {
	SubcaseID string
	Kind      domain.ActionKind
	Missing   bool
}

func (e *NotOfferedError) Error() string {
	if e.Missing {
		return fmt.Sprintf("subcase %s not found", e.SubcaseID)
	}
	return fmt.Sprintf("action %s is not available for subcase %s", e.Kind, e.SubcaseID)
}
