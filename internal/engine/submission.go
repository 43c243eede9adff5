package engine

import (
	"context"
	"sync"

	"caseflow/internal/domain"
)

type SubmissionState string

const (
	StateIdle               SubmissionState = "idle"
	StateValidating         SubmissionState = "validating"
	StateSubmitting         SubmissionState = "submitting"
	StateSucceeded          SubmissionState = "succeeded"
	StatePartiallySucceeded SubmissionState = "partially_succeeded"
	StateFailed             SubmissionState = "failed"
)

// InFlight reports whether a submission in this state still holds the guard.
func (s SubmissionState) InFlight() bool {
	return s == StateValidating || s == StateSubmitting
}

// Request is one user decision: a kind, its targets and the raw form.
type Request struct {
	Kind    domain.ActionKind
	Targets []string
	Form    domain.FormState
}

// Submission runs one attempt at a time through
// idle -> validating -> submitting -> succeeded | partially_succeeded | failed.
// A terminal state is a resting state: the next Submit starts again from idle.
type Submission struct {
	Executor Executor

	// OnTransition, when set, observes every state change. It runs without
	// the submission lock held.
	OnTransition func(from, to SubmissionState)

	mu    sync.Mutex
	state SubmissionState
}

func NewSubmission(x Executor) *Submission {
	return &Submission{Executor: x, state: StateIdle}
}

// State returns the current state.
func (s *Submission) State() SubmissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return StateIdle
	}
	return s.state
}

// Submit validates req, builds its payload and executes it. The returned error
// is non-nil only when the request cannot be attempted at all: another attempt
// is in flight, the kind is not a transition, or no target was given.
// Validation and transport failures are reported through the Outcome.
func (s *Submission) Submit(ctx context.Context, req Request) (Outcome, error) {
	ar, err := NewActionRequest(req.Kind, req.Targets, nil)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.acquire(); err != nil {
		return Outcome{}, err
	}
	final := StateFailed
	defer func() { s.setState(final) }()

	if err := Validate(req.Kind, req.Form); err != nil {
		te := Classify(err)
		return Outcome{Kind: req.Kind, Status: OutcomeFailed, Err: te, Message: te.Message}, nil
	}
	ar.Payload = Build(req.Kind, req.Form)

	s.setState(StateSubmitting)
	out := s.Executor.ExecuteRequest(ctx, ar)
	switch out.Status {
	case OutcomeSucceeded:
		final = StateSucceeded
	case OutcomePartial:
		final = StatePartiallySucceeded
	}
	return out, nil
}

// acquire moves a resting submission to validating, or refuses.
func (s *Submission) acquire() error {
	s.mu.Lock()
	from := s.state
	if from == "" {
		from = StateIdle
	}
	if from.InFlight() {
		s.mu.Unlock()
		return ErrSubmissionInProgress
	}
	s.state = StateValidating
	hook := s.OnTransition
	s.mu.Unlock()
	if hook != nil {
		if from != StateIdle {
			hook(from, StateIdle)
			from = StateIdle
		}
		hook(from, StateValidating)
	}
	return nil
}

func (s *Submission) setState(to SubmissionState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	hook := s.OnTransition
	s.mu.Unlock()
	if hook != nil && from != to {
		hook(from, to)
	}
}
