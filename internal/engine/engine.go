package engine

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/events"
)

// Engine bundles the action filter and executor behind one configured value.
type Engine struct {
	Filter   ActionFilter
	Executor Executor
	Config   *config.Config

	mu          *sync.Mutex
	submissions map[string]*actorSubmission
}

// actorSubmission counts the Submit calls currently holding s.
type actorSubmission struct {
	s    *Submission
	refs int
}

func New(t Transport, cfg *config.Config, logger *log.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	return Engine{
		Filter: ActionFilter{BulkRole: domain.Role(cfg.Roles.Bulk)},
		Executor: Executor{
			Transport: t,
			Logger:    logger,
			Events:    events.Writer{Logger: logger.WithPrefix("audit")},
		},
		Config:      cfg,
		mu:          &sync.Mutex{},
		submissions: map[string]*actorSubmission{},
	}
}

// SubmissionFor returns the submission guarding actorID, so one actor can have
// only one attempt in flight. Entries are released once no Submit holds them.
func (e Engine) SubmissionFor(actorID string) *Submission {
	if e.mu == nil {
		return NewSubmission(e.Executor)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entry(actorID).s
}

// entry must be called with e.mu held.
func (e Engine) entry(actorID string) *actorSubmission {
	a, ok := e.submissions[actorID]
	if !ok {
		a = &actorSubmission{s: NewSubmission(e.Executor)}
		e.submissions[actorID] = a
	}
	return a
}

func (e Engine) hold(actorID string) *Submission {
	if e.mu == nil {
		return NewSubmission(e.Executor)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.entry(actorID)
	a.refs++
	return a.s
}

// release drops the actor's entry when its last holder is done and the
// submission is resting.
func (e Engine) release(actorID string) {
	if e.mu == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.submissions[actorID]
	if !ok {
		return
	}
	if a.refs > 0 {
		a.refs--
	}
	if a.refs == 0 && !a.s.State().InFlight() {
		delete(e.submissions, actorID)
	}
}

// Tracked returns how many actors currently have a submission entry.
func (e Engine) Tracked() int {
	if e.mu == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.submissions)
}

// Annotated pairs a subcase with the actions offered for it.
type Annotated struct {
	domain.Subcase
	VisibleActions []domain.ActionKind `json:"visible_actions"`
}

// Annotate computes visible actions for every row under role.
func (e Engine) Annotate(rows []domain.Subcase, role domain.Role) []Annotated {
	out := make([]Annotated, 0, len(rows))
	for _, row := range rows {
		out = append(out, Annotated{Subcase: row, VisibleActions: e.Filter.VisibleActions(row, role)})
	}
	return out
}

// Submit runs req for actorID under role. Targets are deduplicated and blank IDs
// dropped first; targets that do not offer req.Kind to role are refused before
// anything is sent.
func (e Engine) Submit(ctx context.Context, actorID string, role domain.Role, rows []domain.Subcase, req Request) (Outcome, error) {
	ar, err := NewActionRequest(req.Kind, req.Targets, nil)
	if err != nil {
		return Outcome{}, err
	}
	req.Targets = ar.Targets
	if err := e.CheckPermitted(rows, role, req.Kind, req.Targets); err != nil {
		return Outcome{}, err
	}
	ctx = events.WithActor(ctx, actorID)
	s := e.hold(actorID)
	defer e.release(actorID)
	return s.Submit(ctx, req)
}

// CheckPermitted verifies that every target is among rows and offers kind to role.
func (e Engine) CheckPermitted(rows []domain.Subcase, role domain.Role, kind domain.ActionKind, targets []string) error {
	byID := make(map[string]domain.Subcase, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	for _, id := range targets {
		row, ok := byID[id]
		if !ok {
			return &NotOfferedError{SubcaseID: id, Kind: kind, Missing: true}
		}
		if !e.Filter.Permits(row, role, kind) {
			return &NotOfferedError{SubcaseID: id, Kind: kind}
		}
	}
	return nil
}
