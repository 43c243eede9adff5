package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"caseflow/internal/domain"
	"caseflow/internal/events"
)

// Transport submits one transition to the case backend. A nil error means the
// backend accepted it; errors carrying a response status should implement
// StatusCoder.
type Transport interface {
	Transition(ctx context.Context, subcaseID string, kind domain.ActionKind, payload Payload) error
}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomePartial   OutcomeStatus = "partial"
	OutcomeFailed    OutcomeStatus = "failed"
)

type TargetResult struct {
	SubcaseID string           `json:"subcase_id"`
	Err       *TransitionError `json:"error,omitempty"`
}

func (r TargetResult) OK() bool { return r.Err == nil }

// Outcome is the reconciled result of one submission.
// Bulk is nil for single-target submissions.
type Outcome struct {
	Kind    domain.ActionKind   `json:"action"`
	Status  OutcomeStatus       `json:"status"`
	Results []TargetResult      `json:"results"`
	Bulk    *domain.BulkOutcome `json:"bulk,omitempty"`
	Err     *TransitionError    `json:"error,omitempty"`
	Message string              `json:"message"`
}

// NeedsRefresh reports whether any target changed state server-side.
func (o Outcome) NeedsRefresh() bool {
	return o.Status == OutcomeSucceeded || o.Status == OutcomePartial
}

// ActionRequest applies one action and one payload to every target.
type ActionRequest struct {
	Kind    domain.ActionKind
	Targets []string
	Payload Payload
}

// NewActionRequest removes duplicate targets, keeping first occurrence.
func NewActionRequest(kind domain.ActionKind, targets []string, payload Payload) (ActionRequest, error) {
	if !kind.IsTransition() {
		return ActionRequest{}, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
	seen := make(map[string]struct{}, len(targets))
	uniq := make([]string, 0, len(targets))
	for _, id := range targets {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	if len(uniq) == 0 {
		return ActionRequest{}, ErrEmptyTargets
	}
	return ActionRequest{Kind: kind, Targets: uniq, Payload: payload}, nil
}

// Executor issues transition calls and reconciles their results.
type Executor struct {
	Transport Transport
	Logger    *log.Logger
	Events    events.Writer
}

func (x Executor) logger() *log.Logger {
	if x.Logger != nil {
		return x.Logger
	}
	return log.Default()
}

// Execute submits payload to every target. One target is a single call whose
// failure is reported directly. Several targets are submitted concurrently;
// a failure never cancels or undoes another call, and the outcome is computed
// only after every call has settled.
func (x Executor) Execute(ctx context.Context, kind domain.ActionKind, targets []string, payload Payload) Outcome {
	req, err := NewActionRequest(kind, targets, payload)
	if err != nil {
		te := &TransitionError{Kind: FailureValidation, Message: err.Error(), Err: err}
		return Outcome{Kind: kind, Status: OutcomeFailed, Err: te, Message: te.Message}
	}
	if len(req.Targets) == 1 {
		return x.executeSingle(ctx, req)
	}
	return x.executeBulk(ctx, req)
}

// ExecuteRequest is Execute for a prepared request.
func (x Executor) ExecuteRequest(ctx context.Context, req ActionRequest) Outcome {
	return x.Execute(ctx, req.Kind, req.Targets, req.Payload)
}

func (x Executor) executeSingle(ctx context.Context, req ActionRequest) Outcome {
	id := req.Targets[0]
	res := x.call(ctx, id, req.Kind, req.Payload)
	out := Outcome{Kind: req.Kind, Results: []TargetResult{res}}
	if res.OK() {
		out.Status = OutcomeSucceeded
		out.Message = "action completed"
	} else {
		out.Status = OutcomeFailed
		out.Err = res.Err
		out.Message = res.Err.Message
	}
	x.Events.Append(ctx, "transition."+string(out.Status), "subcase", id, events.EventPayload{"action": string(req.Kind)})
	return out
}

func (x Executor) executeBulk(ctx context.Context, req ActionRequest) Outcome {
	results := make([]TargetResult, len(req.Targets))
	var wg sync.WaitGroup
	for i, id := range req.Targets {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = x.call(ctx, id, req.Kind, req.Payload)
		}(i, id)
	}
	wg.Wait()

	bulk := &domain.BulkOutcome{Total: len(results)}
	var firstErr *TransitionError
	for _, r := range results {
		if r.OK() {
			bulk.Succeeded++
			continue
		}
		bulk.Failed++
		if firstErr == nil {
			firstErr = r.Err
		}
	}

	out := Outcome{Kind: req.Kind, Results: results, Bulk: bulk}
	switch {
	case bulk.Failed == 0:
		out.Status = OutcomeSucceeded
		out.Message = fmt.Sprintf("%d/%d completed", bulk.Succeeded, bulk.Total)
	case bulk.Succeeded == 0:
		out.Status = OutcomeFailed
		out.Err = firstErr
		out.Message = fmt.Sprintf("0/%d completed, %d failed.", bulk.Total, bulk.Failed)
	default:
		out.Status = OutcomePartial
		out.Message = fmt.Sprintf("%d/%d completed, %d failed.", bulk.Succeeded, bulk.Total, bulk.Failed)
	}
	x.logger().Info("bulk transition settled",
		"action", req.Kind, "status", out.Status,
		"succeeded", bulk.Succeeded, "failed", bulk.Failed, "total", bulk.Total)
	x.Events.Append(ctx, "transition.bulk."+string(out.Status), "subcase", "", events.EventPayload{
		"action":    string(req.Kind),
		"targets":   req.Targets,
		"succeeded": bulk.Succeeded,
		"failed":    bulk.Failed,
	})
	return out
}

// call runs one transport call to completion. Caller cancellation is not
// propagated: an issued transition is never aborted.
func (x Executor) call(ctx context.Context, id string, kind domain.ActionKind, payload Payload) (res TargetResult) {
	res.SubcaseID = id
	defer func() {
		if p := recover(); p != nil {
			res.Err = &TransitionError{Kind: FailureServer, Message: msgServer, Err: fmt.Errorf("transport panic: %v", p)}
			x.logger().Error("transition panicked", "subcase_id", id, "action", kind, "panic", p)
		}
	}()
	if x.Transport == nil {
		res.Err = &TransitionError{Kind: FailureNetwork, Message: msgNetwork, Err: fmt.Errorf("no transport configured")}
		return res
	}
	if err := x.Transport.Transition(context.WithoutCancel(ctx), id, kind, payload); err != nil {
		res.Err = Classify(err)
		x.logger().Warn("transition failed", "subcase_id", id, "action", kind, "kind", res.Err.Kind, "status", res.Err.Status, "err", err)
		return res
	}
	x.logger().Debug("transition accepted", "subcase_id", id, "action", kind)
	return res
}
