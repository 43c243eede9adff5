package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

func TestActionPathCoversEveryTransition(t *testing.T) {
	seen := map[string]bool{}
	for _, kind := range domain.TransitionKinds() {
		p := ActionPath(kind)
		if p == "" || seen[p] {
			t.Fatalf("ActionPath(%s) = %q", kind, p)
		}
		seen[p] = true
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("ActionPath(view) should panic")
		}
	}()
	ActionPath(domain.ActionView)
}

func TestTransitionPostsPayload(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL + "/api/")
	c.APIKey = "svc"
	payload := engine.Build(domain.ActionForceClose, domain.FormState{Reason: "Duplicate of #42"})
	if err := c.Transition(context.Background(), "7", domain.ActionForceClose, payload); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if gotPath != "/api/subcases/7/actions/force-close" || gotKey != "svc" {
		t.Fatalf("path = %s key = %s", gotPath, gotKey)
	}
	if len(gotBody) != 1 || gotBody["reason"] != "Duplicate of #42" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestErrorsClassify(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   engine.FailureKind
		msg    string
	}{
		{http.StatusForbidden, `{"message":"nope"}`, engine.FailureForbidden, "not allowed to perform this action"},
		{http.StatusConflict, `{}`, engine.FailureConflict, "case is no longer in a valid state for this action"},
		{http.StatusBadRequest, `{"error":{"message":"due date must be in the future"}}`, engine.FailureBadInput, "due date must be in the future"},
		{http.StatusBadRequest, `{"error":"explanation too short"}`, engine.FailureBadInput, "explanation too short"},
		{http.StatusBadRequest, `not json`, engine.FailureBadInput, "invalid input"},
		{http.StatusBadGateway, ``, engine.FailureServer, "the case service failed to process the request"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			io.WriteString(w, tc.body)
		}))
		err := New(srv.URL).Transition(context.Background(), "1", domain.ActionApprove, engine.ApprovePayload{})
		srv.Close()
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != tc.status {
			t.Fatalf("%d: error = %v", tc.status, err)
		}
		te := engine.Classify(err)
		if te.Kind != tc.kind || te.Message != tc.msg {
			t.Fatalf("%d %s: classified as %+v", tc.status, tc.body, te)
		}
	}
}

func TestUnreachableIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	err := New(url).Transition(context.Background(), "1", domain.ActionApprove, engine.ApprovePayload{})
	if te := engine.Classify(err); te == nil || te.Kind != engine.FailureNetwork || !te.Retryable() {
		t.Fatalf("Classify() = %+v", te)
	}
}

func TestListSubcasesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subcases" || r.URL.Query().Get("status") != "pending" || r.URL.Query().Get("incident_id") != "INC-1" {
			t.Errorf("unexpected request %s", r.URL)
		}
		io.WriteString(w, `{"items":[{"id":"1","status":"pending","incident_id":"INC-1","allowed_actions":["approve"],"target_unit":{"id":"icu"}}]}`)
	}))
	defer srv.Close()
	rows, err := New(srv.URL).ListSubcases(context.Background(), SubcaseFilter{Status: "pending", IncidentID: "INC-1"})
	if err != nil {
		t.Fatalf("ListSubcases() error = %v", err)
	}
	if len(rows) != 1 || !rows[0].HasIncident() || rows[0].TargetUnit.ID != "icu" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestGetSubcasesWrapsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/2") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"id":"1","status":"open","allowed_actions":[],"target_unit":{"id":"er"}}`)
	}))
	defer srv.Close()
	_, err := New(srv.URL).GetSubcases(context.Background(), []string{"1", "2"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || !strings.Contains(err.Error(), "subcase 2") {
		t.Fatalf("GetSubcases() error = %v", err)
	}
}
