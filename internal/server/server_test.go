package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"caseflow/internal/app"
	"caseflow/internal/backend"
	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
)

type fakeCases struct {
	rows []domain.Subcase
}

func (f *fakeCases) ListSubcases(_ context.Context, flt backend.SubcaseFilter) ([]domain.Subcase, error) {
	var out []domain.Subcase
	for _, r := range f.rows {
		if flt.Status != "" && r.Status != flt.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeCases) GetSubcases(_ context.Context, ids []string) ([]domain.Subcase, error) {
	var out []domain.Subcase
	for _, id := range ids {
		for _, r := range f.rows {
			if r.ID == id {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type recordingTransport struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (t *recordingTransport) Transition(_ context.Context, id string, kind domain.ActionKind, _ engine.Payload) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, id+":"+string(kind))
	return t.fail[id]
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type testServer struct {
	URL       string
	APIKey    string
	transport *recordingTransport
	client    *http.Client
}

const testSecret = "test-secret"

func incident(id string) *string { return &id }

func sampleRows() []domain.Subcase {
	return []domain.Subcase{
		{ID: "1", Status: "pending_approval", IncidentID: incident("INC-9"), AllowedActions: []string{"view", "approve", "direct_approve"}, TargetUnit: domain.UnitRef{ID: "icu"}},
		{ID: "2", Status: "pending_approval", IncidentID: incident("INC-9"), AllowedActions: []string{"view", "direct_approve"}, TargetUnit: domain.UnitRef{ID: "er"}},
		{ID: "3", Status: "pending_approval", AllowedActions: []string{"direct_approve", "force_close"}, TargetUnit: domain.UnitRef{ID: "lab"}},
		{ID: "4", Status: "closed", AllowedActions: []string{"view", "reopen"}, TargetUnit: domain.UnitRef{ID: "lab"}},
	}
}

func newTestServer(t *testing.T, devLogin bool) *testServer {
	t.Helper()
	cfg := config.Default()
	ws, err := app.OpenWithConfig(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	ctx := context.Background()
	if err := app.BootstrapActor(ctx, ws, "alice", []string{"section_head", "bulk_approver"}); err != nil {
		t.Fatalf("bootstrap actor: %v", err)
	}
	const rawKey = "cfk_test_key"
	if err := ws.Repo.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", ActorID: "alice", KeyHash: repo.HashAPIKey(rawKey)}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	transport := &recordingTransport{fail: map[string]error{}}
	logger := log.New(io.Discard)
	handler, err := New(Config{
		Engine:   engine.New(transport, cfg, logger),
		Cases:    &fakeCases{rows: sampleRows()},
		Repo:     ws.Repo,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: devLogin},
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, APIKey: rawKey, transport: transport, client: srv.Client()}
}

func (s *testServer) headers(role string) map[string]string {
	h := map[string]string{"X-Api-Key": s.APIKey}
	if role != "" {
		h["X-Active-Role"] = role
	}
	return h
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

func TestHealthAndAuthRequired(t *testing.T) {
	srv := newTestServer(t, false)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("me without auth: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("me with bad key: %d %s", res.StatusCode, data)
	}
}

func TestMeDefaultsToFirstRole(t *testing.T) {
	srv := newTestServer(t, false)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, srv.headers(""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, data)
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if who.ActorID != "alice" || who.ActiveRole != "section_head" || who.BulkRole || len(who.Roles) != 2 {
		t.Fatalf("unexpected principal %+v", who)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, srv.headers("quality_officer"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("unassigned role status %d: %s", res.StatusCode, data)
	}
}

func TestListSubcasesFiltersForBulkRole(t *testing.T) {
	srv := newTestServer(t, false)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/subcases?status=pending_approval", nil, srv.headers("bulk_approver"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list SubcaseListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Items) != 3 {
		t.Fatalf("expected 3 pending rows, got %d", len(list.Items))
	}
	for _, item := range list.Items {
		for _, a := range item.VisibleActions {
			if a != domain.ActionView && a != domain.ActionDirectApprove {
				t.Fatalf("bulk role sees %s on %s", a, item.ID)
			}
		}
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/subcases/1/actions", nil, srv.headers("section_head"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("actions status %d: %s", res.StatusCode, data)
	}
	var va VisibleActionsResponse
	if err := json.Unmarshal(data, &va); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(va.Actions) != 3 {
		t.Fatalf("section head should see all declared actions, got %v", va.Actions)
	}
}

func TestGroupsFromBackend(t *testing.T) {
	srv := newTestServer(t, false)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/groups/from-backend?status=pending_approval", nil, srv.headers(""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("groups status %d: %s", res.StatusCode, data)
	}
	var gr GroupsResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(gr.Groups) != 2 || gr.Groups[0].Key != "INC-9" || len(gr.Groups[0].TargetSubcaseIDs) != 2 || gr.Groups[1].Key != "3" {
		t.Fatalf("unexpected groups %+v", gr.Groups)
	}
}

func TestBulkDirectApprovePartial(t *testing.T) {
	srv := newTestServer(t, false)
	srv.transport.fail["2"] = &backend.APIError{Status: http.StatusForbidden}
	body := map[string]any{
		"action":  "direct_approve",
		"targets": []string{"1", "2", "3"},
		"form":    map[string]any{"explanation_text": "Reviewed at huddle"},
	}
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/transitions", body, srv.headers("bulk_approver"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, data)
	}
	var out engine.Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != engine.OutcomePartial || out.Bulk == nil || out.Bulk.Succeeded != 2 || out.Bulk.Failed != 1 {
		t.Fatalf("unexpected outcome %s", data)
	}
	if out.Message != "2/3 completed, 1 failed." {
		t.Fatalf("message = %q", out.Message)
	}
	if srv.transport.count() != 3 {
		t.Fatalf("expected 3 backend calls, got %d", srv.transport.count())
	}
}

func TestTransitionValidationNeverReachesBackend(t *testing.T) {
	srv := newTestServer(t, false)
	body := map[string]any{
		"action":  "force_close",
		"targets": []string{"3"},
		"form":    map[string]any{"reason": "   "},
	}
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/transitions", body, srv.headers("section_head"))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_failed" {
		t.Fatalf("expected validation_failed, got %d %s", res.StatusCode, data)
	}
	if srv.transport.count() != 0 {
		t.Fatalf("validation failure reached the backend")
	}
}

func TestTransitionHiddenActionForbidden(t *testing.T) {
	srv := newTestServer(t, false)
	body := map[string]any{"action": "approve", "targets": []string{"1"}}
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/transitions", body, srv.headers("bulk_approver"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "action_not_available" {
		t.Fatalf("expected action_not_available, got %d %s", res.StatusCode, data)
	}
	body = map[string]any{"action": "approve", "targets": []string{"404"}}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/transitions", body, srv.headers("section_head"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found, got %d %s", res.StatusCode, data)
	}
	body = map[string]any{"action": "teleport", "targets": []string{"1"}}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/transitions", body, srv.headers("section_head"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request for unknown action, got %d %s", res.StatusCode, data)
	}
	if srv.transport.count() != 0 {
		t.Fatalf("refused transitions reached the backend")
	}
}

func TestSingleTransitionFailureReported(t *testing.T) {
	srv := newTestServer(t, false)
	srv.transport.fail["4"] = &backend.APIError{Status: http.StatusConflict}
	body := map[string]any{"action": "reopen", "targets": []string{"4"}, "form": map[string]any{"rejection_text": "Needs a second look"}}
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/transitions", body, srv.headers("section_head"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, data)
	}
	var out engine.Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != engine.OutcomeFailed || out.Bulk != nil || out.Err == nil || out.Err.Kind != engine.FailureConflict {
		t.Fatalf("unexpected outcome %s", data)
	}
}

func TestPreviewBuildsPayload(t *testing.T) {
	srv := newTestServer(t, false)
	body := map[string]any{
		"action": "submit_response",
		"form": map[string]any{
			"explanation_text": "Staff retrained",
			"action_items":     []map[string]any{{"title": "Audit"}, {"title": "  "}},
		},
	}
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/transitions/preview", body, srv.headers(""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview status %d: %s", res.StatusCode, data)
	}
	var resp struct {
		Action  string         `json:"action"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	items, _ := resp.Payload["actionItems"].([]any)
	if resp.Action != "submit_response" || resp.Payload["explanationText"] != "Staff retrained" || len(items) != 1 {
		t.Fatalf("unexpected preview %s", data)
	}
	if _, ok := resp.Payload["rootCauseFeedback"]; !ok {
		t.Fatalf("rootCauseFeedback missing from %s", data)
	}
}

func TestDevLogin(t *testing.T) {
	srv := newTestServer(t, false)
	res, _ := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "bob"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("dev login should be disabled, got %d", res.StatusCode)
	}

	srv = newTestServer(t, true)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "bob", "roles": []string{"bulk_approver"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, data)
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": fmt.Sprintf("Bearer %s", login.Token)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with token status %d: %s", res.StatusCode, data)
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if who.ActorID != "bob" || who.ActiveRole != "bulk_approver" || !who.BulkRole || who.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", who)
	}
}

func TestOpenAPIPublishesSecurity(t *testing.T) {
	srv := newTestServer(t, false)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !bytes.Contains(data, []byte("apiKeyAuth")) || !bytes.Contains(data, []byte("/v0/transitions")) {
		t.Fatalf("openapi document incomplete")
	}
}
