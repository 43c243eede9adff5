package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

// Client talks to the case backend that owns the workflow state machine.
// It implements engine.Transport.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

var _ engine.Transport = (*Client)(nil)

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Timeout:    10 * time.Second,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	Status  int
	Body    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error: status=%d message=%s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error: status=%d body=%s", e.Status, e.Body)
}

func (e *APIError) StatusCode() int       { return e.Status }
func (e *APIError) ServerMessage() string { return e.Message }

// SubcaseFilter narrows ListSubcases.
type SubcaseFilter struct {
	Status     string
	IncidentID string
	UnitID     string
}

type subcaseList struct {
	Items []domain.Subcase `json:"items"`
}

// ListSubcases returns the caller's inbox rows.
func (c *Client) ListSubcases(ctx context.Context, f SubcaseFilter) ([]domain.Subcase, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.IncidentID != "" {
		q.Set("incident_id", f.IncidentID)
	}
	if f.UnitID != "" {
		q.Set("unit_id", f.UnitID)
	}
	endpoint := "subcases"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp subcaseList
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetSubcase fetches a fresh snapshot of one subcase.
func (c *Client) GetSubcase(ctx context.Context, id string) (domain.Subcase, error) {
	var resp domain.Subcase
	err := c.do(ctx, http.MethodGet, "subcases/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// GetSubcases fetches snapshots for ids in order.
func (c *Client) GetSubcases(ctx context.Context, ids []string) ([]domain.Subcase, error) {
	rows := make([]domain.Subcase, 0, len(ids))
	for _, id := range ids {
		row, err := c.GetSubcase(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get subcase %s: %w", id, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Transition submits one action to one subcase.
func (c *Client) Transition(ctx context.Context, subcaseID string, kind domain.ActionKind, payload engine.Payload) error {
	endpoint := fmt.Sprintf("subcases/%s/actions/%s", url.PathEscape(subcaseID), ActionPath(kind))
	return c.do(ctx, http.MethodPost, endpoint, payload, nil)
}

// ActionPath maps a transition kind to its backend route segment.
func ActionPath(kind domain.ActionKind) string {
	switch kind {
	case domain.ActionSubmitResponse:
		return "submit-response"
	case domain.ActionReject:
		return "reject"
	case domain.ActionApprove:
		return "approve"
	case domain.ActionOverride:
		return "override"
	case domain.ActionForceClose:
		return "force-close"
	case domain.ActionReopen:
		return "reopen"
	case domain.ActionDirectApprove:
		return "direct-approve"
	default:
		panic(fmt.Sprintf("backend: no route for action %q", kind))
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(b), Message: errorMessage(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// errorMessage extracts a human message from the common error envelopes:
// {"message": "..."}, {"error": "..."} and {"error": {"message": "..."}}.
func errorMessage(body []byte) string {
	var env struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if env.Message != "" {
		return env.Message
	}
	if len(env.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &nested); err == nil {
		return nested.Message
	}
	return ""
}

// httpClient never mutates c: Transition runs concurrently for bulk targets.
func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
