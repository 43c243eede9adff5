package caseflowsdk

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
)

// Client is a minimal caseflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// Role is sent as X-Active-Role when set.
	Role       string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Timeout:    30 * time.Second,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Principal is the caller as the API sees it.
type Principal struct {
	ActorID    string   `json:"actor_id"`
	Roles      []string `json:"roles"`
	ActiveRole string   `json:"active_role"`
	BulkRole   bool     `json:"bulk_role"`
	Source     string   `json:"source"`
}

// Subcase represents the API subcase model (partial).
type Subcase struct {
	ID             string   `json:"id"`
	Title          string   `json:"title,omitempty"`
	Status         string   `json:"status"`
	IncidentID     *string  `json:"incident_id,omitempty"`
	AllowedActions []string `json:"allowed_actions"`
	TargetUnit     struct {
		ID   string `json:"id"`
		Name string `json:"name,omitempty"`
	} `json:"target_unit"`
	VisibleActions []string `json:"visible_actions,omitempty"`
}

type Group struct {
	Key              string    `json:"key"`
	IncidentID       *string   `json:"incident_id,omitempty"`
	Rows             []Subcase `json:"rows"`
	TargetSubcaseIDs []string  `json:"target_subcase_ids"`
}

type ActionItem struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// Form carries the fields an action needs. RootCause is passed through as-is.
type Form struct {
	ExplanationText string         `json:"explanation_text,omitempty"`
	ActionItems     []ActionItem   `json:"action_items,omitempty"`
	RootCause       map[string]any `json:"root_cause,omitempty"`
	RejectionText   string         `json:"rejection_text,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}

type TransitionError struct {
	Kind    string `json:"kind"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
}

type TargetResult struct {
	SubcaseID string           `json:"subcase_id"`
	Error     *TransitionError `json:"error,omitempty"`
}

// Outcome is the result of a submission. Bulk is nil for a single target.
type Outcome struct {
	Action  string         `json:"action"`
	Status  string         `json:"status"`
	Results []TargetResult `json:"results"`
	Bulk    *struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Total     int `json:"total"`
	} `json:"bulk,omitempty"`
	Error   *TransitionError `json:"error,omitempty"`
	Message string           `json:"message"`
}

type Preview struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// Subcases lists rows with the actions visible to the active role.
func (c *Client) Subcases(ctx context.Context, status string) ([]Subcase, error) {
	endpoint := "v0/subcases"
	if status != "" {
		endpoint += "?" + url.Values{"status": {status}}.Encode()
	}
	var resp struct {
		Items []Subcase `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// VisibleActions returns the actions offered for one subcase.
func (c *Client) VisibleActions(ctx context.Context, subcaseID string) ([]string, error) {
	var resp struct {
		Actions []string `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/subcases/%s/actions", url.PathEscape(subcaseID)), nil, &resp)
	return resp.Actions, err
}

// Groups groups the given rows by incident. With rows nil the server groups
// the case service's current rows instead.
func (c *Client) Groups(ctx context.Context, rows []Subcase) ([]Group, error) {
	var resp struct {
		Groups []Group `json:"groups"`
	}
	if rows == nil {
		err := c.do(ctx, http.MethodPost, "v0/groups/from-backend", nil, &resp)
		return resp.Groups, err
	}
	plain := make([]Subcase, len(rows))
	for i, r := range rows {
		r.VisibleActions = nil
		plain[i] = r
	}
	err := c.do(ctx, http.MethodPost, "v0/groups", map[string]any{"rows": plain}, &resp)
	return resp.Groups, err
}

// Submit applies action to targets.
func (c *Client) Submit(ctx context.Context, action string, targets []string, form Form) (Outcome, error) {
	body := map[string]any{
		"action":  action,
		"targets": targets,
		"form":    form,
	}
	var resp Outcome
	err := c.do(ctx, http.MethodPost, "v0/transitions", body, &resp)
	return resp, err
}

// Preview validates form for action and returns the body that would be sent.
func (c *Client) Preview(ctx context.Context, action string, form Form) (Preview, error) {
	var resp Preview
	err := c.do(ctx, http.MethodPost, "v0/transitions/preview", map[string]any{"action": action, "form": form}, &resp)
	return resp, err
}

// DevLogin mints a development token and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, actorID string, roles []string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", map[string]any{"actor_id": actorID, "roles": roles}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if c.Role != "" {
		req.Header.Set("X-Active-Role", c.Role)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
