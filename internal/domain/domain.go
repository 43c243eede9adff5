package domain

// Role identifies the active role a caller acts under.
type Role string

// RoleBulkApprover is the default name of the bulk-capable role.
const RoleBulkApprover Role = "bulk_approver"

type UnitRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Subcase is a read-only snapshot of one unit of workflow work.
type Subcase struct {
	ID             string   `json:"id"`
	Title          string   `json:"title,omitempty"`
	CaseType       string   `json:"case_type,omitempty"`
	Status         string   `json:"status"`
	IncidentID     *string  `json:"incident_id,omitempty"`
	AllowedActions []string `json:"allowed_actions"`
	TargetUnit     UnitRef  `json:"target_unit"`
	UpdatedAt      string   `json:"updated_at,omitempty" format:"date-time"`
}

// HasIncident reports whether the subcase belongs to a parent incident.
func (s Subcase) HasIncident() bool {
	return s.IncidentID != nil && *s.IncidentID != ""
}

type IncidentGroup struct {
	Key              string    `json:"key"`
	IncidentID       *string   `json:"incident_id,omitempty"`
	Rows             []Subcase `json:"rows"`
	TargetSubcaseIDs []string  `json:"target_subcase_ids"`
}

// BulkOutcome counts settled results of a multi-target submission.
type BulkOutcome struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Settled reports whether every target has reported a result.
func (b BulkOutcome) Settled() bool {
	return b.Succeeded+b.Failed == b.Total
}

type Actor struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
