package domain

// ActionItemDraft is one follow-up item typed into a response form.
type ActionItemDraft struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description"`
	DueDate     string `json:"due_date,omitempty" yaml:"due_date"`
}

// FormState holds every field any transition form can carry.
// Which fields matter depends on the action kind.
type FormState struct {
	ExplanationText string            `json:"explanation_text,omitempty"`
	ActionItems     []ActionItemDraft `json:"action_items,omitempty"`
	RootCause       RootCauseFeedback `json:"root_cause,omitempty"`
	RejectionText   string            `json:"rejection_text,omitempty"`
	Reason          string            `json:"reason,omitempty"`
}

// NewFormState returns an empty form with fresh root-cause defaults.
func NewFormState() FormState {
	return FormState{RootCause: NewRootCauseFeedback()}
}

type StaffCauses struct {
	Communication   bool   `json:"communication" yaml:"communication"`
	Training        bool   `json:"training" yaml:"training"`
	Fatigue         bool   `json:"fatigue" yaml:"fatigue"`
	Shortage        bool   `json:"shortage" yaml:"shortage"`
	PolicyAdherence bool   `json:"policyAdherence" yaml:"policy_adherence"`
	Other           bool   `json:"other" yaml:"other"`
	OtherText       string `json:"otherText" yaml:"other_text"`
}

type ProcessCauses struct {
	MissingProtocol bool   `json:"missingProtocol" yaml:"missing_protocol"`
	UnclearProtocol bool   `json:"unclearProtocol" yaml:"unclear_protocol"`
	Handoff         bool   `json:"handoff" yaml:"handoff"`
	Documentation   bool   `json:"documentation" yaml:"documentation"`
	Other           bool   `json:"other" yaml:"other"`
	OtherText       string `json:"otherText" yaml:"other_text"`
}

type EquipmentCauses struct {
	Malfunction bool   `json:"malfunction" yaml:"malfunction"`
	Unavailable bool   `json:"unavailable" yaml:"unavailable"`
	Maintenance bool   `json:"maintenance" yaml:"maintenance"`
	Usability   bool   `json:"usability" yaml:"usability"`
	Other       bool   `json:"other" yaml:"other"`
	OtherText   string `json:"otherText" yaml:"other_text"`
}

type EnvironmentCauses struct {
	Workload  bool   `json:"workload" yaml:"workload"`
	Layout    bool   `json:"layout" yaml:"layout"`
	Lighting  bool   `json:"lighting" yaml:"lighting"`
	Noise     bool   `json:"noise" yaml:"noise"`
	Other     bool   `json:"other" yaml:"other"`
	OtherText string `json:"otherText" yaml:"other_text"`
}

type PreventiveMeasures struct {
	Training         bool   `json:"training" yaml:"training"`
	ProtocolRevision bool   `json:"protocolRevision" yaml:"protocol_revision"`
	EquipmentUpgrade bool   `json:"equipmentUpgrade" yaml:"equipment_upgrade"`
	Monitoring       bool   `json:"monitoring" yaml:"monitoring"`
	Other            bool   `json:"other" yaml:"other"`
	OtherText        string `json:"otherText" yaml:"other_text"`
}

// RootCauseFeedback is the causal checklist sent with responses and direct approvals.
// An OtherText is only meaningful when the matching Other flag is set; it is
// forwarded unchanged either way.
type RootCauseFeedback struct {
	Staff       StaffCauses        `json:"staff" yaml:"staff"`
	Process     ProcessCauses      `json:"process" yaml:"process"`
	Equipment   EquipmentCauses    `json:"equipment" yaml:"equipment"`
	Environment EnvironmentCauses  `json:"environment" yaml:"environment"`
	Preventive  PreventiveMeasures `json:"preventive" yaml:"preventive"`
}

// NewRootCauseFeedback returns a fresh all-clear checklist.
func NewRootCauseFeedback() RootCauseFeedback {
	return RootCauseFeedback{}
}
