package readiness

import (
	"time"

	"github.com/weflora/planning-core/internal/pointer"
)

// #region vault
type RecordType string

const (
	RecordSite    RecordType = "Site"
	RecordPolicy  RecordType = "Policy"
	RecordSpecies RecordType = "Species"
	RecordSupply  RecordType = "Supply"
	RecordProject RecordType = "Project"
)

type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	URI      string `json:"uri,omitempty"`
}

// VaultRecord is a previously captured record. Read-only to this package.
type VaultRecord struct {
	VaultID             string             `json:"vault_id"`
	Type                RecordType         `json:"type"`
	Scope               string             `json:"scope"`
	Label               string             `json:"label,omitempty"`
	Data                pointer.Value      `json:"data,omitzero"`
	Confidence          float64            `json:"confidence"`
	ConfidenceByPointer map[string]float64 `json:"confidence_by_pointer,omitempty"`
	ProvenanceByPointer map[string]string  `json:"provenance_by_pointer,omitempty"`
	Files               []File             `json:"files,omitempty"`
	Tags                []string           `json:"tags,omitempty"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// #endregion vault

// #region skill
type InputSource string

const (
	SourceVault  InputSource = "vault"
	SourceFile   InputSource = "file"
	SourceManual InputSource = "manual"
)

// Input is one declared input of a skill. Pointer addresses the value inside
// a record's data; Target is where a bound value lands in a run context and
// defaults to Pointer.
type Input struct {
	ID          string        `json:"id" yaml:"id"`
	Label       string        `json:"label" yaml:"label"`
	Source      InputSource   `json:"source" yaml:"source"`
	Required    bool          `json:"required" yaml:"required"`
	Pointer     string        `json:"pointer,omitempty" yaml:"pointer"`
	Target      string        `json:"target,omitempty" yaml:"target"`
	RecordTypes []RecordType  `json:"recordTypes,omitempty" yaml:"record_types"`
	MimeTypes   []string      `json:"mimeTypes,omitempty" yaml:"mime_types"`
	Default     pointer.Value `json:"default,omitzero" yaml:"-"`
}

// TargetPointer is where a bound value lands.
func (in Input) TargetPointer() string {
	if in.Target != "" {
		return in.Target
	}
	return in.Pointer
}

// Skill is the readiness view of an agent: its id and declared inputs.
type Skill struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Inputs []Input `json:"inputs"`
}

// Request asks for the readiness of one skill in one scope. Manual holds
// caller-supplied values by input id.
type Request struct {
	Skill  Skill                    `json:"skill"`
	Scope  string                   `json:"scope"`
	Tags   []string                 `json:"tags,omitempty"`
	Manual map[string]pointer.Value `json:"manual,omitempty"`
}

// #endregion skill

// #region result
type Status string

const (
	StatusReady       Status = "ready"
	StatusNeedsReview Status = "needs_review"
	StatusBlocked     Status = "blocked"
	StatusMissing     Status = "missing"
)

func (s Status) rank() int {
	switch s {
	case StatusMissing:
		return 3
	case StatusBlocked:
		return 2
	case StatusNeedsReview:
		return 1
	}
	return 0
}

type IssueCode string

const (
	IssueNoCandidates      IssueCode = "no_candidates"
	IssueMissingValue      IssueCode = "missing_value"
	IssuePointerMissing    IssueCode = "pointer_missing"
	IssueLowConfidence     IssueCode = "low_confidence"
	IssueMissingProvenance IssueCode = "missing_provenance"
	IssueMimeMismatch      IssueCode = "mime_mismatch"
)

type Issue struct {
	InputID string    `json:"inputId"`
	Code    IssueCode `json:"code"`
	Detail  string    `json:"detail"`
}

type BindingKind string

const (
	BindVaultRecord BindingKind = "vault_record"
	BindVaultFile   BindingKind = "vault_file"
	BindManual      BindingKind = "manual"
)

// Binding links one input to a record pointer, a record file or a manual value.
type Binding struct {
	InputID    string        `json:"inputId"`
	Kind       BindingKind   `json:"kind"`
	VaultID    string        `json:"vaultId,omitempty"`
	Pointer    string        `json:"pointer,omitempty"`
	Target     string        `json:"target,omitempty"`
	File       *File         `json:"file,omitempty"`
	Value      pointer.Value `json:"value,omitzero"`
	Confidence float64       `json:"confidence"`
	Provenance string        `json:"provenance,omitempty"`
	Score      float64       `json:"score"`
	Issues     []Issue       `json:"issues,omitempty"`
}

// Candidate is a scored record for one input.
type Candidate struct {
	Record     VaultRecord `json:"record"`
	Score      float64     `json:"score"`
	Components Components  `json:"components"`
}

// Components are the unweighted scoring terms.
type Components struct {
	Scope      float64 `json:"scope"`
	Pointer    float64 `json:"pointer"`
	Confidence float64 `json:"confidence"`
	Recency    float64 `json:"recency"`
	Overlap    float64 `json:"overlap"`
}

// Result is the readiness of one skill.
type Result struct {
	SkillID      string    `json:"skillId"`
	Status       Status    `json:"status"`
	Bindings     []Binding `json:"bindings"`
	Unbound      []string  `json:"unbound,omitempty"`
	Issues       []Issue   `json:"issues,omitempty"`
	IndexVersion string    `json:"indexVersion"`
}

// Binding returns the binding for inputID.
func (r Result) Binding(inputID string) (Binding, bool) {
	for _, b := range r.Bindings {
		if b.InputID == inputID {
			return b, true
		}
	}
	return Binding{}, false
}

func cloneResult(r Result) Result {
	out := r
	out.Bindings = make([]Binding, len(r.Bindings))
	for i, b := range r.Bindings {
		b.Value = pointer.Clone(b.Value)
		b.Issues = append([]Issue(nil), b.Issues...)
		if b.File != nil {
			f := *b.File
			b.File = &f
		}
		out.Bindings[i] = b
	}
	out.Unbound = append([]string(nil), r.Unbound...)
	out.Issues = append([]Issue(nil), r.Issues...)
	return out
}

// #endregion result
