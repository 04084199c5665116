// Package pciv turns raw sources into evidence, candidate claims and, after
// review, locked constraints with a provenance graph.
package pciv

import (
	"time"

	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/registry"
)

// #region source
type SourceType string

const (
	SourceFile         SourceType = "file"
	SourceLocationHint SourceType = "location_hint"
	SourceAPI          SourceType = "api"
	SourceManualNote   SourceType = "manual_note"
)

// Source is a raw artifact scoped to one context version. Immutable once added.
type Source struct {
	SourceID string            `json:"sourceId"`
	Type     SourceType        `json:"type" validate:"required,oneof=file location_hint api manual_note"`
	Title    string            `json:"title" validate:"required"`
	MimeType string            `json:"mimeType,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Content  string            `json:"content"`
}

// #endregion source

// #region evidence
type EvidenceKind string

const (
	EvidenceTextSpan   EvidenceKind = "text_span"
	EvidenceTableRow   EvidenceKind = "table_row"
	EvidenceMapFeature EvidenceKind = "map_feature"
)

// EvidenceItem is an atomic unit extracted from a source.
type EvidenceItem struct {
	EvidenceID string        `json:"evidenceId"`
	SourceID   string        `json:"sourceId"`
	Kind       EvidenceKind  `json:"kind"`
	Locator    string        `json:"locator"`
	Text       string        `json:"text,omitempty"`
	Data       pointer.Value `json:"data,omitzero"`
}

// #endregion evidence

// #region claim
type ClaimType string

const (
	ClaimFact           ClaimType = "fact"
	ClaimInference      ClaimType = "inference"
	ClaimRequirement    ClaimType = "requirement"
	ClaimClassification ClaimType = "classification"
	ClaimThreshold      ClaimType = "threshold"
)

type ClaimStatus string

const (
	ClaimProposed  ClaimStatus = "proposed"
	ClaimAccepted  ClaimStatus = "accepted"
	ClaimCorrected ClaimStatus = "corrected"
	ClaimRejected  ClaimStatus = "rejected"
)

// Strength grades how directly a piece of evidence backs a claim.
type Strength string

const (
	StrengthDirect     Strength = "direct"
	StrengthSupporting Strength = "supporting"
	StrengthWeak       Strength = "weak"
)

type EvidenceRef struct {
	EvidenceID string   `json:"evidenceId"`
	Strength   Strength `json:"strength"`
}

// Normalized is the typed, registry-resolved form of a claim.
type Normalized struct {
	Key      string            `json:"key"`
	Value    pointer.Value     `json:"value"`
	Unit     string            `json:"unit,omitempty"`
	Datatype registry.Datatype `json:"datatype"`
}

type Claim struct {
	ClaimID        string        `json:"claimId"`
	Domain         string        `json:"domain"`
	ClaimType      ClaimType     `json:"claimType"`
	Statement      string        `json:"statement"`
	Normalized     Normalized    `json:"normalized"`
	Confidence     float64       `json:"confidence"`
	Status         ClaimStatus   `json:"status"`
	EvidenceRefs   []EvidenceRef `json:"evidenceRefs"`
	CorrectedValue pointer.Value `json:"correctedValue,omitzero"`
}

// EffectiveValue is the corrected value for corrected claims, else the
// normalized one.
func (c Claim) EffectiveValue() pointer.Value {
	if c.Status == ClaimCorrected && c.CorrectedValue.IsDefined() {
		return c.CorrectedValue
	}
	return c.Normalized.Value
}

// ClaimUpdate is a reviewer action.
type ClaimUpdate struct {
	Status         ClaimStatus   `json:"status" validate:"required,oneof=proposed accepted corrected rejected"`
	CorrectedValue pointer.Value `json:"correctedValue,omitzero"`
}

// #endregion claim

// #region constraint
type ConstraintStatus string

const (
	ConstraintActive     ConstraintStatus = "active"
	ConstraintSuperseded ConstraintStatus = "superseded"
)

type DerivedFrom struct {
	ClaimID string  `json:"claimId"`
	Weight  float64 `json:"weight"`
}

// Constraint is a canonical value locked at confirmation.
type Constraint struct {
	ConstraintID string            `json:"constraintId"`
	Key          string            `json:"key"`
	Value        pointer.Value     `json:"value"`
	Datatype     registry.Datatype `json:"datatype"`
	Unit         string            `json:"unit,omitempty"`
	Confidence   float64           `json:"confidence"`
	Status       ConstraintStatus  `json:"status"`
	DerivedFrom  []DerivedFrom     `json:"derivedFrom"`
}

// #endregion constraint

// #region context-version
// ContextVersion aggregates everything scoped to one version: sources, the
// extraction output, review state, constraints and the provenance graph.
type ContextVersion struct {
	ID          string         `json:"id"`
	ParentID    string         `json:"parentId,omitempty"`
	Sources     []Source       `json:"sources"`
	Processed   []string       `json:"processed"` // source ids already extracted
	Evidence    []EvidenceItem `json:"evidence"`
	Claims      []Claim        `json:"claims"`
	Constraints []Constraint   `json:"constraints"`
	Graph       *graph.Graph   `json:"-"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Status is the graph lifecycle status.
func (cv *ContextVersion) Status() graph.Status {
	if cv.Graph == nil {
		return graph.StatusDraft
	}
	return cv.Graph.Status()
}

func (cv *ContextVersion) isProcessed(sourceID string) bool {
	for _, id := range cv.Processed {
		if id == sourceID {
			return true
		}
	}
	return false
}

func (cv *ContextVersion) claimIndex(claimID string) int {
	for i := range cv.Claims {
		if cv.Claims[i].ClaimID == claimID {
			return i
		}
	}
	return -1
}

// ActiveConstraints returns the constraints currently in force.
func (cv *ContextVersion) ActiveConstraints() []Constraint {
	var out []Constraint
	for _, c := range cv.Constraints {
		if c.Status == ConstraintActive {
			out = append(out, c)
		}
	}
	return out
}

// Clone deep-copies the version, graph included.
func (cv *ContextVersion) Clone() *ContextVersion {
	out := &ContextVersion{
		ID:          cv.ID,
		ParentID:    cv.ParentID,
		Sources:     make([]Source, len(cv.Sources)),
		Processed:   append([]string(nil), cv.Processed...),
		Evidence:    make([]EvidenceItem, len(cv.Evidence)),
		Claims:      make([]Claim, len(cv.Claims)),
		Constraints: make([]Constraint, len(cv.Constraints)),
		CreatedAt:   cv.CreatedAt,
	}
	for i, s := range cv.Sources {
		if s.Metadata != nil {
			md := make(map[string]string, len(s.Metadata))
			for k, v := range s.Metadata {
				md[k] = v
			}
			s.Metadata = md
		}
		out.Sources[i] = s
	}
	for i, e := range cv.Evidence {
		e.Data = pointer.Clone(e.Data)
		out.Evidence[i] = e
	}
	for i, c := range cv.Claims {
		c.Normalized.Value = pointer.Clone(c.Normalized.Value)
		c.CorrectedValue = pointer.Clone(c.CorrectedValue)
		c.EvidenceRefs = append([]EvidenceRef(nil), c.EvidenceRefs...)
		out.Claims[i] = c
	}
	for i, c := range cv.Constraints {
		c.Value = pointer.Clone(c.Value)
		c.DerivedFrom = append([]DerivedFrom(nil), c.DerivedFrom...)
		out.Constraints[i] = c
	}
	if cv.Graph != nil {
		out.Graph = graph.Restore(cv.Graph.ID(), cv.Graph.Status(), cv.Graph.Snapshot())
	} else {
		out.Graph = graph.New(cv.ID)
	}
	return out
}

// #endregion context-version
