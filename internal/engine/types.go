package engine

import (
	"time"

	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/matrix"
	"github.com/weflora/planning-core/internal/pointer"
)

// #region step-status
type StepStatus string

const (
	StepQueued  StepStatus = "queued"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepBlocked StepStatus = "blocked"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// settled steps are never picked up by the run loop again.
func (s StepStatus) settled() bool {
	return s == StepDone || s == StepSkipped || s == StepError
}

type RunStatus string

const (
	RunIdle    RunStatus = "idle"
	RunRunning RunStatus = "running"
	RunBlocked RunStatus = "blocked"
	RunDone    RunStatus = "done"
	RunError   RunStatus = "error"
)

// #endregion step-status

// #region state
type StepState struct {
	StepID    string     `json:"stepId"`
	Status    StepStatus `json:"status"`
	Missing   []string   `json:"missing,omitempty"`
	Readiness string     `json:"readiness,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type CardKind string

const (
	CardMissingInputs CardKind = "missing_inputs"
	CardReadiness     CardKind = "readiness"
)

type CardStatus string

const (
	CardOpen     CardStatus = "open"
	CardResolved CardStatus = "resolved"
)

// CardField describes one missing pointer. Manual is set when there is no
// suggested default and the value has to be entered.
type CardField struct {
	Pointer   string        `json:"pointer"`
	Label     string        `json:"label"`
	HelpText  string        `json:"helpText,omitempty"`
	Suggested pointer.Value `json:"suggested,omitzero"`
	Manual    bool          `json:"manual"`
}

// ActionCard is the remediation hint of a blocked step.
type ActionCard struct {
	ID               string          `json:"id"`
	StepID           string          `json:"stepId"`
	Kind             CardKind        `json:"kind"`
	Title            string          `json:"title"`
	Missing          []string        `json:"missing"`
	Fields           []CardField     `json:"fields"`
	SuggestedPatches []pointer.Patch `json:"suggestedPatches,omitempty"`
	Status           CardStatus      `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
}

type LogEntry struct {
	At      time.Time `json:"at"`
	StepID  string    `json:"stepId,omitempty"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ExecutionState is the read model of one run.
type ExecutionState struct {
	RunID         string              `json:"runId"`
	ProgramID     string              `json:"programId"`
	Status        RunStatus           `json:"status"`
	CurrentStepID string              `json:"currentStepId,omitempty"`
	Context       pointer.Value       `json:"context"`
	Steps         []StepState         `json:"steps"`
	Matrix        *matrix.DraftMatrix `json:"draftMatrix,omitempty"`
	ActionCards   []ActionCard        `json:"actionCards"`
	Graph         graph.Snapshot      `json:"evidenceGraph"`
	Logs          []LogEntry          `json:"logs"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Step returns the state of stepID.
func (s *ExecutionState) Step(stepID string) (*StepState, bool) {
	for i := range s.Steps {
		if s.Steps[i].StepID == stepID {
			return &s.Steps[i], true
		}
	}
	return nil, false
}

// Card returns the action card with id.
func (s *ExecutionState) Card(cardID string) (*ActionCard, bool) {
	for i := range s.ActionCards {
		if s.ActionCards[i].ID == cardID {
			return &s.ActionCards[i], true
		}
	}
	return nil, false
}

// OpenCards returns the unresolved action cards.
func (s ExecutionState) OpenCards() []ActionCard {
	var out []ActionCard
	for _, c := range s.ActionCards {
		if c.Status == CardOpen {
			out = append(out, c)
		}
	}
	return out
}

// Clone deep-copies the state.
func (s ExecutionState) Clone() ExecutionState {
	out := s
	out.Context = pointer.Clone(s.Context)
	out.Steps = make([]StepState, len(s.Steps))
	for i, st := range s.Steps {
		st.Missing = append([]string(nil), st.Missing...)
		out.Steps[i] = st
	}
	out.ActionCards = make([]ActionCard, len(s.ActionCards))
	for i, c := range s.ActionCards {
		c.Missing = append([]string(nil), c.Missing...)
		c.Fields = make([]CardField, len(c.Fields))
		for j, f := range s.ActionCards[i].Fields {
			f.Suggested = pointer.Clone(f.Suggested)
			c.Fields[j] = f
		}
		c.SuggestedPatches = clonePatches(c.SuggestedPatches)
		out.ActionCards[i] = c
	}
	out.Graph = graph.Clone(s.Graph)
	out.Logs = append([]LogEntry(nil), s.Logs...)
	if s.Matrix != nil {
		out.Matrix = cloneMatrix(*s.Matrix)
	}
	return out
}

func clonePatches(ps []pointer.Patch) []pointer.Patch {
	if ps == nil {
		return nil
	}
	out := make([]pointer.Patch, len(ps))
	for i, p := range ps {
		out[i] = pointer.Patch{Pointer: p.Pointer, Value: pointer.Clone(p.Value)}
	}
	return out
}

func cloneMatrix(m matrix.DraftMatrix) *matrix.DraftMatrix {
	out := m
	out.Columns = make([]matrix.Column, len(m.Columns))
	for i, c := range m.Columns {
		if c.Pinned != nil {
			c.Pinned = matrix.Bool(*c.Pinned)
		}
		if c.Visible != nil {
			c.Visible = matrix.Bool(*c.Visible)
		}
		out.Columns[i] = c
	}
	out.Rows = make([]matrix.Row, len(m.Rows))
	for i, r := range m.Rows {
		cells := make([]matrix.Cell, len(r.Cells))
		for j, c := range r.Cells {
			c.Value = pointer.Clone(c.Value)
			c.Evidence = append([]string(nil), c.Evidence...)
			cells[j] = c
		}
		out.Rows[i] = matrix.Row{ID: r.ID, Cells: cells}
	}
	return &out
}

// #endregion state
