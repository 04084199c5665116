package engine

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pointer"
)

//go:embed program.yaml
var defaultProgramYAML []byte

// #region program
type Phase string

const (
	PhaseSite    Phase = "site"
	PhaseSpecies Phase = "species"
	PhaseSupply  Phase = "supply"
)

// PhaseOrder is the order in which phases run.
var PhaseOrder = []Phase{PhaseSite, PhaseSpecies, PhaseSupply}

func phaseRank(p Phase) int {
	for i, q := range PhaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// Step is one declared step of a decision program.
type Step struct {
	ID               string   `yaml:"id" json:"id"`
	Phase            Phase    `yaml:"phase" json:"phase"`
	Label            string   `yaml:"label" json:"label"`
	RequiredPointers []string `yaml:"required_pointers" json:"requiredPointers"`
	ProducesPointers []string `yaml:"produces_pointers" json:"producesPointers"`
	AgentRef         string   `yaml:"agent" json:"agentRef"`
	Optional         bool     `yaml:"optional" json:"optional,omitempty"`
}

// Program is a static decision program. Defaults are the suggested values
// offered on action cards, by pointer.
type Program struct {
	ID       string                   `yaml:"id" json:"id"`
	Title    string                   `yaml:"title" json:"title"`
	Steps    []Step                   `yaml:"steps" json:"steps"`
	Defaults map[string]pointer.Value `yaml:"-" json:"defaults,omitempty"`
}

type programFile struct {
	ID       string         `yaml:"id"`
	Title    string         `yaml:"title"`
	Steps    []Step         `yaml:"steps"`
	Defaults map[string]any `yaml:"defaults"`
}

// LoadProgram parses and validates a YAML program definition.
func LoadProgram(data []byte) (Program, error) {
	var f programFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Program{}, fmt.Errorf("parse program: %w", err)
	}
	p := Program{ID: f.ID, Title: f.Title, Steps: f.Steps, Defaults: make(map[string]pointer.Value, len(f.Defaults))}
	for ptr, raw := range f.Defaults {
		v, err := pointer.FromAny(raw)
		if err != nil {
			return Program{}, fmt.Errorf("program %s default %s: %w", f.ID, ptr, err)
		}
		p.Defaults[ptr] = v
	}
	if err := p.Validate(); err != nil {
		return Program{}, err
	}
	return p, nil
}

// DefaultProgram is the species selection program.
func DefaultProgram() Program {
	p, err := LoadProgram(defaultProgramYAML)
	if err != nil {
		panic(fmt.Sprintf("engine: embedded program invalid: %v", err))
	}
	return p
}

// Validate checks step ids, phases, pointers and agent refs.
func (p Program) Validate() error {
	if p.ID == "" {
		return apperr.Validation("program id is required")
	}
	if len(p.Steps) == 0 {
		return apperr.Validation("program %s has no steps", p.ID)
	}
	seen := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID == "" {
			return apperr.Validation("program %s: step without id", p.ID)
		}
		if seen[s.ID] {
			return apperr.Validation("program %s: duplicate step %s", p.ID, s.ID)
		}
		seen[s.ID] = true
		if phaseRank(s.Phase) < 0 {
			return apperr.Validation("step %s: unknown phase %q", s.ID, s.Phase)
		}
		if s.AgentRef == "" {
			return apperr.Validation("step %s: agent is required", s.ID)
		}
		for _, ptr := range append(append([]string(nil), s.RequiredPointers...), s.ProducesPointers...) {
			if !pointer.Valid(ptr) {
				return apperr.Validation("step %s: malformed pointer %q", s.ID, ptr)
			}
		}
	}
	for ptr := range p.Defaults {
		if !pointer.Valid(ptr) {
			return apperr.Validation("program %s: malformed default pointer %q", p.ID, ptr)
		}
	}
	return nil
}

// Ordered returns the steps in phase order, declaration order inside a phase.
func (p Program) Ordered() []Step {
	out := append([]Step(nil), p.Steps...)
	sort.SliceStable(out, func(i, j int) bool { return phaseRank(out[i].Phase) < phaseRank(out[j].Phase) })
	return out
}

// Step returns the declared step with id.
func (p Program) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// #endregion program
