package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/readiness"
)

// #region agent
// AgentInput is what an agent sees: a private copy of the context, its step
// and a read-only view of the run.
type AgentInput struct {
	RunID   string
	Context pointer.Value
	Step    Step
	State   ExecutionState
}

// AgentOutput carries the patches to apply and graph side effects to merge.
type AgentOutput struct {
	Patches []pointer.Patch
	Graph   graph.Snapshot
}

// Agent executes one step. A returned error fails the step.
type Agent interface {
	Run(ctx context.Context, in AgentInput) (AgentOutput, error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, in AgentInput) (AgentOutput, error)

func (f AgentFunc) Run(ctx context.Context, in AgentInput) (AgentOutput, error) { return f(ctx, in) }

// SkillAgent declares vault inputs; the engine checks their readiness and
// binds them before the step's required pointers are checked.
type SkillAgent interface {
	Agent
	Skill() readiness.Skill
}

// #endregion agent

// #region registry
// AgentRegistry maps agent refs to executors.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]Agent)}
}

// Register binds ref to a. Refs are unique.
func (r *AgentRegistry) Register(ref string, a Agent) error {
	if ref == "" || a == nil {
		return apperr.Validation("agent ref and executor are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[ref]; ok {
		return apperr.Validation("agent %s already registered", ref)
	}
	r.agents[ref] = a
	return nil
}

func (r *AgentRegistry) Lookup(ref string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[ref]
	if !ok {
		return nil, apperr.NotFound("agent %s", ref)
	}
	return a, nil
}

// Refs returns the registered refs, sorted.
func (r *AgentRegistry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for ref := range r.agents {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

// Skills lists the skills declared by registered agents, in ref order.
func (r *AgentRegistry) Skills() []readiness.Skill {
	var out []readiness.Skill
	for _, ref := range r.Refs() {
		a, _ := r.Lookup(ref)
		if sa, ok := a.(SkillAgent); ok {
			out = append(out, sa.Skill())
		}
	}
	return out
}

// Check reports the first step of p whose agent is not registered.
func (r *AgentRegistry) Check(p Program) error {
	for _, s := range p.Steps {
		if _, err := r.Lookup(s.AgentRef); err != nil {
			return apperr.Validation("step %s: agent %s is not registered", s.ID, s.AgentRef)
		}
	}
	return nil
}

// #endregion registry
