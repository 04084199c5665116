// Package engine runs decision programs: steps execute phase by phase once
// their required pointers resolve, blocked steps surface action cards, and
// the draft matrix follows every context change.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/matrix"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/readiness"
	"github.com/weflora/planning-core/internal/registry"
)

// CandidatesPointer holds the candidate list the matrix rows are built from.
const CandidatesPointer = "/context/species/candidates"

// RunStore persists execution states.
type RunStore interface {
	SaveRun(ctx context.Context, st ExecutionState) error
	LoadRun(ctx context.Context, runID string) (ExecutionState, error)
}

// Readiness resolves the vault inputs of a skill. *readiness.Resolver and
// *readiness.Cache both satisfy it.
type Readiness interface {
	Resolve(ctx context.Context, req readiness.Request) (readiness.Result, error)
}

// #region engine
type Engine struct {
	program Program
	ordered []Step
	agents  *AgentRegistry
	reg     *registry.Registry
	rules   []matrix.Rule
	ready   Readiness
	scope   string
	store   RunStore
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	runs map[string]*run
}

// run guards one execution state; engine calls on the same run serialize.
type run struct {
	mu    sync.Mutex
	state ExecutionState
}

type Option func(*Engine)

func WithProgram(p Program) Option { return func(e *Engine) { e.program = p } }

func WithRegistry(r *registry.Registry) Option { return func(e *Engine) { e.reg = r } }

func WithColumnRules(rules []matrix.Rule) Option { return func(e *Engine) { e.rules = rules } }

// WithReadiness enables vault binding for skill agents, resolved in scope.
func WithReadiness(r Readiness, scope string) Option {
	return func(e *Engine) {
		e.ready = r
		e.scope = scope
	}
}

func WithRunStore(s RunStore) Option { return func(e *Engine) { e.store = s } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New builds an engine over agents. Every step of the program must have a
// registered agent.
func New(agents *AgentRegistry, opts ...Option) (*Engine, error) {
	e := &Engine{
		program: DefaultProgram(),
		agents:  agents,
		reg:     registry.Default(),
		rules:   matrix.DefaultRules(),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		runs:    make(map[string]*run),
	}
	for _, o := range opts {
		o(e)
	}
	if err := e.program.Validate(); err != nil {
		return nil, err
	}
	if err := agents.Check(e.program); err != nil {
		return nil, err
	}
	e.ordered = e.program.Ordered()
	return e, nil
}

func (e *Engine) Program() Program { return e.program }

// #endregion engine

// #region start
// Start creates a run from initial patches and runs it until it settles.
func (e *Engine) Start(ctx context.Context, initial []pointer.Patch) (ExecutionState, error) {
	if err := pointer.Validate(initial); err != nil {
		return ExecutionState{}, err
	}
	return e.start(ctx, initial, graph.Snapshot{})
}

// StartFromConstraints starts a run whose context is seeded from confirmed
// constraints, followed by extra patches.
func (e *Engine) StartFromConstraints(ctx context.Context, constraints []pciv.Constraint, extra []pointer.Patch) (ExecutionState, error) {
	patches, err := ConstraintPatches(constraints, e.reg)
	if err != nil {
		return ExecutionState{}, err
	}
	if err := pointer.Validate(extra); err != nil {
		return ExecutionState{}, err
	}
	return e.start(ctx, append(patches, extra...), ConstraintGraph(constraints))
}

func (e *Engine) start(ctx context.Context, initial []pointer.Patch, seed graph.Snapshot) (ExecutionState, error) {
	now := e.now()
	st := ExecutionState{
		RunID:       uuid.NewString(),
		ProgramID:   e.program.ID,
		Status:      RunIdle,
		Context:     pointer.NewDocument(),
		ActionCards: []ActionCard{},
		Graph:       graph.Clone(seed),
		Logs:        []LogEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, s := range e.program.Steps {
		st.Steps = append(st.Steps, StepState{StepID: s.ID, Status: StepQueued, UpdatedAt: now})
	}
	if err := pointer.Apply(&st.Context, initial); err != nil {
		return ExecutionState{}, err
	}
	e.recomputeMatrix(&st)
	e.log(&st, "", slog.LevelInfo, fmt.Sprintf("run started with %d patches", len(initial)))

	r := &run{state: st}
	e.mu.Lock()
	e.runs[st.RunID] = r
	e.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	err := e.loop(ctx, &r.state)
	return r.state.Clone(), err
}

// #endregion start

// #region operations
// Resume runs the loop again, typically after action cards were resolved.
func (e *Engine) Resume(ctx context.Context, runID string) (ExecutionState, error) {
	r, err := e.lookup(ctx, runID)
	if err != nil {
		return ExecutionState{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == RunDone {
		return r.state.Clone(), nil
	}
	err = e.loop(ctx, &r.state)
	return r.state.Clone(), err
}

// RunStep tries a single step outside the loop. Done and skipped steps
// cannot run again.
func (e *Engine) RunStep(ctx context.Context, runID, stepID string) (ExecutionState, error) {
	return e.mutate(ctx, runID, func(st *ExecutionState) error {
		step, ss, err := e.step(st, stepID)
		if err != nil {
			return err
		}
		if ss.Status == StepDone || ss.Status == StepSkipped {
			return apperr.InvalidTransition("step %s is %s", stepID, ss.Status)
		}
		_, err = e.execute(ctx, st, step)
		return err
	})
}

// SkipStep moves a blocked or queued step to skipped.
func (e *Engine) SkipStep(ctx context.Context, runID, stepID string) (ExecutionState, error) {
	return e.mutate(ctx, runID, func(st *ExecutionState) error {
		step, ss, err := e.step(st, stepID)
		if err != nil {
			return err
		}
		if ss.Status != StepBlocked && ss.Status != StepQueued {
			return apperr.InvalidTransition("cannot skip step %s in state %s", stepID, ss.Status)
		}
		e.transition(st, step, StepSkipped)
		e.resolveCards(st, stepID)
		e.log(st, stepID, slog.LevelInfo, "step skipped by caller")
		return nil
	})
}

// ApplyDefaults applies the suggested patches of an open card.
func (e *Engine) ApplyDefaults(ctx context.Context, runID, cardID string) (ExecutionState, error) {
	return e.mutate(ctx, runID, func(st *ExecutionState) error {
		card, err := openCard(st, cardID)
		if err != nil {
			return err
		}
		if len(card.SuggestedPatches) == 0 {
			return apperr.Validation("card %s has no suggested defaults", cardID)
		}
		return e.submit(st, card, clonePatches(card.SuggestedPatches))
	})
}

// SubmitActionCard applies caller patches for an open card.
func (e *Engine) SubmitActionCard(ctx context.Context, runID, cardID string, patches []pointer.Patch) (ExecutionState, error) {
	return e.mutate(ctx, runID, func(st *ExecutionState) error {
		card, err := openCard(st, cardID)
		if err != nil {
			return err
		}
		if len(patches) == 0 {
			return apperr.Validation("card %s: no patches submitted", cardID)
		}
		return e.submit(st, card, patches)
	})
}

// SetColumnFlags pins, unpins, shows or hides a matrix column. Nil leaves a
// flag unchanged.
func (e *Engine) SetColumnFlags(ctx context.Context, runID, columnID string, pinned, visible *bool) (ExecutionState, error) {
	return e.mutate(ctx, runID, func(st *ExecutionState) error {
		if st.Matrix == nil {
			return apperr.NotFound("run %s has no matrix", runID)
		}
		cols, err := matrix.SetFlags(st.Matrix.Columns, columnID, pinned, visible)
		if err != nil {
			return err
		}
		st.Matrix.Columns = cols
		return nil
	})
}

// AddColumn appends an ad hoc column to the matrix.
func (e *Engine) AddColumn(ctx context.Context, runID string, col matrix.Column) (ExecutionState, error) {
	return e.mutate(ctx, runID, func(st *ExecutionState) error {
		if st.Matrix == nil {
			return apperr.NotFound("run %s has no matrix", runID)
		}
		cols, err := matrix.AddAdhocColumn(st.Matrix.Columns, e.rules, col)
		if err != nil {
			return err
		}
		st.Matrix.Columns = cols
		e.rebuildRows(st)
		return nil
	})
}

// State returns a copy of the run.
func (e *Engine) State(ctx context.Context, runID string) (ExecutionState, error) {
	r, err := e.lookup(ctx, runID)
	if err != nil {
		return ExecutionState{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), nil
}

// Runs lists the ids of runs held in memory.
func (e *Engine) Runs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// mutate applies fn under the run lock, recomputes the run status and
// persists. On error the state is still returned.
func (e *Engine) mutate(ctx context.Context, runID string, fn func(st *ExecutionState) error) (ExecutionState, error) {
	r, err := e.lookup(ctx, runID)
	if err != nil {
		return ExecutionState{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err = fn(&r.state)
	r.state.Status = e.status(&r.state)
	e.persist(ctx, &r.state)
	return r.state.Clone(), err
}

func (e *Engine) lookup(ctx context.Context, runID string) (*run, error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	e.mu.Unlock()
	if ok {
		return r, nil
	}
	if e.store == nil {
		return nil, apperr.NotFound("run %s", runID)
	}
	st, err := e.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.runs[runID]; ok {
		return existing, nil
	}
	r = &run{state: st}
	e.runs[runID] = r
	return r, nil
}

func (e *Engine) step(st *ExecutionState, stepID string) (Step, *StepState, error) {
	step, ok := e.program.Step(stepID)
	if !ok {
		return Step{}, nil, apperr.NotFound("step %s", stepID)
	}
	ss, ok := st.Step(stepID)
	if !ok {
		return Step{}, nil, apperr.NotFound("step %s in run %s", stepID, st.RunID)
	}
	return step, ss, nil
}

// #endregion operations

// #region loop
// loop makes passes over the steps in phase order until a pass makes no
// progress, then settles optional steps and the run status.
func (e *Engine) loop(ctx context.Context, st *ExecutionState) error {
	ctx, span := tracer.Start(ctx, "engine.Run", trace.WithAttributes(attribute.String("run_id", st.RunID)))
	defer span.End()

	st.Status = RunRunning
	for {
		progressed := false
		for _, step := range e.ordered {
			ss, ok := st.Step(step.ID)
			if !ok || ss.Status.settled() {
				continue
			}
			ran, err := e.execute(ctx, st, step)
			if err != nil {
				st.Status = RunError
				st.CurrentStepID = step.ID
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				runsFinished.WithLabelValues(string(RunError)).Inc()
				e.persist(ctx, st)
				return err
			}
			progressed = progressed || ran
		}
		if !progressed {
			break
		}
	}

	for _, step := range e.ordered {
		ss, ok := st.Step(step.ID)
		if ok && step.Optional && ss.Status == StepBlocked {
			e.transition(st, step, StepSkipped)
			e.resolveCards(st, step.ID)
			e.log(st, step.ID, slog.LevelInfo, "optional step skipped: inputs still missing")
		}
	}

	st.Status = e.status(st)
	st.CurrentStepID = ""
	span.SetAttributes(attribute.String("status", string(st.Status)))
	runsFinished.WithLabelValues(string(st.Status)).Inc()
	e.log(st, "", slog.LevelInfo, "run settled: "+string(st.Status))
	e.persist(ctx, st)
	return nil
}

// execute binds vault inputs, checks required pointers and runs the agent.
// It reports whether the agent ran.
func (e *Engine) execute(ctx context.Context, st *ExecutionState, step Step) (bool, error) {
	agent, err := e.agents.Lookup(step.AgentRef)
	if err != nil {
		return false, err
	}
	if sa, ok := agent.(SkillAgent); ok && e.ready != nil {
		bound, err := e.bindReadiness(ctx, st, step, sa.Skill())
		if err != nil {
			return false, err
		}
		if !bound {
			return false, nil
		}
	}
	if missing := pointer.ListMissing(st.Context, step.RequiredPointers); len(missing) > 0 {
		e.block(st, step, CardMissingInputs, missing)
		return false, nil
	}
	return true, e.runAgent(ctx, st, step, agent)
}

func (e *Engine) runAgent(ctx context.Context, st *ExecutionState, step Step, agent Agent) error {
	ctx, span := tracer.Start(ctx, "engine.step", trace.WithAttributes(
		attribute.String("step", step.ID),
		attribute.String("agent", step.AgentRef),
	))
	defer span.End()

	ss, _ := st.Step(step.ID)
	ss.Attempts++
	ss.Missing = nil
	ss.Error = ""
	e.transition(st, step, StepRunning)
	st.CurrentStepID = step.ID
	e.log(st, step.ID, slog.LevelInfo, "step started")

	start := time.Now()
	out, err := safeRun(ctx, agent, AgentInput{
		RunID:   st.RunID,
		Context: pointer.Clone(st.Context),
		Step:    step,
		State:   st.Clone(),
	})
	if err == nil {
		err = e.applyOutput(st, out)
	}
	stepDuration.WithLabelValues(step.AgentRef).Observe(time.Since(start).Seconds())

	if err != nil {
		ss.Error = err.Error()
		e.transition(st, step, StepError)
		e.log(st, step.ID, slog.LevelError, "step failed: "+err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperr.AgentExecution(step.AgentRef, fmt.Errorf("step %s: %w", step.ID, err))
	}

	e.transition(st, step, StepDone)
	e.resolveCards(st, step.ID)
	e.log(st, step.ID, slog.LevelInfo, fmt.Sprintf("step done: %d patches", len(out.Patches)))
	e.persist(ctx, st)
	return nil
}

// safeRun turns an agent panic into an error so the step lands in error.
func safeRun(ctx context.Context, agent Agent, in AgentInput) (out AgentOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = AgentOutput{}, fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return agent.Run(ctx, in)
}

// applyOutput validates every patch, applies them to a copy of the context
// and swaps it in, so a batch lands entirely or not at all.
func (e *Engine) applyOutput(st *ExecutionState, out AgentOutput) error {
	if err := applyPatches(st, out.Patches); err != nil {
		return err
	}
	if len(out.Graph.Nodes) > 0 || len(out.Graph.Edges) > 0 {
		st.Graph = graph.Merge(st.Graph, out.Graph)
	}
	e.recomputeMatrix(st)
	return nil
}

func applyPatches(st *ExecutionState, patches []pointer.Patch) error {
	if err := pointer.Validate(patches); err != nil {
		return err
	}
	next := pointer.Clone(st.Context)
	if err := pointer.Apply(&next, patches); err != nil {
		return err
	}
	st.Context = next
	return nil
}

// status derives the run status from the step states.
func (e *Engine) status(st *ExecutionState) RunStatus {
	allSettled, blocked := true, false
	for _, ss := range st.Steps {
		switch ss.Status {
		case StepError:
			return RunError
		case StepBlocked:
			blocked = true
			allSettled = false
		case StepDone, StepSkipped:
		default:
			allSettled = false
		}
	}
	switch {
	case allSettled:
		return RunDone
	case blocked:
		return RunBlocked
	default:
		return RunIdle
	}
}

func (e *Engine) transition(st *ExecutionState, step Step, to StepStatus) {
	ss, _ := st.Step(step.ID)
	ss.Status = to
	ss.UpdatedAt = e.now()
	stepsTotal.WithLabelValues(step.AgentRef, string(to)).Inc()
}

// #endregion loop

// #region readiness
// bindReadiness resolves the skill's inputs. Inputs whose target already
// holds a value count as manual. Ready and needs_review results bind into
// empty targets; missing and blocked results block the step.
func (e *Engine) bindReadiness(ctx context.Context, st *ExecutionState, step Step, skill readiness.Skill) (bool, error) {
	req := readiness.Request{Skill: skill, Scope: e.scope, Manual: make(map[string]pointer.Value)}
	req.Skill.Inputs = append([]readiness.Input(nil), skill.Inputs...)
	for i, in := range req.Skill.Inputs {
		target := in.TargetPointer()
		if target == "" {
			continue
		}
		if v := pointer.Get(st.Context, target); !v.IsEmpty() {
			req.Skill.Inputs[i].Source = readiness.SourceManual
			req.Skill.Inputs[i].Target = target
			req.Manual[in.ID] = pointer.Clone(v)
		}
	}

	res, err := e.ready.Resolve(ctx, req)
	if err != nil {
		return false, fmt.Errorf("readiness of step %s: %w", step.ID, err)
	}
	ss, _ := st.Step(step.ID)
	ss.Readiness = string(res.Status)

	switch res.Status {
	case readiness.StatusReady, readiness.StatusNeedsReview:
		var patches []pointer.Patch
		for _, p := range readiness.BindingPatches(res) {
			if pointer.Get(st.Context, p.Pointer).IsEmpty() {
				patches = append(patches, p)
			}
		}
		if len(patches) > 0 {
			if err := applyPatches(st, patches); err != nil {
				return false, fmt.Errorf("bind step %s: %w", step.ID, err)
			}
			e.recomputeMatrix(st)
			e.log(st, step.ID, slog.LevelInfo, fmt.Sprintf("bound %d inputs from the vault", len(patches)))
		}
		if res.Status == readiness.StatusNeedsReview {
			e.log(st, step.ID, slog.LevelWarn, "vault bindings need review: "+issueSummary(res.Issues))
		}
		return true, nil
	default:
		var missing []string
		for _, id := range res.Unbound {
			for _, in := range req.Skill.Inputs {
				if in.ID != id || !in.Required {
					continue
				}
				if target := in.TargetPointer(); target != "" {
					missing = append(missing, target)
				}
			}
		}
		e.block(st, step, CardReadiness, missing)
		return false, nil
	}
}

func issueSummary(issues []readiness.Issue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.InputID + ":" + string(is.Code)
	}
	return strings.Join(parts, ", ")
}

// #endregion readiness

// #region cards
// block marks the step blocked and keeps exactly one open card for it.
func (e *Engine) block(st *ExecutionState, step Step, kind CardKind, missing []string) {
	ss, _ := st.Step(step.ID)
	unchanged := ss.Status == StepBlocked && equalStrings(ss.Missing, missing)
	ss.Missing = append([]string(nil), missing...)
	if ss.Status != StepBlocked {
		e.transition(st, step, StepBlocked)
	}

	card := e.card(step, kind, missing)
	if existing := openCardFor(st, step.ID); existing != nil {
		card.ID = existing.ID
		card.CreatedAt = existing.CreatedAt
		*existing = card
	} else {
		st.ActionCards = append(st.ActionCards, card)
	}
	if !unchanged {
		e.log(st, step.ID, slog.LevelInfo, "step blocked: missing "+strings.Join(missing, ", "))
	}
}

func (e *Engine) card(step Step, kind CardKind, missing []string) ActionCard {
	label := step.Label
	if label == "" {
		label = step.ID
	}
	card := ActionCard{
		ID:        uuid.NewString(),
		StepID:    step.ID,
		Kind:      kind,
		Title:     fmt.Sprintf("%s needs %d more input(s)", label, len(missing)),
		Missing:   append([]string(nil), missing...),
		Status:    CardOpen,
		CreatedAt: e.now(),
	}
	for _, ptr := range missing {
		f := CardField{Pointer: ptr, Label: path.Base(ptr)}
		if def, ok := e.reg.ByPointer(ptr); ok {
			f.Label = def.Label
			f.HelpText = def.HelpText
		}
		if v, ok := e.program.Defaults[ptr]; ok {
			f.Suggested = pointer.Clone(v)
			card.SuggestedPatches = append(card.SuggestedPatches, pointer.Patch{Pointer: ptr, Value: pointer.Clone(v)})
		} else {
			f.Manual = true
		}
		card.Fields = append(card.Fields, f)
	}
	return card
}

// submit applies patches for card, resolves it and requeues blocked steps.
func (e *Engine) submit(st *ExecutionState, card *ActionCard, patches []pointer.Patch) error {
	if err := applyPatches(st, patches); err != nil {
		return err
	}
	card.Status = CardResolved
	for _, step := range e.ordered {
		if ss, ok := st.Step(step.ID); ok && ss.Status == StepBlocked {
			ss.Missing = nil
			e.transition(st, step, StepQueued)
		}
	}
	e.recomputeMatrix(st)
	e.log(st, card.StepID, slog.LevelInfo, fmt.Sprintf("card resolved with %d patches", len(patches)))
	return nil
}

func (e *Engine) resolveCards(st *ExecutionState, stepID string) {
	for i := range st.ActionCards {
		if st.ActionCards[i].StepID == stepID && st.ActionCards[i].Status == CardOpen {
			st.ActionCards[i].Status = CardResolved
		}
	}
}

func openCard(st *ExecutionState, cardID string) (*ActionCard, error) {
	card, ok := st.Card(cardID)
	if !ok {
		return nil, apperr.NotFound("action card %s", cardID)
	}
	if card.Status != CardOpen {
		return nil, apperr.InvalidTransition("action card %s is %s", cardID, card.Status)
	}
	return card, nil
}

func openCardFor(st *ExecutionState, stepID string) *ActionCard {
	for i := range st.ActionCards {
		if st.ActionCards[i].StepID == stepID && st.ActionCards[i].Status == CardOpen {
			return &st.ActionCards[i]
		}
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// #endregion cards

// #region matrix
func (e *Engine) recomputeMatrix(st *ExecutionState) {
	var prior []matrix.Column
	if st.Matrix == nil {
		st.Matrix = &matrix.DraftMatrix{ID: "matrix-" + st.RunID, Title: e.program.Title}
	} else {
		prior = st.Matrix.Columns
	}
	st.Matrix.Columns = matrix.RecomputeColumns(matrix.BaseColumns(), e.rules, st.Context, prior)
	e.rebuildRows(st)
}

func (e *Engine) rebuildRows(st *ExecutionState) {
	cands, _ := pointer.Get(st.Context, CandidatesPointer).AsArray()
	st.Matrix.Rows = matrix.BuildRows(cands, st.Matrix.Columns)
}

// #endregion matrix

// #region persist
func (e *Engine) log(st *ExecutionState, stepID string, level slog.Level, msg string) {
	st.Logs = append(st.Logs, LogEntry{At: e.now(), StepID: stepID, Level: strings.ToLower(level.String()), Message: msg})
	e.logger.Log(context.Background(), level, msg, "run_id", st.RunID, "step", stepID)
}

func (e *Engine) persist(ctx context.Context, st *ExecutionState) {
	st.UpdatedAt = e.now()
	if e.store == nil {
		return
	}
	if err := e.store.SaveRun(ctx, st.Clone()); err != nil {
		e.logger.Warn("failed to persist run", "run_id", st.RunID, "error", err)
	}
}

// #endregion persist
