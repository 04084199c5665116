package pciv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/registry"
)

// #region service
// Service runs the draft -> locked lifecycle of context versions. Mutating
// operations on one context version are serialized.
type Service struct {
	store     Store
	reg       *registry.Registry
	extractor *Extractor
	extractCf *ExtractorConfig
	audit     logging.Auditor
	logger    *slog.Logger
	locks     keyedMutex
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithAuditor(a logging.Auditor) Option { return func(s *Service) { s.audit = a } }

func WithExtractorConfig(cfg ExtractorConfig) Option {
	return func(s *Service) { s.extractCf = &cfg }
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires a lifecycle service over store.
func NewService(store Store, reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		store:  store,
		reg:    reg,
		audit:  logging.Nop{},
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	cfg := DefaultExtractorConfig()
	if s.extractCf != nil {
		cfg = *s.extractCf
	}
	s.extractor = NewExtractor(reg, cfg, s.logger)
	return s
}

func (s *Service) Registry() *registry.Registry { return s.reg }

// #endregion service

// #region create
// CreateContextVersion starts a new draft version. With a parent, the
// parent's active constraints carry over so re-confirming supersedes them.
func (s *Service) CreateContextVersion(ctx context.Context, parentID string) (_ *ContextVersion, err error) {
	ctx, span := tracer.Start(ctx, "pciv.CreateContextVersion")
	id := uuid.NewString()
	defer func() { s.finish(ctx, span, "create", id, err, parentID) }()

	cv := &ContextVersion{
		ID:        id,
		ParentID:  parentID,
		Graph:     graph.New(id),
		CreatedAt: s.now(),
	}
	if parentID != "" {
		parent, err := s.store.LoadContext(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("load parent: %w", err)
		}
		for _, c := range parent.ActiveConstraints() {
			c.Value = pointer.Clone(c.Value)
			c.DerivedFrom = append([]DerivedFrom(nil), c.DerivedFrom...)
			cv.Constraints = append(cv.Constraints, c)
			if err := cv.Graph.AddNode(constraintNode(c)); err != nil {
				return nil, err
			}
		}
	}
	if err := s.store.SaveContext(ctx, cv); err != nil {
		return nil, fmt.Errorf("save context: %w", err)
	}
	return cv.Clone(), nil
}

// #endregion create

// #region add-source
// AddSource attaches a source to a draft version. An empty SourceID is
// generated.
func (s *Service) AddSource(ctx context.Context, contextID string, src Source) (_ Source, err error) {
	ctx, span := tracer.Start(ctx, "pciv.AddSource")
	defer func() { s.finish(ctx, span, "add_source", contextID, err, src.SourceID) }()

	unlock := s.locks.lock(contextID)
	defer unlock()

	cv, err := s.store.LoadContext(ctx, contextID)
	if err != nil {
		return Source{}, err
	}
	if cv.Status() == graph.StatusLocked {
		return Source{}, apperr.InvalidTransition("context %s is locked", contextID)
	}
	switch src.Type {
	case SourceFile, SourceLocationHint, SourceAPI, SourceManualNote:
	default:
		return Source{}, apperr.Validation("unknown source type %q", src.Type)
	}
	if src.Title == "" {
		return Source{}, apperr.Validation("source title is required")
	}
	if src.SourceID == "" {
		src.SourceID = uuid.NewString()
	}
	for _, existing := range cv.Sources {
		if existing.SourceID == src.SourceID {
			return Source{}, apperr.Validation("source %s already added", src.SourceID)
		}
	}

	cv.Sources = append(cv.Sources, src)
	if err := s.store.SaveContext(ctx, cv); err != nil {
		return Source{}, fmt.Errorf("save context: %w", err)
	}
	return src, nil
}

// #endregion add-source

// #region extract
// ExtractContext runs extraction over sources not yet processed and records
// the results in the graph. Prior claims are never modified.
func (s *Service) ExtractContext(ctx context.Context, contextID string) (_ Extraction, err error) {
	ctx, span := tracer.Start(ctx, "pciv.ExtractContext")
	var refs []string
	defer func() { s.finish(ctx, span, "extract", contextID, err, refs...) }()

	unlock := s.locks.lock(contextID)
	defer unlock()

	cv, err := s.store.LoadContext(ctx, contextID)
	if err != nil {
		return Extraction{}, err
	}
	if cv.Status() == graph.StatusLocked {
		return Extraction{}, apperr.InvalidTransition("context %s is locked", contextID)
	}

	var pending []Source
	for _, src := range cv.Sources {
		if !cv.isProcessed(src.SourceID) {
			pending = append(pending, src)
		}
	}
	result := s.extractor.Extract(pending)

	var next graph.Snapshot
	for _, src := range pending {
		graph.UpsertNode(&next, sourceNode(src))
		cv.Processed = append(cv.Processed, src.SourceID)
		refs = append(refs, src.SourceID)
	}
	seenEvidence := make(map[string]bool, len(cv.Evidence))
	for _, ev := range cv.Evidence {
		seenEvidence[ev.EvidenceID] = true
	}
	for _, ev := range result.Evidence {
		if !seenEvidence[ev.EvidenceID] {
			seenEvidence[ev.EvidenceID] = true
			cv.Evidence = append(cv.Evidence, ev)
		}
		evID := graph.NodeID(graph.NodeEvidence, ev.EvidenceID)
		graph.UpsertNode(&next, graph.Node{
			NodeID:     evID,
			NodeType:   graph.NodeEvidence,
			Label:      fmt.Sprintf("%s %s", ev.Kind, ev.Locator),
			Confidence: 1,
			Payload:    pointer.Map(map[string]pointer.Value{"kind": pointer.String(string(ev.Kind)), "locator": pointer.String(ev.Locator)}),
		})
		graph.UpsertEdge(&next, graph.NewEdge(evID, graph.NodeID(graph.NodeSource, ev.SourceID), graph.EdgeCites, graph.PolarityNeutral, 1))
	}

	added := 0
	for _, c := range result.Claims {
		if cv.claimIndex(c.ClaimID) >= 0 {
			continue
		}
		cv.Claims = append(cv.Claims, c)
		added++
		graph.UpsertNode(&next, claimNode(c))
		for _, ref := range c.EvidenceRefs {
			graph.UpsertEdge(&next, graph.NewEdge(
				graph.NodeID(graph.NodeEvidence, ref.EvidenceID),
				graph.NodeID(graph.NodeClaim, c.ClaimID),
				graph.EdgeSupports, graph.PolarityPositive, ref.Strength.Score(),
			))
		}
	}
	if err := cv.Graph.Merge(next); err != nil {
		return Extraction{}, err
	}
	if err := s.store.SaveContext(ctx, cv); err != nil {
		return Extraction{}, fmt.Errorf("save context: %w", err)
	}

	claimsExtracted.Add(float64(added))
	span.SetAttributes(
		attribute.Int("pciv.sources", len(pending)),
		attribute.Int("pciv.evidence", len(result.Evidence)),
		attribute.Int("pciv.claims", added),
	)
	s.logger.Info("context extracted",
		"context_id", contextID, "sources", len(pending), "evidence", len(result.Evidence),
		"claims", added, "skipped", len(result.Skipped))
	return result, nil
}

// #endregion extract

// #region update-claim
// UpdateClaim applies a reviewer action and recomputes the claim confidence.
func (s *Service) UpdateClaim(ctx context.Context, contextID, claimID string, upd ClaimUpdate) (_ Claim, err error) {
	ctx, span := tracer.Start(ctx, "pciv.UpdateClaim")
	defer func() { s.finish(ctx, span, "update_claim", contextID, err, claimID) }()

	unlock := s.locks.lock(contextID)
	defer unlock()

	cv, err := s.store.LoadContext(ctx, contextID)
	if err != nil {
		return Claim{}, err
	}
	if cv.Status() == graph.StatusLocked {
		return Claim{}, apperr.InvalidTransition("context %s is locked", contextID)
	}
	i := cv.claimIndex(claimID)
	if i < 0 {
		return Claim{}, apperr.NotFound("claim %s", claimID)
	}

	c := cv.Claims[i]
	switch upd.Status {
	case ClaimCorrected:
		if !upd.CorrectedValue.IsDefined() || upd.CorrectedValue.IsNull() {
			return Claim{}, apperr.Validation("corrected claim %s needs a value", claimID)
		}
		v, err := s.reg.CoerceValue(c.Normalized.Key, upd.CorrectedValue)
		if err != nil {
			return Claim{}, err
		}
		c.CorrectedValue = v
	case ClaimAccepted, ClaimRejected, ClaimProposed:
		c.CorrectedValue = pointer.Value{}
	default:
		return Claim{}, apperr.Validation("unknown claim status %q", upd.Status)
	}
	c.Status = upd.Status
	c.Confidence = ClaimConfidence(c)
	cv.Claims[i] = c

	if err := cv.Graph.AddNode(claimNode(c)); err != nil {
		return Claim{}, err
	}
	if err := s.store.SaveContext(ctx, cv); err != nil {
		return Claim{}, fmt.Errorf("save context: %w", err)
	}
	return c, nil
}

// #endregion update-claim

// #region confirm
// claimWeight is a claim's share in its constraint; reviewer corrections
// count double.
func claimWeight(c Claim) float64 {
	if c.Status == ClaimCorrected {
		return 2
	}
	return 1
}

type tally struct {
	value  pointer.Value
	sum    float64
	claims []Claim
}

// ConfirmConstraints folds accepted and corrected claims into constraints,
// one per key, and locks the version. The value with the highest summed
// confidence wins; claims backing other values get conflicts edges.
func (s *Service) ConfirmConstraints(ctx context.Context, contextID string) (_ []Constraint, err error) {
	ctx, span := tracer.Start(ctx, "pciv.ConfirmConstraints")
	var refs []string
	defer func() { s.finish(ctx, span, "confirm", contextID, err, refs...) }()

	unlock := s.locks.lock(contextID)
	defer unlock()

	cv, err := s.store.LoadContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if cv.Status() == graph.StatusLocked {
		return nil, apperr.InvalidTransition("context %s is already locked", contextID)
	}

	var keys []string
	byKey := make(map[string][]*tally)
	for _, c := range cv.Claims {
		if c.Status != ClaimAccepted && c.Status != ClaimCorrected {
			continue
		}
		key := c.Normalized.Key
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		v := c.EffectiveValue()
		var t *tally
		for _, existing := range byKey[key] {
			if pointer.Equal(existing.value, v) {
				t = existing
				break
			}
		}
		if t == nil {
			t = &tally{value: v}
			byKey[key] = append(byKey[key], t)
		}
		t.sum += c.Confidence
		t.claims = append(t.claims, c)
	}

	prior := len(cv.Constraints)
	var created []Constraint
	for _, key := range keys {
		def, err := s.reg.Must(key)
		if err != nil {
			return nil, err
		}
		tallies := byKey[key]
		best := tallies[0]
		for _, t := range tallies[1:] {
			if t.sum > best.sum {
				best = t
			}
		}

		con := Constraint{
			ConstraintID: uuid.NewString(),
			Key:          key,
			Value:        pointer.Clone(best.value),
			Datatype:     def.Datatype,
			Unit:         def.Unit,
			Status:       ConstraintActive,
		}
		var total float64
		for _, c := range best.claims {
			w := claimWeight(c)
			total += w
			con.DerivedFrom = append(con.DerivedFrom, DerivedFrom{ClaimID: c.ClaimID, Weight: w})
		}
		con.Confidence = ConstraintConfidence(con, cv.Claims)

		for i := 0; i < prior; i++ {
			old := &cv.Constraints[i]
			if old.Key == key && old.Status == ConstraintActive {
				old.Status = ConstraintSuperseded
				if err := cv.Graph.AddNode(constraintNode(*old)); err != nil {
					return nil, err
				}
			}
		}

		conID := graph.NodeID(graph.NodeConstraint, con.ConstraintID)
		if err := cv.Graph.AddNode(constraintNode(con)); err != nil {
			return nil, err
		}
		for _, df := range con.DerivedFrom {
			edge := graph.NewEdge(graph.NodeID(graph.NodeClaim, df.ClaimID), conID, graph.EdgeDerives, graph.PolarityPositive, df.Weight/total)
			if _, err := cv.Graph.AddEdge(edge); err != nil {
				return nil, err
			}
		}
		for _, t := range tallies {
			if t == best {
				continue
			}
			for _, c := range t.claims {
				edge := graph.NewEdge(graph.NodeID(graph.NodeClaim, c.ClaimID), conID, graph.EdgeConflicts, graph.PolarityNegative, c.Confidence)
				if _, err := cv.Graph.AddEdge(edge); err != nil {
					return nil, err
				}
			}
		}

		cv.Constraints = append(cv.Constraints, con)
		created = append(created, con)
		refs = append(refs, con.ConstraintID)
	}

	if err := cv.Graph.Lock(); err != nil {
		return nil, err
	}
	if err := s.store.SaveContext(ctx, cv); err != nil {
		return nil, fmt.Errorf("save context: %w", err)
	}
	constraintsConfirmed.Add(float64(len(created)))
	s.logger.Info("constraints confirmed", "context_id", contextID, "constraints", len(created))
	return created, nil
}

// #endregion confirm

// #region reads
// Get returns a copy of the context version.
func (s *Service) Get(ctx context.Context, contextID string) (*ContextVersion, error) {
	return s.store.LoadContext(ctx, contextID)
}

// Constraints returns the active constraints of a version.
func (s *Service) Constraints(ctx context.Context, contextID string) ([]Constraint, error) {
	cv, err := s.store.LoadContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	return cv.ActiveConstraints(), nil
}

// #endregion reads

// #region nodes
func sourceNode(src Source) graph.Node {
	return graph.Node{
		NodeID:     graph.NodeID(graph.NodeSource, src.SourceID),
		NodeType:   graph.NodeSource,
		Label:      src.Title,
		Confidence: 1,
		Payload: pointer.Map(map[string]pointer.Value{
			"type":     pointer.String(string(src.Type)),
			"mimeType": pointer.String(src.MimeType),
		}),
	}
}

func claimNode(c Claim) graph.Node {
	return graph.Node{
		NodeID:     graph.NodeID(graph.NodeClaim, c.ClaimID),
		NodeType:   graph.NodeClaim,
		Label:      c.Statement,
		Confidence: c.Confidence,
		Payload: pointer.Map(map[string]pointer.Value{
			"key":    pointer.String(c.Normalized.Key),
			"value":  pointer.Clone(c.EffectiveValue()),
			"status": pointer.String(string(c.Status)),
		}),
	}
}

func constraintNode(c Constraint) graph.Node {
	return graph.Node{
		NodeID:     graph.NodeID(graph.NodeConstraint, c.ConstraintID),
		NodeType:   graph.NodeConstraint,
		Label:      fmt.Sprintf("%s = %s", c.Key, c.Value.Text()),
		Confidence: c.Confidence,
		Payload: pointer.Map(map[string]pointer.Value{
			"key":    pointer.String(c.Key),
			"value":  pointer.Clone(c.Value),
			"status": pointer.String(string(c.Status)),
		}),
	}
}

// #endregion nodes

// #region finish
// finish closes the span, counts the operation and writes the audit row.
func (s *Service) finish(ctx context.Context, span trace.Span, op, subject string, err error, refs ...string) {
	defer span.End()
	outcome := logging.OutcomeOK
	detail := ""
	if err != nil {
		outcome = logging.OutcomeError
		detail = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("pciv.context_id", subject))
	transitionsTotal.WithLabelValues(op, outcome).Inc()

	entry := logging.AuditEntry{
		Subject:   subject,
		Scope:     logging.ScopePCIV,
		Action:    op,
		Refs:      logging.JoinRefs(refs...),
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: s.now(),
	}
	if aerr := s.audit.Audit(ctx, entry); aerr != nil {
		s.logger.Warn("audit write failed", "op", op, "subject", subject, "error", aerr)
	}
}

// #endregion finish

// #region keyed-mutex
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// #endregion keyed-mutex
