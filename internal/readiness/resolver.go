// Package readiness decides whether a skill's declared inputs can be bound
// from the vault, and binds them.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pointer"
)

var (
	tracer = otel.Tracer("planning-core.readiness")

	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readiness_resolutions_total",
		Help: "Readiness resolutions by resulting status",
	}, []string{"status"})
)

// #region config
// Weights of the candidate scoring terms.
type Weights struct {
	Scope      float64 `json:"scope" yaml:"scope" validate:"gte=0"`
	Pointer    float64 `json:"pointer" yaml:"pointer" validate:"gte=0"`
	Confidence float64 `json:"confidence" yaml:"confidence" validate:"gte=0"`
	Recency    float64 `json:"recency" yaml:"recency" validate:"gte=0"`
	Overlap    float64 `json:"overlap" yaml:"overlap" validate:"gte=0"`
}

type Config struct {
	Weights   Weights       `json:"weights" yaml:"weights"`
	Threshold float64       `json:"threshold" yaml:"threshold" validate:"gte=0,lte=1"`
	HalfLife  time.Duration `json:"halfLife" yaml:"half_life"`
	// ScopePreference scores record scopes other than the requested one.
	ScopePreference map[string]float64 `json:"scopePreference" yaml:"scope_preference"`
}

func DefaultConfig() Config {
	return Config{
		Weights:         Weights{Scope: 0.2, Pointer: 0.3, Confidence: 0.25, Recency: 0.1, Overlap: 0.15},
		Threshold:       0.6,
		HalfLife:        90 * 24 * time.Hour,
		ScopePreference: map[string]float64{"org": 0.5, "global": 0.25},
	}
}

// #endregion config

// #region resolver
// Resolver scores vault records against skill inputs.
type Resolver struct {
	index  Index
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Resolver)

func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

func NewResolver(index Index, cfg Config, opts ...Option) *Resolver {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultConfig().HalfLife
	}
	r := &Resolver{
		index:  index,
		cfg:    cfg,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) IndexVersion() string { return r.index.Version() }

// Resolve binds every input of req.Skill and aggregates the readiness status.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "readiness.Resolve", trace.WithAttributes(attribute.String("skill", req.Skill.ID)))
	defer span.End()

	if err := validateSkill(req.Skill); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	version := r.index.Version()
	records, err := r.index.Records(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("vault records: %w", err)
	}

	res := Result{SkillID: req.Skill.ID, Status: StatusReady, IndexVersion: version}
	for _, in := range req.Skill.Inputs {
		b, issues, status := r.resolveInput(req, in, records)
		res.Issues = append(res.Issues, issues...)
		if b != nil {
			res.Bindings = append(res.Bindings, *b)
		} else {
			res.Unbound = append(res.Unbound, in.ID)
		}
		if status.rank() > res.Status.rank() {
			res.Status = status
		}
	}

	resolutionsTotal.WithLabelValues(string(res.Status)).Inc()
	span.SetAttributes(attribute.String("status", string(res.Status)))
	r.logger.Debug("readiness resolved",
		"skill", req.Skill.ID,
		"status", res.Status,
		"bound", len(res.Bindings),
		"unbound", len(res.Unbound),
	)
	return res, nil
}

// ResolveAll resolves several requests concurrently; results keep input order.
func (r *Resolver) ResolveAll(ctx context.Context, reqs []Request) ([]Result, error) {
	return resolveAll(ctx, reqs, r.Resolve)
}

func resolveAll(ctx context.Context, reqs []Request, fn func(context.Context, Request) (Result, error)) ([]Result, error) {
	results := make([]Result, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := fn(ctx, req)
			if err != nil {
				return fmt.Errorf("skill %s: %w", req.Skill.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func validateSkill(s Skill) error {
	if s.ID == "" {
		return apperr.Validation("skill id is required")
	}
	seen := make(map[string]bool, len(s.Inputs))
	for _, in := range s.Inputs {
		if in.ID == "" {
			return apperr.Validation("skill %s: input id is required", s.ID)
		}
		if seen[in.ID] {
			return apperr.Validation("skill %s: duplicate input %s", s.ID, in.ID)
		}
		seen[in.ID] = true
		switch in.Source {
		case SourceVault:
			if !pointer.Valid(in.Pointer) {
				return apperr.Validation("skill %s: input %s needs a valid pointer", s.ID, in.ID)
			}
		case SourceFile, SourceManual:
		default:
			return apperr.Validation("skill %s: input %s has unknown source %q", s.ID, in.ID, in.Source)
		}
	}
	return nil
}

// #endregion resolver

// #region input
// resolveInput returns the binding for in (nil when unbound), the issues
// found and the status this input contributes.
func (r *Resolver) resolveInput(req Request, in Input, records []VaultRecord) (*Binding, []Issue, Status) {
	if in.Source == SourceManual {
		v := req.Manual[in.ID]
		if v.IsEmpty() {
			v = in.Default
		}
		if v.IsEmpty() {
			issue := Issue{InputID: in.ID, Code: IssueMissingValue, Detail: "no manual value supplied"}
			if in.Required {
				return nil, []Issue{issue}, StatusMissing
			}
			return nil, []Issue{issue}, StatusReady
		}
		return &Binding{
			InputID:    in.ID,
			Kind:       BindManual,
			Target:     in.TargetPointer(),
			Value:      pointer.Clone(v),
			Confidence: 1,
			Score:      1,
		}, nil, StatusReady
	}

	cands := r.Candidates(req, in, records)
	if len(cands) == 0 {
		issue := Issue{InputID: in.ID, Code: IssueNoCandidates, Detail: "no vault record matches"}
		if in.Required {
			return nil, []Issue{issue}, StatusBlocked
		}
		return nil, []Issue{issue}, StatusReady
	}

	chosen, issues := cands[0], r.gate(in, cands[0].Record)
	for _, c := range cands {
		if gi := r.gate(in, c.Record); len(gi) == 0 {
			chosen, issues = c, nil
			break
		}
	}

	b := r.bind(in, chosen)
	b.Issues = issues
	if !b.Value.IsDefined() {
		if in.Required {
			return nil, issues, StatusBlocked
		}
		return nil, issues, StatusReady
	}
	if len(issues) > 0 {
		return &b, issues, StatusNeedsReview
	}
	return &b, nil, StatusReady
}

// Candidates gathers and scores the records eligible for in, best first.
func (r *Resolver) Candidates(req Request, in Input, records []VaultRecord) []Candidate {
	query := tokenize(in.ID, in.Label, req.Skill.Label, strings.Join(req.Tags, " "))
	now := r.now()

	var out []Candidate
	for _, rec := range records {
		if !typeAllowed(rec.Type, in.RecordTypes) {
			continue
		}
		if in.Source == SourceFile && matchingFile(rec, in.MimeTypes) == nil {
			continue
		}
		comp := Components{
			Scope:      r.scopeScore(rec.Scope, req.Scope),
			Confidence: confidenceFor(rec, in.Pointer),
			Recency:    r.recency(rec.UpdatedAt, now),
			Overlap:    overlap(query, tokenize(rec.Label, string(rec.Type), strings.Join(rec.Tags, " "))),
		}
		if pointerPresent(rec, in) {
			comp.Pointer = 1
		}
		w := r.cfg.Weights
		score := w.Scope*comp.Scope + w.Pointer*comp.Pointer + w.Confidence*comp.Confidence +
			w.Recency*comp.Recency + w.Overlap*comp.Overlap
		out = append(out, Candidate{Record: rec, Score: score, Components: comp})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.VaultID < out[j].Record.VaultID
	})
	return out
}

// #endregion input

// #region gate
// gate returns the issues that keep rec from binding in automatically.
func (r *Resolver) gate(in Input, rec VaultRecord) []Issue {
	var issues []Issue

	// 1. Pointer present
	if !pointerPresent(rec, in) {
		issues = append(issues, Issue{
			InputID: in.ID,
			Code:    IssuePointerMissing,
			Detail:  fmt.Sprintf("record %s has no value at %s", rec.VaultID, in.Pointer),
		})
	}

	// 2. Confidence threshold
	if conf := confidenceFor(rec, in.Pointer); conf < r.cfg.Threshold {
		issues = append(issues, Issue{
			InputID: in.ID,
			Code:    IssueLowConfidence,
			Detail:  fmt.Sprintf("confidence %.2f below %.2f", conf, r.cfg.Threshold),
		})
	}

	// 3. Policy records need provenance
	if rec.Type == RecordPolicy && provenanceFor(rec, in) == "" {
		issues = append(issues, Issue{
			InputID: in.ID,
			Code:    IssueMissingProvenance,
			Detail:  fmt.Sprintf("policy record %s has no provenance", rec.VaultID),
		})
	}

	// 4. File mime
	if in.Source == SourceFile && matchingFile(rec, in.MimeTypes) == nil {
		issues = append(issues, Issue{
			InputID: in.ID,
			Code:    IssueMimeMismatch,
			Detail:  fmt.Sprintf("record %s has no file of type %s", rec.VaultID, strings.Join(in.MimeTypes, ", ")),
		})
	}

	return issues
}

// #endregion gate

// #region helpers
func (r *Resolver) bind(in Input, c Candidate) Binding {
	rec := c.Record
	b := Binding{
		InputID:    in.ID,
		VaultID:    rec.VaultID,
		Target:     in.TargetPointer(),
		Confidence: confidenceFor(rec, in.Pointer),
		Provenance: provenanceFor(rec, in),
		Score:      c.Score,
	}
	if in.Source == SourceFile {
		b.Kind = BindVaultFile
		if f := matchingFile(rec, in.MimeTypes); f != nil {
			file := *f
			b.File = &file
			b.Value = pointer.Map(map[string]pointer.Value{
				"name":      pointer.String(f.Name),
				"mime_type": pointer.String(f.MimeType),
				"uri":       pointer.String(f.URI),
				"vault_id":  pointer.String(rec.VaultID),
			})
		}
		return b
	}
	b.Kind = BindVaultRecord
	b.Pointer = in.Pointer
	if v := pointer.Get(rec.Data, in.Pointer); !v.IsEmpty() {
		b.Value = pointer.Clone(v)
	}
	return b
}

func (r *Resolver) scopeScore(recordScope, wanted string) float64 {
	if wanted != "" && recordScope == wanted {
		return 1
	}
	return r.cfg.ScopePreference[recordScope]
}

// recency halves every HalfLife.
func (r *Resolver) recency(updated, now time.Time) float64 {
	if updated.IsZero() {
		return 0
	}
	age := now.Sub(updated)
	if age < 0 {
		age = 0
	}
	return math.Exp(-age.Seconds() * math.Ln2 / r.cfg.HalfLife.Seconds())
}

func typeAllowed(t RecordType, allowed []RecordType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(string(a), string(t)) {
			return true
		}
	}
	return false
}

func matchingFile(rec VaultRecord, mimes []string) *File {
	for i := range rec.Files {
		if len(mimes) == 0 || mimetype.EqualsAny(rec.Files[i].MimeType, mimes...) {
			return &rec.Files[i]
		}
	}
	return nil
}

func pointerPresent(rec VaultRecord, in Input) bool {
	if in.Source == SourceFile {
		return matchingFile(rec, in.MimeTypes) != nil
	}
	return !pointer.Get(rec.Data, in.Pointer).IsEmpty()
}

func confidenceFor(rec VaultRecord, ptr string) float64 {
	c := rec.Confidence
	if v, ok := rec.ConfidenceByPointer[ptr]; ok {
		c = v
	}
	return math.Max(0, math.Min(1, c))
}

func provenanceFor(rec VaultRecord, in Input) string {
	key := in.Pointer
	if in.Source == SourceFile {
		if f := matchingFile(rec, in.MimeTypes); f != nil {
			key = f.Name
		}
	}
	return rec.ProvenanceByPointer[key]
}

// BindingPatches turns the bound values of res into patches on their targets.
func BindingPatches(res Result) []pointer.Patch {
	var patches []pointer.Patch
	for _, b := range res.Bindings {
		if b.Target == "" || !b.Value.IsDefined() {
			continue
		}
		patches = append(patches, pointer.Patch{Pointer: b.Target, Value: pointer.Clone(b.Value)})
	}
	return patches
}

// #endregion helpers
