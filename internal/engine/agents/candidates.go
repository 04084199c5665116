package agents

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/pointer"
)

// #region generator
// Generator proposes catalog species that tolerate the site's soil and light
// and stay under the height limit.
type Generator struct {
	catalog *Catalog
	logger  *slog.Logger
}

func (g *Generator) Run(_ context.Context, in engine.AgentInput) (engine.AgentOutput, error) {
	doc := in.Context
	soil := text(doc, PtrSoilType)
	light := text(doc, PtrLight)
	maxHeight, ok := pointer.Get(doc, PtrMaxHeight).AsNumber()
	if !ok {
		return engine.AgentOutput{}, apperr.Validation("%s must be a number", PtrMaxHeight)
	}

	base := make([]influence, 0, 3)
	for _, key := range []string{"site.soil.type", "site.light.exposure", "species.max_height"} {
		if inf, ok := influenceOf(doc, key, graph.PolarityPositive); ok {
			base = append(base, inf)
		}
	}

	type scored struct {
		sp       Species
		fit      float64
		notes    []string
		negative []string
	}
	var picks []scored
	for _, sp := range g.catalog.All() {
		if !slices.Contains(sp.Soils, soil) || !slices.Contains(sp.Light, light) || sp.MatureHeight > maxHeight {
			continue
		}
		fit, notes, negative := siteFit(doc, sp)
		picks = append(picks, scored{sp: sp, fit: fit, notes: notes, negative: negative})
	}
	sort.SliceStable(picks, func(i, j int) bool {
		if picks[i].fit != picks[j].fit {
			return picks[i].fit > picks[j].fit
		}
		return picks[i].sp.Name() < picks[j].sp.Name()
	})

	var out graph.Snapshot
	cands := make([]pointer.Value, 0, len(picks))
	for _, p := range picks {
		inputs := append([]influence(nil), base...)
		for _, key := range p.negative {
			if inf, ok := influenceOf(doc, key, graph.PolarityNegative); ok {
				inputs = append(inputs, inf)
			}
		}
		var refs []pointer.Value
		for _, inf := range inputs {
			refs = append(refs, pointer.String(inf.nodeID))
		}

		rationale := fmt.Sprintf("tolerates %s soil and %s", soil, strings.ReplaceAll(light, "_", " "))
		if len(p.notes) > 0 {
			rationale += "; " + strings.Join(p.notes, "; ")
		}
		cand := pointer.Map(map[string]pointer.Value{
			"id":             pointer.String(p.sp.ID()),
			"species":        pointer.String(p.sp.Name()),
			"common_name":    pointer.String(p.sp.CommonName),
			"genus":          pointer.String(p.sp.Genus),
			"family":         pointer.String(p.sp.Family),
			"mature_height":  pointer.Number(p.sp.MatureHeight),
			"salt_tolerance": pointer.String(p.sp.SaltTolerance),
			"ph_range":       pointer.String(fmt.Sprintf("%.1f-%.1f", p.sp.PHMin, p.sp.PHMax)),
			"native":         pointer.Bool(p.sp.Native),
			"site_fit":       pointer.Number(p.fit),
			"rationale": pointer.Map(map[string]pointer.Value{
				"site_fit": pointer.String(rationale),
			}),
			"evidence": pointer.Map(map[string]pointer.Value{
				"site_fit": pointer.Array(refs...),
			}),
		})
		cands = append(cands, cand)
		out = graph.Merge(out, decision("candidate:"+p.sp.ID(), p.sp.Name(), inputs, pointer.Map(map[string]pointer.Value{
			"species":  pointer.String(p.sp.Name()),
			"site_fit": pointer.Number(p.fit),
		})))
	}

	g.logger.Debug("candidates generated", "run_id", in.RunID, "soil", soil, "light", light, "count", len(cands))
	return engine.AgentOutput{
		Patches: []pointer.Patch{{Pointer: engine.CandidatesPointer, Value: pointer.Array(cands...)}},
		Graph:   out,
	}, nil
}

// siteFit starts from a perfect fit and subtracts a penalty per unmet site
// condition. It returns the notes and the constraint keys that counted
// against the species.
func siteFit(doc pointer.Value, sp Species) (float64, []string, []string) {
	fit := 1.0
	var notes, negative []string
	if m := text(doc, PtrSoilMoisture); m != "" && !slices.Contains(sp.Moisture, m) {
		fit -= 0.2
		notes = append(notes, "prefers "+strings.Join(sp.Moisture, "/")+" soil")
		negative = append(negative, "site.soil.moisture")
	}
	if text(doc, PtrSoilCompaction) == "high" && sp.CompactionTolerance != "high" {
		fit -= 0.2
		notes = append(notes, "sensitive to compaction")
		negative = append(negative, "site.soil.compaction")
	}
	if salt, ok := pointer.Get(doc, PtrSalt).AsBool(); ok && salt {
		switch sp.SaltTolerance {
		case "low":
			fit -= 0.3
			notes = append(notes, "low salt tolerance")
			negative = append(negative, "site.salt_exposure")
		case "medium":
			fit -= 0.1
			notes = append(notes, "moderate salt tolerance")
			negative = append(negative, "site.salt_exposure")
		}
	}
	if ph, ok := pointer.Get(doc, PtrSoilPH).AsNumber(); ok && (ph < sp.PHMin || ph > sp.PHMax) {
		fit -= 0.2
		notes = append(notes, fmt.Sprintf("pH %.1f outside %.1f-%.1f", ph, sp.PHMin, sp.PHMax))
		negative = append(negative, "site.soil.ph")
	}
	return round3(math.Max(0, fit)), notes, negative
}

// #endregion generator

// #region scorer
// scoreCandidates ranks candidates by site fit and native preference.
func scoreCandidates(_ context.Context, in engine.AgentInput) (engine.AgentOutput, error) {
	doc := in.Context
	items, ok := pointer.Get(doc, engine.CandidatesPointer).AsArray()
	if !ok {
		return engine.AgentOutput{}, apperr.Validation("%s must be a list", engine.CandidatesPointer)
	}
	pref, hasPref := pointer.Get(doc, PtrNative).AsBool()

	type ranked struct {
		cand  pointer.Value
		score float64
	}
	rows := make([]ranked, 0, len(items))
	for i, item := range items {
		if _, ok := item.AsMap(); !ok {
			return engine.AgentOutput{}, apperr.Validation("%s[%d] must be an object", engine.CandidatesPointer, i)
		}
		cand := pointer.Clone(item)
		fit, _ := cand.Field("site_fit").AsNumber()
		native, _ := cand.Field("native").AsBool()
		bonus := 0.5
		switch {
		case hasPref && pref && native:
			bonus = 1
		case hasPref && pref && !native:
			bonus = 0
		}
		rows = append(rows, ranked{cand: cand, score: round3(0.8*fit + 0.2*bonus)})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].score > rows[j].score })

	ranking := make([]pointer.Value, len(rows))
	scoredCands := make([]pointer.Value, len(rows))
	artifact := graph.NodeID(graph.NodeArtifact, "ranking")
	out := graph.Snapshot{Nodes: []graph.Node{{
		NodeID:     artifact,
		NodeType:   graph.NodeArtifact,
		Label:      "Candidate ranking",
		Confidence: 1,
	}}}
	for i, r := range rows {
		id := r.cand.Field("id").Text()
		m, _ := r.cand.AsMap()
		m["score"] = pointer.Number(r.score)
		m["rank"] = pointer.Int(i + 1)
		if rat, ok := m["rationale"].AsMap(); ok {
			fit, _ := m["site_fit"].AsNumber()
			rat["score"] = pointer.String(fmt.Sprintf("site fit %.2f, rank %d", fit, i+1))
		}
		scoredCands[i] = r.cand
		ranking[i] = pointer.String(id)
		graph.UpsertEdge(&out, graph.NewEdge(graph.NodeID(graph.NodeDecision, "candidate:"+id), artifact, graph.EdgeExplains, graph.PolarityNeutral, r.score))
	}

	return engine.AgentOutput{
		Patches: []pointer.Patch{
			{Pointer: engine.CandidatesPointer, Value: pointer.Array(scoredCands...)},
			{Pointer: PtrRanking, Value: pointer.Array(ranking...)},
		},
		Graph: out,
	}, nil
}

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

// #endregion scorer
