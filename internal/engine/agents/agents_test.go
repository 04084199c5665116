package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pointer"
)

func doc(t *testing.T, values map[string]any) pointer.Value {
	t.Helper()
	d := pointer.NewDocument()
	for ptr, x := range values {
		require.NoError(t, pointer.Set(&d, ptr, pointer.MustFromAny(x)))
	}
	return d
}

func candidate(id string, fit float64, native bool) pointer.Value {
	return pointer.Map(map[string]pointer.Value{
		"id":        pointer.String(id),
		"site_fit":  pointer.Number(fit),
		"native":    pointer.Bool(native),
		"rationale": pointer.Map(nil),
	})
}

func TestCatalog(t *testing.T) {
	cat := DefaultCatalog()
	assert.Len(t, cat.All(), 10)
	sp, ok := cat.Lookup("ACCA")
	require.True(t, ok)
	assert.Equal(t, "Acer campestre", sp.Name())
	assert.Equal(t, "acca", sp.ID())

	_, err := LoadCatalog([]byte("species:\n  - {code: A, genus: X}\n  - {code: a, genus: Y}\n"))
	assert.True(t, apperr.IsValidation(err))
	_, err = LoadCatalog([]byte("species:\n  - {code: A}\n"))
	assert.True(t, apperr.IsValidation(err))
}

func TestSiteFitPenalties(t *testing.T) {
	cat := DefaultCatalog()
	acca, _ := cat.Lookup("acca")
	gltr, _ := cat.Lookup("gltr")
	d := doc(t, map[string]any{
		PtrSoilMoisture:   "wet",
		PtrSoilCompaction: "high",
		PtrSalt:           true,
		PtrSoilPH:         5.0,
	})

	fit, notes, negative := siteFit(d, acca)
	assert.InDelta(t, 0.5, fit, 1e-9)
	assert.Len(t, notes, 3)
	assert.Equal(t, []string{"site.soil.moisture", "site.salt_exposure", "site.soil.ph"}, negative)

	fit, _, negative = siteFit(doc(t, map[string]any{PtrSalt: true}), gltr)
	assert.Equal(t, 1.0, fit)
	assert.Empty(t, negative)
}

func TestGeneratorFiltersAndSorts(t *testing.T) {
	g := &Generator{catalog: DefaultCatalog(), logger: logging.Discard()}
	out, err := g.Run(context.Background(), engine.AgentInput{Context: doc(t, map[string]any{
		PtrSoilType:  "loam",
		PtrLight:     "full_sun",
		PtrMaxHeight: 15,
		PtrSalt:      true,
	})})
	require.NoError(t, err)
	require.Len(t, out.Patches, 1)
	assert.Equal(t, engine.CandidatesPointer, out.Patches[0].Pointer)

	cands, ok := out.Patches[0].Value.AsArray()
	require.True(t, ok)
	require.Len(t, cands, 6)
	first, _ := cands[0].Field("site_fit").AsNumber()
	assert.Equal(t, 1.0, first)
	assert.Equal(t, "cabe", cands[5].Field("id").Text())
	assert.Contains(t, cands[5].Field("rationale").Field("site_fit").Text(), "low salt tolerance")
	for i := 1; i < len(cands); i++ {
		prev, _ := cands[i-1].Field("site_fit").AsNumber()
		cur, _ := cands[i].Field("site_fit").AsNumber()
		assert.GreaterOrEqual(t, prev, cur)
	}
	assert.Len(t, out.Graph.NodesOfType(graph.NodeDecision), 6)
}

func TestGeneratorNeedsNumericHeight(t *testing.T) {
	g := &Generator{catalog: DefaultCatalog(), logger: logging.Discard()}
	_, err := g.Run(context.Background(), engine.AgentInput{Context: doc(t, map[string]any{
		PtrSoilType:  "loam",
		PtrLight:     "full_sun",
		PtrMaxHeight: "tall",
	})})
	assert.True(t, apperr.IsValidation(err))
}

func TestGeneratorLinksConstraintInfluences(t *testing.T) {
	d := doc(t, map[string]any{
		PtrSoilType:     "loam",
		PtrLight:        "full_sun",
		PtrMaxHeight:    12,
		PtrSoilMoisture: "wet",
	})
	for key, node := range map[string]string{"site.soil.type": "constraint:soil", "site.soil.moisture": "constraint:moist"} {
		require.NoError(t, pointer.Set(&d, engine.ProvenancePointer(key), pointer.MustFromAny(map[string]any{
			"nodeId":     node,
			"confidence": 0.8,
		})))
	}
	g := &Generator{catalog: DefaultCatalog(), logger: logging.Discard()}
	out, err := g.Run(context.Background(), engine.AgentInput{Context: d})
	require.NoError(t, err)

	in := out.Graph.Incoming("decision:candidate:acca", graph.EdgeInfluences)
	require.Len(t, in, 2)
	polarity := map[string]graph.Polarity{}
	for _, e := range in {
		polarity[e.FromNodeID] = e.Polarity
		assert.InDelta(t, 0.5, e.Weight, 1e-9)
	}
	assert.Equal(t, graph.PolarityPositive, polarity["constraint:soil"])
	assert.Equal(t, graph.PolarityNegative, polarity["constraint:moist"])

	node, ok := out.Graph.FindNode("decision:candidate:acca")
	require.True(t, ok)
	assert.InDelta(t, 0.5, node.Confidence, 1e-9)
}

func TestScoreCandidatesNativePreference(t *testing.T) {
	cands := pointer.Array(candidate("exotic", 1, false), candidate("local", 0.9, true))

	out, err := scoreCandidates(context.Background(), engine.AgentInput{Context: doc(t, map[string]any{})})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	d := pointer.NewDocument()
	require.NoError(t, pointer.Set(&d, engine.CandidatesPointer, cands))
	out, err = scoreCandidates(context.Background(), engine.AgentInput{Context: d})
	require.NoError(t, err)
	ranking := out.Patches[1].Value
	assert.Equal(t, "exotic", mustIndex(t, ranking, 0))

	require.NoError(t, pointer.Set(&d, PtrNative, pointer.Bool(true)))
	out, err = scoreCandidates(context.Background(), engine.AgentInput{Context: d})
	require.NoError(t, err)
	assert.Equal(t, PtrRanking, out.Patches[1].Pointer)
	assert.Equal(t, "local", mustIndex(t, out.Patches[1].Value, 0))

	scored, _ := out.Patches[0].Value.AsArray()
	score, _ := scored[0].Field("score").AsNumber()
	assert.InDelta(t, 0.92, score, 1e-9)
	rank, _ := scored[0].Field("rank").AsNumber()
	assert.Equal(t, 1.0, rank)
	assert.Equal(t, "site fit 0.90, rank 1", scored[0].Field("rationale").Field("score").Text())

	orig, _ := pointer.Get(d, engine.CandidatesPointer).AsArray()
	assert.False(t, orig[0].Field("score").IsDefined())
}

func TestScoreCandidatesRejectsNonObject(t *testing.T) {
	d := pointer.NewDocument()
	require.NoError(t, pointer.Set(&d, engine.CandidatesPointer, pointer.Array(candidate("local", 0.9, true), pointer.String("acca"))))

	var err error
	require.NotPanics(t, func() {
		_, err = scoreCandidates(context.Background(), engine.AgentInput{Context: d})
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "[1] must be an object")
}

func mustIndex(t *testing.T, v pointer.Value, i int) string {
	t.Helper()
	items, ok := v.AsArray()
	require.True(t, ok)
	require.Greater(t, len(items), i)
	return items[i].Text()
}

func TestSupplyCheck(t *testing.T) {
	s := &SupplyCheck{catalog: DefaultCatalog()}
	assert.Equal(t, PtrRegion, s.Skill().Inputs[0].Target)

	d := pointer.NewDocument()
	require.NoError(t, pointer.Set(&d, PtrRegion, pointer.String("south")))
	require.NoError(t, pointer.Set(&d, engine.CandidatesPointer, pointer.Array(
		candidate("acca", 1, true),
		candidate("bepe", 1, true),
		candidate("zzzz", 1, false),
	)))
	out, err := s.Run(context.Background(), engine.AgentInput{Context: d})
	require.NoError(t, err)

	avail := out.Patches[1].Value
	assert.Equal(t, Available, avail.Field("acca").Text())
	assert.Equal(t, OnRequest, avail.Field("bepe").Text())
	assert.Equal(t, Unknown, avail.Field("zzzz").Text())

	updated, _ := out.Patches[0].Value.AsArray()
	assert.Equal(t, OnRequest, updated[1].Field("availability").Text())
	assert.Len(t, out.Graph.Incoming("artifact:availability", graph.EdgeExplains), 3)
}

func TestAssessSite(t *testing.T) {
	out, err := assessSite(context.Background(), engine.AgentInput{Context: doc(t, map[string]any{
		PtrSoilType:     "clay",
		PtrLight:        "partial_shade",
		PtrSoilMoisture: "dry",
		PtrSoilPH:       8,
	})})
	require.NoError(t, err)
	a := out.Patches[0].Value
	assert.Equal(t, "clay soil, partial shade; stress: drought, alkaline soil", a.Field("summary").Text())
	sev, _ := a.Field("severity").AsNumber()
	assert.Equal(t, 2.0, sev)
	_, ok := out.Graph.FindNode("decision:site-assessment")
	assert.True(t, ok)
}

func TestRegisterTwiceFails(t *testing.T) {
	reg, err := NewRegistry(DefaultCatalog(), logging.Discard())
	require.NoError(t, err)
	assert.Len(t, reg.Refs(), 4)
	assert.Error(t, Register(reg, DefaultCatalog(), nil))
}
