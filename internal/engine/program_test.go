package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/registry"
)

func TestDefaultProgram(t *testing.T) {
	p := DefaultProgram()
	assert.Equal(t, "species-selection", p.ID)

	var ids []string
	for _, s := range p.Ordered() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"assess-site", "generate-candidates", "score-candidates", "check-supply"}, ids)
	assert.Equal(t, "loam", p.Defaults["/context/site/soil/type"].Text())
	n, ok := p.Defaults["/context/species/max_height"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 15.0, n)
}

func TestOrderedKeepsDeclarationOrderInsidePhase(t *testing.T) {
	p := Program{ID: "p", Steps: []Step{
		{ID: "c", Phase: PhaseSupply, AgentRef: "x"},
		{ID: "a2", Phase: PhaseSite, AgentRef: "x"},
		{ID: "b", Phase: PhaseSpecies, AgentRef: "x"},
		{ID: "a1", Phase: PhaseSite, AgentRef: "x"},
	}}
	var ids []string
	for _, s := range p.Ordered() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a2", "a1", "b", "c"}, ids)
}

func TestLoadProgramRejects(t *testing.T) {
	cases := map[string]string{
		"duplicate step": `
id: p
steps:
  - {id: a, phase: site, agent: x}
  - {id: a, phase: site, agent: x}
`,
		"unknown phase": `
id: p
steps:
  - {id: a, phase: harvest, agent: x}
`,
		"bad pointer": `
id: p
steps:
  - {id: a, phase: site, agent: x, required_pointers: [context/x]}
`,
		"missing agent": `
id: p
steps:
  - {id: a, phase: site}
`,
		"no steps": `
id: p
`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadProgram([]byte(src))
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
		})
	}
}

func TestNewChecksAgentRefs(t *testing.T) {
	_, err := New(NewAgentRegistry())
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestConstraintPatches(t *testing.T) {
	reg := registry.Default()
	patches, err := ConstraintPatches([]pciv.Constraint{
		{ConstraintID: "c2", Key: "species.max_height", Value: pointer.Number(12), Status: pciv.ConstraintActive, Confidence: 0.8},
		{ConstraintID: "c1", Key: "site.soil.type", Value: pointer.String("clay"), Status: pciv.ConstraintActive, Confidence: 0.7,
			DerivedFrom: []pciv.DerivedFrom{{ClaimID: "k1", Weight: 1}, {ClaimID: "k2", Weight: 0.5}}},
		{ConstraintID: "c0", Key: "site.soil.type", Value: pointer.String("sand"), Status: pciv.ConstraintSuperseded},
	}, reg)
	require.NoError(t, err)
	require.Len(t, patches, 4)

	doc := pointer.NewDocument()
	require.NoError(t, pointer.Apply(&doc, patches))
	assert.Equal(t, "clay", pointer.Get(doc, "/context/site/soil/type").Text())
	prov := pointer.Get(doc, ProvenancePointer("site.soil.type"))
	assert.Equal(t, "c1", prov.Field("constraintId").Text())
	assert.Equal(t, 2, prov.Field("claims").Len())

	g := ConstraintGraph([]pciv.Constraint{
		{ConstraintID: "c1", Key: "site.soil.type", Value: pointer.String("clay"), Status: pciv.ConstraintActive, Confidence: 0.7},
		{ConstraintID: "c0", Key: "site.soil.type", Value: pointer.String("sand"), Status: pciv.ConstraintSuperseded},
	})
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "constraint:c1", g.Nodes[0].NodeID)
	assert.Equal(t, "site.soil.type = clay", g.Nodes[0].Label)
}

func TestConstraintPatchesUnregisteredKey(t *testing.T) {
	_, err := ConstraintPatches([]pciv.Constraint{
		{ConstraintID: "c1", Key: "site.moon.phase", Value: pointer.String("full"), Status: pciv.ConstraintActive},
	}, registry.Default())
	assert.True(t, apperr.IsValidation(err))
}

func TestAgentRegistry(t *testing.T) {
	reg := NewAgentRegistry()
	noop := AgentFunc(func(_ context.Context, _ AgentInput) (AgentOutput, error) { return AgentOutput{}, nil })
	require.NoError(t, reg.Register("noop", noop))
	assert.True(t, apperr.IsValidation(reg.Register("noop", noop)))
	assert.True(t, apperr.IsValidation(reg.Register("", noop)))

	_, err := reg.Lookup("missing")
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, []string{"noop"}, reg.Refs())
}
