package agents

import (
	"context"
	"slices"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/readiness"
)

// Availability values written per candidate.
const (
	Available = "available"
	OnRequest = "on_request"
	Unknown   = "unknown"
)

// #region supply-check
// SupplyCheck marks each candidate as available from nurseries in the supply
// region. The region can be bound from Supply records in the vault.
type SupplyCheck struct {
	catalog *Catalog
}

func (s *SupplyCheck) Skill() readiness.Skill {
	return readiness.Skill{
		ID:    RefSupplyCheck,
		Label: "Nursery supply check",
		Inputs: []readiness.Input{{
			ID:          "region",
			Label:       "Nursery region",
			Source:      readiness.SourceVault,
			Required:    true,
			Pointer:     "/supply/region",
			Target:      PtrRegion,
			RecordTypes: []readiness.RecordType{readiness.RecordSupply},
		}},
	}
}

func (s *SupplyCheck) Run(_ context.Context, in engine.AgentInput) (engine.AgentOutput, error) {
	doc := in.Context
	region := text(doc, PtrRegion)
	items, ok := pointer.Get(doc, engine.CandidatesPointer).AsArray()
	if !ok {
		return engine.AgentOutput{}, apperr.Validation("%s must be a list", engine.CandidatesPointer)
	}

	artifact := graph.NodeID(graph.NodeArtifact, "availability")
	out := graph.Snapshot{Nodes: []graph.Node{{
		NodeID:     artifact,
		NodeType:   graph.NodeArtifact,
		Label:      "Nursery availability in " + region,
		Confidence: 1,
	}}}

	availability := make(map[string]pointer.Value, len(items))
	updated := make([]pointer.Value, len(items))
	for i, item := range items {
		cand := pointer.Clone(item)
		id := cand.Field("id").Text()
		status := Unknown
		if sp, ok := s.catalog.Lookup(id); ok {
			status = OnRequest
			if region == "any" || slices.Contains(sp.Regions, region) {
				status = Available
			}
		}
		if m, ok := cand.AsMap(); ok {
			m["availability"] = pointer.String(status)
		}
		availability[id] = pointer.String(status)
		updated[i] = cand

		weight := 0.5
		if status == Available {
			weight = 1
		}
		graph.UpsertEdge(&out, graph.NewEdge(graph.NodeID(graph.NodeDecision, "candidate:"+id), artifact, graph.EdgeExplains, graph.PolarityNeutral, weight))
	}

	return engine.AgentOutput{
		Patches: []pointer.Patch{
			{Pointer: engine.CandidatesPointer, Value: pointer.Array(updated...)},
			{Pointer: PtrAvailability, Value: pointer.Map(availability)},
		},
		Graph: out,
	}, nil
}

// #endregion supply-check
