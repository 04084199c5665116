package engine

import (
	"fmt"
	"sort"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/registry"
)

// ProvenanceRoot holds, per constraint key, where a context value came from.
const ProvenanceRoot = "/context/provenance"

// #region derived
// ConstraintPatches maps active constraints onto their registry pointers and
// records their provenance under /context/provenance/<key>. Superseded
// constraints are ignored.
func ConstraintPatches(constraints []pciv.Constraint, reg *registry.Registry) ([]pointer.Patch, error) {
	active := activeSorted(constraints)
	patches := make([]pointer.Patch, 0, 2*len(active))
	for _, c := range active {
		def, ok := reg.Lookup(c.Key)
		if !ok {
			return nil, apperr.Validation("constraint %s: unregistered key %s", c.ConstraintID, c.Key)
		}
		if def.Pointer == "" {
			continue
		}
		claims := make([]pointer.Value, len(c.DerivedFrom))
		for i, df := range c.DerivedFrom {
			claims[i] = pointer.String(df.ClaimID)
		}
		patches = append(patches,
			pointer.Patch{Pointer: def.Pointer, Value: pointer.Clone(c.Value)},
			pointer.Patch{Pointer: ProvenancePointer(c.Key), Value: pointer.Map(map[string]pointer.Value{
				"constraintId": pointer.String(c.ConstraintID),
				"nodeId":       pointer.String(graph.NodeID(graph.NodeConstraint, c.ConstraintID)),
				"confidence":   pointer.Number(c.Confidence),
				"claims":       pointer.Array(claims...),
			})},
		)
	}
	if err := pointer.Validate(patches); err != nil {
		return nil, fmt.Errorf("constraint patches: %w", err)
	}
	return patches, nil
}

// ConstraintGraph seeds a run graph with one node per active constraint.
func ConstraintGraph(constraints []pciv.Constraint) graph.Snapshot {
	var s graph.Snapshot
	for _, c := range activeSorted(constraints) {
		graph.UpsertNode(&s, graph.Node{
			NodeID:     graph.NodeID(graph.NodeConstraint, c.ConstraintID),
			NodeType:   graph.NodeConstraint,
			Label:      fmt.Sprintf("%s = %s", c.Key, c.Value.Text()),
			Confidence: c.Confidence,
			Payload: pointer.Map(map[string]pointer.Value{
				"key":    pointer.String(c.Key),
				"value":  pointer.Clone(c.Value),
				"status": pointer.String(string(c.Status)),
			}),
		})
	}
	return s
}

// ProvenancePointer is the provenance entry of a constraint key.
func ProvenancePointer(key string) string {
	return ProvenanceRoot + "/" + key
}

func activeSorted(constraints []pciv.Constraint) []pciv.Constraint {
	var out []pciv.Constraint
	for _, c := range constraints {
		if c.Status == pciv.ConstraintActive {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// #endregion derived
