// Package agents holds the executors behind the species selection program.
package agents

import (
	"fmt"
	"log/slog"

	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/pointer"
)

// Context pointers read and written by the agents.
const (
	PtrSoilType       = "/context/site/soil/type"
	PtrSoilMoisture   = "/context/site/soil/moisture"
	PtrSoilCompaction = "/context/site/soil/compaction"
	PtrSoilPH         = "/context/site/soil/ph"
	PtrLight          = "/context/site/light/exposure"
	PtrSalt           = "/context/site/salt_exposure"
	PtrAssessment     = "/context/site/assessment"
	PtrMaxHeight      = "/context/species/max_height"
	PtrNative         = "/context/species/native_preference"
	PtrRanking        = "/context/species/ranking"
	PtrRegion         = "/context/supply/region"
	PtrAvailability   = "/context/supply/availability"
)

// Refs of the built-in agents.
const (
	RefSiteAssessment     = "site-assessment"
	RefCandidateGenerator = "candidate-generator"
	RefCandidateScorer    = "candidate-scorer"
	RefSupplyCheck        = "supply-check"
)

// #region register
// Register adds the built-in agents to reg.
func Register(reg *engine.AgentRegistry, cat *Catalog, logger *slog.Logger) error {
	logger = logging.OrDefault(logger)
	agents := map[string]engine.Agent{
		RefSiteAssessment:     engine.AgentFunc(assessSite),
		RefCandidateGenerator: &Generator{catalog: cat, logger: logger},
		RefCandidateScorer:    engine.AgentFunc(scoreCandidates),
		RefSupplyCheck:        &SupplyCheck{catalog: cat},
	}
	for _, ref := range []string{RefSiteAssessment, RefCandidateGenerator, RefCandidateScorer, RefSupplyCheck} {
		if err := reg.Register(ref, agents[ref]); err != nil {
			return fmt.Errorf("register %s: %w", ref, err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in agents.
func NewRegistry(cat *Catalog, logger *slog.Logger) (*engine.AgentRegistry, error) {
	reg := engine.NewAgentRegistry()
	if err := Register(reg, cat, logger); err != nil {
		return nil, err
	}
	return reg, nil
}

// #endregion register

// #region provenance
// influence is a constraint that shaped a decision.
type influence struct {
	nodeID     string
	confidence float64
	polarity   graph.Polarity
}

// influenceOf reads the provenance entry of a constraint key, if the value
// came from a confirmed constraint.
func influenceOf(doc pointer.Value, key string, polarity graph.Polarity) (influence, bool) {
	prov := pointer.Get(doc, engine.ProvenancePointer(key))
	nodeID, ok := prov.Field("nodeId").AsString()
	if !ok || nodeID == "" {
		return influence{}, false
	}
	conf, _ := prov.Field("confidence").AsNumber()
	return influence{nodeID: nodeID, confidence: conf, polarity: polarity}, true
}

// decision builds a decision node with influences edges from each input.
// Weights split evenly; the node confidence follows the inputs.
func decision(id, label string, inputs []influence, payload pointer.Value) graph.Snapshot {
	nodeID := graph.NodeID(graph.NodeDecision, id)
	var s graph.Snapshot
	var dins []pciv.DecisionInput
	for _, in := range inputs {
		w := 1 / float64(len(inputs))
		graph.UpsertEdge(&s, graph.NewEdge(in.nodeID, nodeID, graph.EdgeInfluences, in.polarity, w))
		dins = append(dins, pciv.DecisionInput{Polarity: in.polarity, Weight: w, Confidence: in.confidence})
	}
	graph.UpsertNode(&s, graph.Node{
		NodeID:     nodeID,
		NodeType:   graph.NodeDecision,
		Label:      label,
		Confidence: pciv.DecisionConfidence(dins),
		Payload:    payload,
	})
	return s
}

func text(doc pointer.Value, ptr string) string {
	s, _ := pointer.Get(doc, ptr).AsString()
	return s
}

func strs(items ...string) pointer.Value {
	vals := make([]pointer.Value, len(items))
	for i, s := range items {
		vals[i] = pointer.String(s)
	}
	return pointer.Array(vals...)
}

// #endregion provenance
