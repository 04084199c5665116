package pciv

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weflora/planning-core/internal/graph"
)

func refs(strengths ...Strength) []EvidenceRef {
	out := make([]EvidenceRef, len(strengths))
	for i, s := range strengths {
		out[i] = EvidenceRef{EvidenceID: "e", Strength: s}
	}
	return out
}

func TestClaimConfidenceAveragesStrengths(t *testing.T) {
	c := Claim{ClaimType: ClaimFact, Status: ClaimProposed, EvidenceRefs: refs(StrengthDirect, StrengthSupporting)}
	assert.InDelta(t, 0.8, ClaimConfidence(c), 1e-9)

	c.EvidenceRefs = refs(StrengthWeak)
	assert.InDelta(t, 0.3, ClaimConfidence(c), 1e-9)

	c.EvidenceRefs = nil
	assert.Equal(t, 0.0, ClaimConfidence(c))
}

func TestClaimConfidenceInferenceIsDamped(t *testing.T) {
	c := Claim{ClaimType: ClaimInference, EvidenceRefs: refs(StrengthDirect)}
	assert.InDelta(t, 0.8*0.85, ClaimConfidence(c), 1e-9)

	c.EvidenceRefs = refs(StrengthSupporting)
	assert.InDelta(t, 0.6*0.85, ClaimConfidence(c), 1e-9)
}

func TestClaimConfidenceBounds(t *testing.T) {
	strengths := []Strength{StrengthDirect, StrengthSupporting, StrengthWeak, "bogus"}
	types := []ClaimType{ClaimFact, ClaimInference, ClaimRequirement, ClaimClassification, ClaimThreshold}
	statuses := []ClaimStatus{ClaimProposed, ClaimAccepted, ClaimCorrected, ClaimRejected}

	for _, ct := range types {
		for _, st := range statuses {
			for n := 0; n <= 3; n++ {
				for _, s := range strengths {
					rs := make([]Strength, n)
					for i := range rs {
						rs[i] = s
					}
					c := Claim{ClaimType: ct, Status: st, EvidenceRefs: refs(rs...)}
					got := ClaimConfidence(c)
					assert.GreaterOrEqual(t, got, 0.0)
					assert.LessOrEqual(t, got, 1.0)
					if st == ClaimCorrected {
						assert.GreaterOrEqual(t, got, 0.75)
						assert.LessOrEqual(t, got, 0.95)
					}
				}
			}
		}
	}
}

func TestConstraintConfidenceIsWeightedMean(t *testing.T) {
	claims := []Claim{{ClaimID: "a", Confidence: 0.8}, {ClaimID: "b", Confidence: 0.6}}
	con := Constraint{DerivedFrom: []DerivedFrom{{ClaimID: "a", Weight: 1}, {ClaimID: "b", Weight: 2}}}

	got := ConstraintConfidence(con, claims)
	assert.Greater(t, got, 0.6)
	assert.Less(t, got, 0.8)
	assert.InDelta(t, (0.8+1.2)/3, got, 1e-9)
	assert.NotEqual(t, 0.7, got)
}

func TestConstraintConfidenceUnresolved(t *testing.T) {
	con := Constraint{DerivedFrom: []DerivedFrom{{ClaimID: "missing", Weight: 1}}}
	assert.Equal(t, 0.0, ConstraintConfidence(con, nil))
	assert.Equal(t, 0.0, ConstraintConfidence(Constraint{}, nil))
}

func TestDecisionConfidence(t *testing.T) {
	got := DecisionConfidence([]DecisionInput{
		{Polarity: graph.PolarityPositive, Weight: 0.8, Confidence: 0.9},
		{Polarity: graph.PolarityNegative, Weight: 0.2, Confidence: 0.6},
	})
	assert.Greater(t, got, 0.5)
	assert.Less(t, got, 1.0)
	assert.InDelta(t, 0.5+0.36-0.06, got, 1e-9)

	assert.Equal(t, 0.5, DecisionConfidence(nil))
	assert.Equal(t, 0.5, DecisionConfidence([]DecisionInput{{Polarity: graph.PolarityNeutral, Weight: 1, Confidence: 1}}))
	assert.Equal(t, 1.0, DecisionConfidence([]DecisionInput{
		{Polarity: graph.PolarityPositive, Weight: 1, Confidence: 1},
		{Polarity: graph.PolarityPositive, Weight: 1, Confidence: 1},
	}))
	assert.Equal(t, 0.0, DecisionConfidence([]DecisionInput{
		{Polarity: graph.PolarityNegative, Weight: 1, Confidence: 1},
		{Polarity: graph.PolarityNegative, Weight: 1, Confidence: 1},
	}))
}

func TestDecisionConfidenceForReadsInfluenceEdges(t *testing.T) {
	var s graph.Snapshot
	graph.UpsertNode(&s, graph.Node{NodeID: "constraint:a", NodeType: graph.NodeConstraint, Confidence: 0.9})
	graph.UpsertNode(&s, graph.Node{NodeID: "constraint:b", NodeType: graph.NodeConstraint, Confidence: 0.6})
	graph.UpsertNode(&s, graph.Node{NodeID: "claim:c", NodeType: graph.NodeClaim, Confidence: 1})
	graph.UpsertNode(&s, graph.Node{NodeID: "decision:d", NodeType: graph.NodeDecision})
	graph.UpsertEdge(&s, graph.NewEdge("constraint:a", "decision:d", graph.EdgeInfluences, graph.PolarityPositive, 0.8))
	graph.UpsertEdge(&s, graph.NewEdge("constraint:b", "decision:d", graph.EdgeInfluences, graph.PolarityNegative, 0.2))
	graph.UpsertEdge(&s, graph.NewEdge("claim:c", "decision:d", graph.EdgeInfluences, graph.PolarityPositive, 1))

	assert.InDelta(t, 0.8, DecisionConfidenceFor(s, "decision:d"), 1e-9)
}
