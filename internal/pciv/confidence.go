package pciv

import (
	"github.com/weflora/planning-core/internal/graph"
)

// #region strength
// Score maps a strength onto its confidence contribution.
func (s Strength) Score() float64 {
	switch s {
	case StrengthDirect:
		return 1.0
	case StrengthSupporting:
		return 0.6
	case StrengthWeak:
		return 0.3
	default:
		return 0
	}
}

// #endregion strength

// #region claim-confidence
const (
	inferenceCap     = 0.8
	inferenceScale   = 0.85
	correctedFloor   = 0.75
	correctedCeiling = 0.95
)

// ClaimConfidence averages the evidence strengths, dampens inferences and
// pins reviewer-corrected claims into [0.75, 0.95].
func ClaimConfidence(c Claim) float64 {
	var x float64
	if len(c.EvidenceRefs) > 0 {
		var sum float64
		for _, ref := range c.EvidenceRefs {
			sum += ref.Strength.Score()
		}
		x = sum / float64(len(c.EvidenceRefs))
	}
	if c.ClaimType == ClaimInference {
		x = min(x, inferenceCap) * inferenceScale
	}
	if c.Status == ClaimCorrected {
		x = clamp(x, correctedFloor, correctedCeiling)
	}
	return clamp(x, 0, 1)
}

// #endregion claim-confidence

// #region constraint-confidence
// ConstraintConfidence is the weighted mean of the confidences of the claims
// the constraint derives from. Unresolvable claims are ignored; nothing
// resolvable yields 0.
func ConstraintConfidence(con Constraint, claims []Claim) float64 {
	byID := make(map[string]Claim, len(claims))
	for _, c := range claims {
		byID[c.ClaimID] = c
	}
	var num, den float64
	for _, df := range con.DerivedFrom {
		c, ok := byID[df.ClaimID]
		if !ok || df.Weight <= 0 {
			continue
		}
		num += df.Weight * c.Confidence
		den += df.Weight
	}
	if den == 0 {
		return 0
	}
	return clamp(num/den, 0, 1)
}

// #endregion constraint-confidence

// #region decision-confidence
// DecisionInput is one constraint pushing on a decision.
type DecisionInput struct {
	Polarity   graph.Polarity
	Weight     float64
	Confidence float64
}

// DecisionConfidence starts at neutral 0.5 and moves by half of each input's
// signed, weighted confidence.
func DecisionConfidence(inputs []DecisionInput) float64 {
	x := 0.5
	for _, in := range inputs {
		x += in.Polarity.Sign() * in.Weight * in.Confidence * 0.5
	}
	return clamp(x, 0, 1)
}

// DecisionConfidenceFor reads the influences edges from constraint nodes into
// nodeID.
func DecisionConfidenceFor(s graph.Snapshot, nodeID string) float64 {
	var inputs []DecisionInput
	for _, e := range s.Incoming(nodeID, graph.EdgeInfluences) {
		from, ok := s.FindNode(e.FromNodeID)
		if !ok || from.NodeType != graph.NodeConstraint {
			continue
		}
		inputs = append(inputs, DecisionInput{Polarity: e.Polarity, Weight: e.Weight, Confidence: from.Confidence})
	}
	return DecisionConfidence(inputs)
}

// #endregion decision-confidence

func clamp(x, lo, hi float64) float64 {
	return max(lo, min(x, hi))
}
