package graph

import (
	"github.com/weflora/planning-core/internal/pointer"
)

// #region node-types
// NodeType classifies a provenance node.
type NodeType string

const (
	NodeSource     NodeType = "source"
	NodeEvidence   NodeType = "evidence"
	NodeClaim      NodeType = "claim"
	NodeConstraint NodeType = "constraint"
	NodeDecision   NodeType = "decision"
	NodeArtifact   NodeType = "artifact"
)

// NodeTypes lists every node type in pipeline order.
var NodeTypes = []NodeType{NodeSource, NodeEvidence, NodeClaim, NodeConstraint, NodeDecision, NodeArtifact}

// EdgeType classifies a provenance link.
type EdgeType string

const (
	EdgeCites      EdgeType = "cites"
	EdgeSupports   EdgeType = "supports"
	EdgeDerives    EdgeType = "derives"
	EdgeInfluences EdgeType = "influences"
	EdgeConflicts  EdgeType = "conflicts"
	EdgeExplains   EdgeType = "explains"
)

// Polarity is the direction an edge pushes its target.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// Sign maps a polarity onto +1, -1 or 0. An empty polarity counts as positive.
func (p Polarity) Sign() float64 {
	switch p {
	case PolarityNegative:
		return -1
	case PolarityNeutral:
		return 0
	default:
		return 1
	}
}

// #endregion node-types

// #region types
// Node is one vertex of the provenance graph.
type Node struct {
	NodeID     string        `json:"nodeId"`
	NodeType   NodeType      `json:"nodeType"`
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
	Payload    pointer.Value `json:"payload,omitzero"`
}

// Edge links two nodes. Edges are identified by (from, to, type).
type Edge struct {
	EdgeID     string   `json:"edgeId"`
	FromNodeID string   `json:"fromNodeId"`
	ToNodeID   string   `json:"toNodeId"`
	EdgeType   EdgeType `json:"edgeType"`
	Polarity   Polarity `json:"polarity,omitempty"`
	Weight     float64  `json:"weight"`
}

// Snapshot is a plain node and edge list.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Status is the lifecycle state of a Graph.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusLocked Status = "locked"
)

// WalkResult holds an ordered path from a provenance walk.
type WalkResult struct {
	IDs    []string  `json:"ids"`    // node IDs in walk order
	Scores []float64 `json:"scores"` // cumulative edge-weight products at each node
}

// #endregion types
