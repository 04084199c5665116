// Package graph holds the provenance graph linking sources, evidence, claims,
// constraints and decisions.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pointer"
)

// #region ids
// NodeID builds the content-derived id for a node of type t.
func NodeID(t NodeType, id string) string {
	return string(t) + ":" + id
}

// EdgeID builds the stable id for an edge.
func EdgeID(from, to string, t EdgeType) string {
	return fmt.Sprintf("%s->%s#%s", from, to, t)
}

// NewEdge returns an edge with its id filled in.
func NewEdge(from, to string, t EdgeType, polarity Polarity, weight float64) Edge {
	return Edge{
		EdgeID:     EdgeID(from, to, t),
		FromNodeID: from,
		ToNodeID:   to,
		EdgeType:   t,
		Polarity:   polarity,
		Weight:     weight,
	}
}

// #endregion ids

// #region upsert
// UpsertNode replaces the node with the same id or appends it.
func UpsertNode(s *Snapshot, n Node) {
	for i := range s.Nodes {
		if s.Nodes[i].NodeID == n.NodeID {
			s.Nodes[i] = n
			return
		}
	}
	s.Nodes = append(s.Nodes, n)
}

// UpsertEdge appends e unless an edge with the same (from, to, type) exists.
// It reports whether e was added.
func UpsertEdge(s *Snapshot, e Edge) bool {
	for _, existing := range s.Edges {
		if existing.FromNodeID == e.FromNodeID && existing.ToNodeID == e.ToNodeID && existing.EdgeType == e.EdgeType {
			return false
		}
	}
	if e.EdgeID == "" {
		e.EdgeID = EdgeID(e.FromNodeID, e.ToNodeID, e.EdgeType)
	}
	s.Edges = append(s.Edges, e)
	return true
}

// Clone deep-copies a snapshot.
func Clone(s Snapshot) Snapshot {
	out := Snapshot{
		Nodes: make([]Node, len(s.Nodes)),
		Edges: append([]Edge(nil), s.Edges...),
	}
	for i, n := range s.Nodes {
		n.Payload = pointer.Clone(n.Payload)
		out.Nodes[i] = n
	}
	return out
}

// Merge clones base and upserts every node and edge of next into it.
func Merge(base, next Snapshot) Snapshot {
	out := Clone(base)
	for _, n := range next.Nodes {
		n.Payload = pointer.Clone(n.Payload)
		UpsertNode(&out, n)
	}
	for _, e := range next.Edges {
		UpsertEdge(&out, e)
	}
	return out
}

// #endregion upsert

// #region queries
// FindNode returns the node with id.
func (s Snapshot) FindNode(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Incoming returns edges pointing at id, optionally filtered by type.
func (s Snapshot) Incoming(id string, types ...EdgeType) []Edge {
	var out []Edge
	for _, e := range s.Edges {
		if e.ToNodeID == id && matchType(e.EdgeType, types) {
			out = append(out, e)
		}
	}
	return out
}

// Outgoing returns edges leaving id, optionally filtered by type.
func (s Snapshot) Outgoing(id string, types ...EdgeType) []Edge {
	var out []Edge
	for _, e := range s.Edges {
		if e.FromNodeID == id && matchType(e.EdgeType, types) {
			out = append(out, e)
		}
	}
	return out
}

func matchType(t EdgeType, types []EdgeType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// NodesOfType returns nodes of type t in insertion order.
func (s Snapshot) NodesOfType(t NodeType) []Node {
	var out []Node
	for _, n := range s.Nodes {
		if n.NodeType == t {
			out = append(out, n)
		}
	}
	return out
}

func (s Snapshot) CountByNodeType() map[NodeType]int {
	counts := make(map[NodeType]int)
	for _, n := range s.Nodes {
		counts[n.NodeType]++
	}
	return counts
}

func (s Snapshot) CountByEdgeType() map[EdgeType]int {
	counts := make(map[EdgeType]int)
	for _, e := range s.Edges {
		counts[e.EdgeType]++
	}
	return counts
}

// #endregion queries

// #region trace
// Trace walks provenance breadth-first from nodeID back towards the sources,
// up to maxDepth hops: incoming edges are followed to their origin and cites
// edges to the cited node. Scores are cumulative edge-weight products.
func (s Snapshot) Trace(nodeID string, maxDepth int) WalkResult {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	result := WalkResult{
		IDs:    []string{nodeID},
		Scores: []float64{1.0},
	}
	visited := map[string]bool{nodeID: true}

	type queueItem struct {
		id    string
		depth int
		score float64
	}
	queue := []queueItem{{nodeID, 0, 1.0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		type hop struct {
			to     string
			weight float64
		}
		var hops []hop
		for _, e := range s.Incoming(current.id) {
			hops = append(hops, hop{e.FromNodeID, e.Weight})
		}
		for _, e := range s.Outgoing(current.id, EdgeCites) {
			hops = append(hops, hop{e.ToNodeID, e.Weight})
		}
		sort.SliceStable(hops, func(i, j int) bool { return hops[i].weight > hops[j].weight })
		for _, h := range hops {
			if visited[h.to] {
				continue
			}
			visited[h.to] = true
			cum := current.score * h.weight
			result.IDs = append(result.IDs, h.to)
			result.Scores = append(result.Scores, cum)
			queue = append(queue, queueItem{h.to, current.depth + 1, cum})
		}
	}
	return result
}

// #endregion trace

// #region graph
// Graph is a snapshot bound to one context version with a draft/locked
// lifecycle. It is safe for concurrent use.
type Graph struct {
	mu       sync.RWMutex
	id       string
	status   Status
	snapshot Snapshot
}

// New returns an empty draft graph.
func New(id string) *Graph {
	return &Graph{id: id, status: StatusDraft}
}

// Restore rebuilds a graph from persisted parts.
func Restore(id string, status Status, s Snapshot) *Graph {
	if status == "" {
		status = StatusDraft
	}
	return &Graph{id: id, status: status, snapshot: Clone(s)}
}

func (g *Graph) ID() string { return g.id }

func (g *Graph) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

func (g *Graph) Locked() bool { return g.Status() == StatusLocked }

// Snapshot returns a deep copy of the current nodes and edges.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Clone(g.snapshot)
}

func (g *Graph) writable() error {
	if g.status == StatusLocked {
		return apperr.InvalidTransition("graph %s is locked", g.id)
	}
	return nil
}

// AddNode upserts n.
func (g *Graph) AddNode(n Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.writable(); err != nil {
		return err
	}
	UpsertNode(&g.snapshot, n)
	return nil
}

// AddEdge upserts e and reports whether it was new.
func (g *Graph) AddEdge(e Edge) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.writable(); err != nil {
		return false, err
	}
	return UpsertEdge(&g.snapshot, e), nil
}

// Merge folds next into the graph.
func (g *Graph) Merge(next Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.writable(); err != nil {
		return err
	}
	g.snapshot = Merge(g.snapshot, next)
	return nil
}

// Lock moves the graph to locked. Locking twice is an invalid transition.
func (g *Graph) Lock() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.writable(); err != nil {
		return err
	}
	g.status = StatusLocked
	return nil
}

// #endregion graph
