package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pointer"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS graphs (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL DEFAULT 'draft',
    updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS graph_nodes (
    graph_id    TEXT NOT NULL,
    node_id     TEXT NOT NULL,
    node_type   TEXT NOT NULL,
    label       TEXT NOT NULL DEFAULT '',
    confidence  REAL NOT NULL DEFAULT 0,
    payload     TEXT,
    seq         INTEGER NOT NULL,
    PRIMARY KEY (graph_id, node_id)
);
CREATE TABLE IF NOT EXISTS graph_edges (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    graph_id    TEXT NOT NULL,
    edge_id     TEXT NOT NULL,
    from_id     TEXT NOT NULL,
    to_id       TEXT NOT NULL,
    edge_type   TEXT NOT NULL,
    polarity    TEXT NOT NULL DEFAULT '',
    weight      REAL NOT NULL DEFAULT 1.0,
    created_at  TEXT NOT NULL,
    UNIQUE(graph_id, from_id, to_id, edge_type)
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges(graph_id, from_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges(graph_id, to_id);
`

// #endregion schema

// #region constructor
// GraphStore persists provenance graphs to SQLite.
type GraphStore struct {
	db *sql.DB
}

// NewGraphStore creates tables and returns a GraphStore.
func NewGraphStore(db *sql.DB) (*GraphStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return &GraphStore{db: db}, nil
}

// #endregion constructor

// #region save
// Save writes the graph status, upserts every node and inserts new edges.
// Existing edges are never updated.
func (s *GraphStore) Save(ctx context.Context, g *Graph) error {
	snap := g.Snapshot()
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin graph tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO graphs (id, status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		g.ID(), string(g.Status()), now,
	); err != nil {
		return fmt.Errorf("save graph %s: %w", g.ID(), err)
	}

	for i, n := range snap.Nodes {
		payload, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("encode payload %s: %w", n.NodeID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graph_nodes (graph_id, node_id, node_type, label, confidence, payload, seq)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(graph_id, node_id) DO UPDATE SET
			   node_type = excluded.node_type,
			   label = excluded.label,
			   confidence = excluded.confidence,
			   payload = excluded.payload`,
			g.ID(), n.NodeID, string(n.NodeType), n.Label, n.Confidence, string(payload), i,
		); err != nil {
			return fmt.Errorf("save node %s: %w", n.NodeID, err)
		}
	}

	for _, e := range snap.Edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO graph_edges (graph_id, edge_id, from_id, to_id, edge_type, polarity, weight, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID(), e.EdgeID, e.FromNodeID, e.ToNodeID, string(e.EdgeType), string(e.Polarity), e.Weight, now,
		); err != nil {
			return fmt.Errorf("save edge %s: %w", e.EdgeID, err)
		}
	}

	return tx.Commit()
}

// #endregion save

// #region load
// Load reads a graph back. Unknown ids yield a NotFound error.
func (s *GraphStore) Load(ctx context.Context, id string) (*Graph, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM graphs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("graph %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load graph %s: %w", id, err)
	}

	var snap Snapshot
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, node_type, label, confidence, payload FROM graph_nodes
		 WHERE graph_id = ? ORDER BY seq, node_id`, id)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	for rows.Next() {
		var n Node
		var nodeType string
		var payload sql.NullString
		if err := rows.Scan(&n.NodeID, &nodeType, &n.Label, &n.Confidence, &payload); err != nil {
			rows.Close()
			return nil, err
		}
		n.NodeType = NodeType(nodeType)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			v, err := pointer.Decode([]byte(payload.String))
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode payload %s: %w", n.NodeID, err)
			}
			n.Payload = v
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	edges, err := s.queryEdges(ctx, `SELECT edge_id, from_id, to_id, edge_type, polarity, weight FROM graph_edges
		 WHERE graph_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	snap.Edges = edges
	return Restore(id, Status(status), snap), nil
}

// Neighbors returns edges leaving nodeID with weight >= minWeight, heaviest first.
func (s *GraphStore) Neighbors(ctx context.Context, graphID, nodeID string, minWeight float64) ([]Edge, error) {
	return s.queryEdges(ctx,
		`SELECT edge_id, from_id, to_id, edge_type, polarity, weight FROM graph_edges
		 WHERE graph_id = ? AND from_id = ? AND weight >= ?
		 ORDER BY weight DESC, id`,
		graphID, nodeID, minWeight,
	)
}

func (s *GraphStore) queryEdges(ctx context.Context, query string, args ...any) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var edgeType, polarity string
		if err := rows.Scan(&e.EdgeID, &e.FromNodeID, &e.ToNodeID, &edgeType, &polarity, &e.Weight); err != nil {
			return nil, err
		}
		e.EdgeType = EdgeType(edgeType)
		e.Polarity = Polarity(polarity)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// #endregion load
