// Package matrix maintains the draft result table of a decision run. Columns
// are recomputed from rules on every context change; user flags survive.
package matrix

import (
	"sort"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pointer"
)

// #region types
type ColumnKind string

const (
	KindBase  ColumnKind = "base"
	KindRule  ColumnKind = "rule"
	KindAdhoc ColumnKind = "adhoc"
)

type Column struct {
	ID       string     `json:"id" validate:"required"`
	Label    string     `json:"label" validate:"required"`
	Kind     ColumnKind `json:"kind"`
	Datatype string     `json:"datatype"`
	Why      string     `json:"why"`
	Visible  *bool      `json:"visible,omitempty"`
	Pinned   *bool      `json:"pinned,omitempty"`
	SkillID  string     `json:"skillId,omitempty"`
}

type Cell struct {
	ColumnID  string        `json:"columnId"`
	Value     pointer.Value `json:"value"`
	Rationale string        `json:"rationale,omitempty"`
	Evidence  []string      `json:"evidence,omitempty"`
}

type Row struct {
	ID    string `json:"id"`
	Cells []Cell `json:"cells"`
}

type DraftMatrix struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Rule contributes columns while When holds for the context.
type Rule struct {
	ID       string
	When     func(doc pointer.Value) bool
	Columns  []Column
	Priority int
}

// #endregion types

// #region recompute
// RecomputeColumns builds the column list: base columns, then the columns of
// every rule whose When holds in ascending priority, then prior columns no
// base or rule column covers. Ids are deduplicated first-wins and the prior
// pinned/visible flags are carried over by id.
func RecomputeColumns(base []Column, rules []Rule, doc pointer.Value, prior []Column) []Column {
	ordered := append([]Rule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	covered := make(map[string]bool)
	for _, c := range base {
		covered[c.ID] = true
	}
	for _, r := range ordered {
		for _, c := range r.Columns {
			covered[c.ID] = true
		}
	}

	var candidates []Column
	candidates = append(candidates, base...)
	for _, r := range ordered {
		if r.When != nil && r.When(doc) {
			candidates = append(candidates, r.Columns...)
		}
	}
	for _, c := range prior {
		if !covered[c.ID] {
			candidates = append(candidates, c)
		}
	}

	flags := make(map[string]Column, len(prior))
	for _, c := range prior {
		flags[c.ID] = c
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]Column, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if p, ok := flags[c.ID]; ok {
			if p.Pinned != nil {
				c.Pinned = boolPtr(*p.Pinned)
			}
			if p.Visible != nil {
				c.Visible = boolPtr(*p.Visible)
			}
		}
		out = append(out, c)
	}
	return out
}

// #endregion recompute

// #region flags
// SetFlags updates pinned and/or visible on column id. Nil leaves a flag as is.
func SetFlags(columns []Column, id string, pinned, visible *bool) ([]Column, error) {
	out := append([]Column(nil), columns...)
	for i := range out {
		if out[i].ID != id {
			continue
		}
		if pinned != nil {
			out[i].Pinned = boolPtr(*pinned)
		}
		if visible != nil {
			out[i].Visible = boolPtr(*visible)
		}
		return out, nil
	}
	return nil, apperr.NotFound("column %s", id)
}

// AddAdhocColumn appends a user column. Ids already present or owned by any
// rule, active or not, are rejected.
func AddAdhocColumn(columns []Column, rules []Rule, col Column) ([]Column, error) {
	if col.ID == "" || col.Label == "" {
		return nil, apperr.Validation("column needs an id and a label")
	}
	for _, c := range columns {
		if c.ID == col.ID {
			return nil, apperr.Validation("column %s already exists", col.ID)
		}
	}
	for _, r := range rules {
		for _, c := range r.Columns {
			if c.ID == col.ID {
				return nil, apperr.Validation("column %s is reserved by rule %s", col.ID, r.ID)
			}
		}
	}
	col.Kind = KindAdhoc
	if col.Datatype == "" {
		col.Datatype = "string"
	}
	return append(append([]Column(nil), columns...), col), nil
}

func boolPtr(b bool) *bool { return &b }

// Bool returns a pointer to b, for flag arguments.
func Bool(b bool) *bool { return boolPtr(b) }

// IsPinned and IsVisible read the optional flags; columns are visible unless
// hidden explicitly.
func (c Column) IsPinned() bool  { return c.Pinned != nil && *c.Pinned }
func (c Column) IsVisible() bool { return c.Visible == nil || *c.Visible }

// #endregion flags

// #region rows
// BuildRows turns candidate maps into rows. A candidate's "id" names the row,
// its "rationale" and "evidence" maps annotate cells by column id.
func BuildRows(candidates []pointer.Value, columns []Column) []Row {
	rows := make([]Row, 0, len(candidates))
	for i, cand := range candidates {
		if !cand.IsMap() {
			continue
		}
		id := cand.Field("id").Text()
		if id == "" {
			id = pointer.Int(i).Text()
		}
		row := Row{ID: id, Cells: make([]Cell, 0, len(columns))}
		rationale := cand.Field("rationale")
		evidence := cand.Field("evidence")
		for _, col := range columns {
			cell := Cell{ColumnID: col.ID, Value: pointer.Clone(cand.Field(col.ID))}
			if !cell.Value.IsDefined() {
				cell.Value = pointer.Null()
			}
			cell.Rationale = rationale.Field(col.ID).Text()
			if refs, ok := evidence.Field(col.ID).AsArray(); ok {
				for _, r := range refs {
					cell.Evidence = append(cell.Evidence, r.Text())
				}
			}
			row.Cells = append(row.Cells, cell)
		}
		rows = append(rows, row)
	}
	return rows
}

// Cell returns the cell of row for column id.
func (r Row) Cell(columnID string) (Cell, bool) {
	for _, c := range r.Cells {
		if c.ColumnID == columnID {
			return c, true
		}
	}
	return Cell{}, false
}

// #endregion rows
