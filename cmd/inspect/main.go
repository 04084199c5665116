package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to planner.db")
	last := flag.Int("last", 20, "show N most recently updated runs")
	runID := flag.String("run", "", "show single run detail")
	contextID := flag.String("context", "", "show single context version detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/planner.db [--last N] [--run id] [--context id] [--json]")
		os.Exit(2)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	switch {
	case *runID != "":
		err = runDetailMode(ctx, st, *runID, *jsonOut)
	case *contextID != "":
		err = contextDetailMode(ctx, st, *contextID, *jsonOut)
	default:
		err = runListMode(ctx, st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runListMode(ctx context.Context, st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(ctx, last)
	if err != nil {
		return err
	}
	contexts, err := st.ListContexts(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]any{"runs": runs, "contexts": contexts})
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
	} else {
		fmt.Printf("%-12s  %-24s  %-8s  %s\n", "Run", "Program", "Status", "Updated")
		fmt.Printf("%-12s+-%-24s+-%-8s+-%s\n", "------------", "------------------------", "--------", "--------------------")
		for _, r := range runs {
			fmt.Printf("%-12s  %-24s  %-8s  %s\n", shortID(r.RunID), r.ProgramID, r.Status, r.UpdatedAt.Format("2006-01-02T15:04:05Z"))
		}
	}
	fmt.Printf("\nContext versions: %d\n", len(contexts))
	for _, id := range contexts {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

// #endregion list-mode

// #region run-detail

type runDetail struct {
	RunID     string                 `json:"run_id"`
	ProgramID string                 `json:"program_id"`
	Status    engine.RunStatus       `json:"status"`
	Steps     []engine.StepState     `json:"steps"`
	OpenCards []engine.ActionCard    `json:"open_cards"`
	Columns   []string               `json:"columns,omitempty"`
	Rows      int                    `json:"rows"`
	Nodes     map[graph.NodeType]int `json:"nodes"`
	History   []store.StatusChange   `json:"history"`
}

func runDetailMode(ctx context.Context, st *store.Store, runID string, jsonOut bool) error {
	run, err := st.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	history, err := st.History(ctx, runID)
	if err != nil {
		return err
	}

	out := runDetail{
		RunID:     run.RunID,
		ProgramID: run.ProgramID,
		Status:    run.Status,
		Steps:     run.Steps,
		OpenCards: run.OpenCards(),
		Nodes:     run.Graph.CountByNodeType(),
		History:   history,
	}
	if run.Matrix != nil {
		for _, c := range run.Matrix.Columns {
			out.Columns = append(out.Columns, c.ID)
		}
		out.Rows = len(run.Matrix.Rows)
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:      %s\n", out.RunID)
	fmt.Printf("Program:  %s\n", out.ProgramID)
	fmt.Printf("Status:   %s\n", out.Status)

	fmt.Printf("\nSteps:\n")
	for _, s := range out.Steps {
		extra := ""
		if len(s.Missing) > 0 {
			extra = " missing " + strings.Join(s.Missing, ", ")
		}
		if s.Error != "" {
			extra = " error: " + s.Error
		}
		fmt.Printf("  %-22s %-8s attempts=%d%s\n", s.StepID, s.Status, s.Attempts, extra)
	}

	if len(out.OpenCards) > 0 {
		fmt.Printf("\nOpen cards:\n")
		for _, c := range out.OpenCards {
			fmt.Printf("  %s  %-10s %s\n", shortID(c.ID), c.Kind, c.Title)
		}
	}
	if len(out.Columns) > 0 {
		fmt.Printf("\nMatrix: %d rows, columns %s\n", out.Rows, strings.Join(out.Columns, ", "))
	}

	fmt.Printf("\nEvidence graph:\n")
	for _, nt := range []graph.NodeType{graph.NodeConstraint, graph.NodeDecision, graph.NodeArtifact} {
		fmt.Printf("  %-12s %d\n", nt, out.Nodes[nt])
	}

	fmt.Printf("\nHistory:\n")
	for _, h := range out.History {
		fmt.Printf("  %s  %-8s open_cards=%d\n", h.SavedAt.Format("2006-01-02T15:04:05Z"), h.Status, h.OpenCards)
	}
	return nil
}

// #endregion run-detail

// #region context-detail

type contextDetail struct {
	ID          string               `json:"id"`
	ParentID    string               `json:"parent_id,omitempty"`
	Status      graph.Status         `json:"status"`
	Sources     int                  `json:"sources"`
	Evidence    int                  `json:"evidence"`
	Claims      []pciv.Claim         `json:"claims"`
	Constraints []pciv.Constraint    `json:"constraints"`
	Audit       []logging.AuditEntry `json:"audit"`
}

func contextDetailMode(ctx context.Context, st *store.Store, id string, jsonOut bool) error {
	cv, err := st.LoadContext(ctx, id)
	if err != nil {
		return err
	}
	audit, err := st.Audit().List(ctx, id)
	if err != nil {
		return err
	}
	out := contextDetail{
		ID:          cv.ID,
		ParentID:    cv.ParentID,
		Status:      cv.Status(),
		Sources:     len(cv.Sources),
		Evidence:    len(cv.Evidence),
		Claims:      cv.Claims,
		Constraints: cv.Constraints,
		Audit:       audit,
	}
	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Context:  %s\n", out.ID)
	fmt.Printf("Parent:   %s\n", out.ParentID)
	fmt.Printf("Status:   %s\n", out.Status)
	fmt.Printf("Sources:  %d  Evidence: %d\n", out.Sources, out.Evidence)

	fmt.Printf("\nClaims:\n")
	for _, c := range out.Claims {
		fmt.Printf("  %-24s %-10s %.2f  %s\n", c.Normalized.Key, c.Status, c.Confidence, c.Statement)
	}
	fmt.Printf("\nConstraints:\n")
	for _, c := range out.Constraints {
		fmt.Printf("  %-24s %-10s %.2f  %s\n", c.Key, c.Status, c.Confidence, c.Value)
	}
	fmt.Printf("\nAudit:\n")
	for _, e := range out.Audit {
		fmt.Printf("  %s  %-16s %-5s %s\n", e.CreatedAt.Format("2006-01-02T15:04:05Z"), e.Action, e.Outcome, e.Detail)
	}
	return nil
}

// #endregion context-detail

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
