package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/ingest"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/readiness"
	"github.com/weflora/planning-core/internal/rpc"
)

// #region flags
var (
	notes      []string
	acceptAll  bool
	parentID   string
	fromCtx    string
	sets       []string
	useDefault bool
	scope      string
	probeAddr  string
	probeWait  time.Duration

	extractCmd = &cobra.Command{
		Use:   "extract [file...]",
		Short: "Create a context version from files and notes and extract claims",
		RunE:  runExtract,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start a decision run from a confirmed context or explicit values",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	readinessCmd = &cobra.Command{
		Use:   "readiness [skill]",
		Short: "Resolve a skill's vault inputs; lists skills without an argument",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReadiness,
	}
	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Check a running planner through the gRPC health service",
		Args:  cobra.NoArgs,
		RunE:  runProbe,
	}
)

func init() {
	extractCmd.Flags().StringArrayVar(&notes, "note", nil, "add a manual note source (repeatable)")
	extractCmd.Flags().BoolVar(&acceptAll, "accept", false, "accept every proposed claim and confirm constraints")
	extractCmd.Flags().StringVar(&parentID, "parent", "", "parent context version id")

	runCmd.Flags().StringVar(&fromCtx, "context", "", "seed the run from this context's active constraints")
	runCmd.Flags().StringArrayVar(&sets, "set", nil, "pointer=value patch, value parsed as JSON when possible (repeatable)")
	runCmd.Flags().BoolVar(&useDefault, "defaults", false, "apply suggested defaults to blocked cards and resume")

	readinessCmd.Flags().StringVar(&scope, "scope", "", "project scope (defaults to the configured scope)")

	probeCmd.Flags().StringVar(&probeAddr, "addr", "localhost:9090", "planner gRPC address")
	probeCmd.Flags().DurationVar(&probeWait, "timeout", 5*time.Second, "probe timeout")
}

// #endregion flags

// #region extract
func runExtract(cmd *cobra.Command, files []string) error {
	if len(files) == 0 && len(notes) == 0 {
		return apperr.Validation("give at least one file or --note")
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	cv, err := a.pciv.CreateContextVersion(ctx, parentID)
	if err != nil {
		return err
	}
	var srcs []pciv.Source
	for _, path := range files {
		got, err := ingest.FromFile(path, ingest.UploadChunks)
		if err != nil {
			return err
		}
		srcs = append(srcs, got...)
	}
	for i, note := range notes {
		for j, chunk := range ingest.Chunk(note, ingest.NoteChunks) {
			srcs = append(srcs, pciv.Source{
				Type:    pciv.SourceManualNote,
				Title:   fmt.Sprintf("note %d.%d", i+1, j+1),
				Content: chunk,
			})
		}
	}
	for _, src := range srcs {
		if _, err := a.pciv.AddSource(ctx, cv.ID, src); err != nil {
			return err
		}
	}

	ext, err := a.pciv.ExtractContext(ctx, cv.ID)
	if err != nil {
		return err
	}
	if acceptAll {
		for _, c := range ext.Claims {
			if _, err := a.pciv.UpdateClaim(ctx, cv.ID, c.ClaimID, pciv.ClaimUpdate{Status: pciv.ClaimAccepted}); err != nil {
				return err
			}
		}
		if _, err := a.pciv.ConfirmConstraints(ctx, cv.ID); err != nil {
			return err
		}
	}

	out, err := a.pciv.Get(ctx, cv.ID)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(w, out)
	}
	fmt.Fprintf(w, "context %s: %d sources, %d evidence, %d claims, %d constraints (%s)\n",
		out.ID, len(out.Sources), len(out.Evidence), len(out.Claims), len(out.Constraints), out.Status())
	for _, c := range out.Claims {
		fmt.Fprintf(w, "  claim %s %-24s %-10s %.2f  %s\n", c.ClaimID, c.Normalized.Key, c.Status, c.Confidence, c.Statement)
	}
	for _, c := range out.Constraints {
		if c.Status == pciv.ConstraintActive {
			fmt.Fprintf(w, "  constraint %s = %s (%.2f)\n", c.Key, c.Value, c.Confidence)
		}
	}
	return nil
}

// #endregion extract

// #region run
func runRun(cmd *cobra.Command, _ []string) error {
	patches, err := parseSets(sets)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	var st engine.ExecutionState
	if fromCtx != "" {
		cs, cerr := a.pciv.Constraints(ctx, fromCtx)
		if cerr != nil {
			return cerr
		}
		st, err = a.engine.StartFromConstraints(ctx, cs, patches)
	} else {
		st, err = a.engine.Start(ctx, patches)
	}
	if err != nil {
		return err
	}
	if useDefault {
		if st, err = settleWithDefaults(ctx, a.engine, st); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(w, st)
	}
	fmt.Fprintf(w, "run %s: %s\n", st.RunID, st.Status)
	for _, ss := range st.Steps {
		fmt.Fprintf(w, "  %-22s %s\n", ss.StepID, ss.Status)
	}
	for _, c := range st.OpenCards() {
		fmt.Fprintf(w, "  card %s (%s): missing %s\n", c.ID, c.Kind, strings.Join(c.Missing, ", "))
	}
	if st.Matrix != nil {
		fmt.Fprintf(w, "  matrix: %d columns, %d rows\n", len(st.Matrix.Columns), len(st.Matrix.Rows))
	}
	return nil
}

// settleWithDefaults applies suggested defaults to open cards and resumes
// until the run stops blocking or no card has a suggestion left.
func settleWithDefaults(ctx context.Context, eng *engine.Engine, st engine.ExecutionState) (engine.ExecutionState, error) {
	for st.Status == engine.RunBlocked {
		applied := false
		for _, c := range st.OpenCards() {
			if len(c.SuggestedPatches) == 0 {
				continue
			}
			next, err := eng.ApplyDefaults(ctx, st.RunID, c.ID)
			if err != nil {
				return next, err
			}
			st, applied = next, true
		}
		if !applied {
			return st, nil
		}
		next, err := eng.Resume(ctx, st.RunID)
		if err != nil {
			return next, err
		}
		st = next
	}
	return st, nil
}

// parseSets turns pointer=value flags into patches. Values that parse as
// JSON keep their type; anything else is a string.
func parseSets(raw []string) ([]pointer.Patch, error) {
	out := make([]pointer.Patch, 0, len(raw))
	for _, kv := range raw {
		ptr, val, ok := strings.Cut(kv, "=")
		if !ok || ptr == "" {
			return nil, apperr.Validation("--set %q: want pointer=value", kv)
		}
		var x any = val
		var parsed any
		if json.Unmarshal([]byte(val), &parsed) == nil {
			x = parsed
		}
		p, err := pointer.NewPatch(ptr, x)
		if err != nil {
			return nil, fmt.Errorf("--set %q: %w", kv, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// #endregion run

// #region readiness
func runReadiness(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	w := cmd.OutOrStdout()

	skills := a.agents.Skills()
	if len(args) == 0 {
		if jsonOut {
			return printJSON(w, skills)
		}
		for _, s := range skills {
			fmt.Fprintf(w, "%-20s %s (%d inputs)\n", s.ID, s.Label, len(s.Inputs))
		}
		return nil
	}

	var skill *readiness.Skill
	for i := range skills {
		if skills[i].ID == args[0] {
			skill = &skills[i]
		}
	}
	if skill == nil {
		return apperr.NotFound("skill %s", args[0])
	}
	sc := scope
	if sc == "" {
		sc = a.cfg.Scope
	}
	res, err := a.readiness.Resolve(cmd.Context(), readiness.Request{Skill: *skill, Scope: sc})
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "%s: %s (index %s)\n", res.SkillID, res.Status, res.IndexVersion)
	for _, b := range res.Bindings {
		fmt.Fprintf(w, "  %-16s %-8s %s %.2f\n", b.InputID, b.Kind, b.VaultID, b.Confidence)
	}
	for _, id := range res.Unbound {
		fmt.Fprintf(w, "  %-16s unbound\n", id)
	}
	for _, is := range res.Issues {
		fmt.Fprintf(w, "  issue %s: %s\n", is.InputID, is.Code)
	}
	return nil
}

// #endregion readiness

// #region probe
func runProbe(cmd *cobra.Command, _ []string) error {
	c, err := rpc.Dial(probeAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), probeWait)
	defer cancel()
	got, err := c.CheckAll(ctx, "", rpc.ServiceEngine, rpc.ServicePCIV, rpc.ServiceReadiness)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(w, got)
	}
	for _, name := range []string{"", rpc.ServiceEngine, rpc.ServicePCIV, rpc.ServiceReadiness} {
		label := name
		if label == "" {
			label = "(server)"
		}
		fmt.Fprintf(w, "%-20s %s\n", label, got[name])
	}
	if got[""] != "SERVING" {
		return fmt.Errorf("planner at %s is %s", probeAddr, got[""])
	}
	return nil
}

// #endregion probe
