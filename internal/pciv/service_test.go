package pciv

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/registry"
)

func newTestService(t *testing.T) (*Service, *logging.MemoryAudit) {
	t.Helper()
	audit := &logging.MemoryAudit{}
	svc := NewService(NewMemoryStore(), registry.Default(),
		WithLogger(logging.Discard()),
		WithAuditor(audit),
	)
	return svc, audit
}

func memo(content string) Source {
	return Source{Type: SourceManualNote, Title: "site memo", Content: content}
}

// #region end-to-end
func TestEndToEndProvincialRoadScenario(t *testing.T) {
	ctx := context.Background()
	svc, audit := newTestService(t)

	cv, err := svc.CreateContextVersion(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, graph.StatusDraft, cv.Status())

	_, err = svc.AddSource(ctx, cv.ID, memo("Provincial road... Soil type: clay"))
	require.NoError(t, err)

	ext, err := svc.ExtractContext(ctx, cv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ext.Claims)

	got, err := svc.Get(ctx, cv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.Claims)

	first := got.Claims[0]
	_, err = svc.UpdateClaim(ctx, cv.ID, first.ClaimID, ClaimUpdate{Status: ClaimAccepted})
	require.NoError(t, err)

	created, err := svc.ConfirmConstraints(ctx, cv.ID)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, first.Normalized.Key, created[0].Key)
	assert.Equal(t, ConstraintActive, created[0].Status)

	final, err := svc.Get(ctx, cv.ID)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusLocked, final.Status())

	snap := final.Graph.Snapshot()
	nodes := snap.CountByNodeType()
	for _, nt := range []graph.NodeType{graph.NodeSource, graph.NodeEvidence, graph.NodeClaim, graph.NodeConstraint} {
		assert.GreaterOrEqual(t, nodes[nt], 1, "node type %s", nt)
	}
	edges := snap.CountByEdgeType()
	for _, et := range []graph.EdgeType{graph.EdgeCites, graph.EdgeSupports, graph.EdgeDerives} {
		assert.GreaterOrEqual(t, edges[et], 1, "edge type %s", et)
	}

	trace := snap.Trace(graph.NodeID(graph.NodeConstraint, created[0].ConstraintID), 0)
	assert.Contains(t, trace.IDs, graph.NodeID(graph.NodeSource, final.Sources[0].SourceID))

	assert.Equal(t, []string{"create", "add_source", "extract", "update_claim", "confirm"}, audit.Actions(cv.ID))
}

// #endregion end-to-end

// #region lifecycle
func TestUpdateClaimAfterLockFails(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	cv, err := svc.CreateContextVersion(ctx, "")
	require.NoError(t, err)
	_, err = svc.AddSource(ctx, cv.ID, memo("Soil type: sand"))
	require.NoError(t, err)
	_, err = svc.ExtractContext(ctx, cv.ID)
	require.NoError(t, err)
	got, _ := svc.Get(ctx, cv.ID)
	claimID := got.Claims[0].ClaimID

	_, err = svc.ConfirmConstraints(ctx, cv.ID)
	require.NoError(t, err)

	_, err = svc.UpdateClaim(ctx, cv.ID, claimID, ClaimUpdate{Status: ClaimAccepted})
	assert.True(t, apperr.IsInvalidTransition(err))
	_, err = svc.AddSource(ctx, cv.ID, memo("more"))
	assert.True(t, apperr.IsInvalidTransition(err))
	_, err = svc.ExtractContext(ctx, cv.ID)
	assert.True(t, apperr.IsInvalidTransition(err))
	_, err = svc.ConfirmConstraints(ctx, cv.ID)
	assert.True(t, apperr.IsInvalidTransition(err))
}

func TestUpdateClaimErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.UpdateClaim(ctx, "nope", "c", ClaimUpdate{Status: ClaimAccepted})
	assert.True(t, apperr.IsNotFound(err))

	cv, err := svc.CreateContextVersion(ctx, "")
	require.NoError(t, err)
	_, err = svc.UpdateClaim(ctx, cv.ID, "missing", ClaimUpdate{Status: ClaimAccepted})
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.AddSource(ctx, cv.ID, memo("Soil type: sand"))
	require.NoError(t, err)
	_, err = svc.ExtractContext(ctx, cv.ID)
	require.NoError(t, err)
	got, _ := svc.Get(ctx, cv.ID)
	claimID := got.Claims[0].ClaimID

	_, err = svc.UpdateClaim(ctx, cv.ID, claimID, ClaimUpdate{Status: ClaimCorrected})
	assert.True(t, apperr.IsValidation(err), "corrected without a value")

	_, err = svc.UpdateClaim(ctx, cv.ID, claimID, ClaimUpdate{Status: ClaimCorrected, CorrectedValue: pointer.String("granite")})
	assert.True(t, apperr.IsValidation(err), "value outside the enum")

	_, err = svc.UpdateClaim(ctx, cv.ID, claimID, ClaimUpdate{Status: "maybe"})
	assert.True(t, apperr.IsValidation(err))
}

func TestCorrectedClaimConfidence(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	cv, _ := svc.CreateContextVersion(ctx, "")
	_, err := svc.AddSource(ctx, cv.ID, memo("Rather shady."))
	require.NoError(t, err)
	_, err = svc.ExtractContext(ctx, cv.ID)
	require.NoError(t, err)
	got, _ := svc.Get(ctx, cv.ID)
	require.Len(t, got.Claims, 1)
	assert.InDelta(t, 0.6, got.Claims[0].Confidence, 1e-9)

	c, err := svc.UpdateClaim(ctx, cv.ID, got.Claims[0].ClaimID, ClaimUpdate{Status: ClaimCorrected, CorrectedValue: pointer.String("Full shade")})
	require.NoError(t, err)
	assert.Equal(t, "full_shade", c.EffectiveValue().Text())
	assert.InDelta(t, 0.75, c.Confidence, 1e-9)

	after, _ := svc.Get(ctx, cv.ID)
	n, ok := after.Graph.Snapshot().FindNode(graph.NodeID(graph.NodeClaim, c.ClaimID))
	require.True(t, ok)
	assert.InDelta(t, 0.75, n.Confidence, 1e-9)
	assert.Equal(t, "full_shade", n.Payload.Field("value").Text())
}

func TestExtractOnlyProcessesNewSources(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	cv, _ := svc.CreateContextVersion(ctx, "")

	_, err := svc.AddSource(ctx, cv.ID, memo("Soil type: peat"))
	require.NoError(t, err)
	_, err = svc.ExtractContext(ctx, cv.ID)
	require.NoError(t, err)

	again, err := svc.ExtractContext(ctx, cv.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Evidence)

	_, err = svc.AddSource(ctx, cv.ID, memo("Full sun all day"))
	require.NoError(t, err)
	third, err := svc.ExtractContext(ctx, cv.ID)
	require.NoError(t, err)
	assert.Len(t, third.Evidence, 1)

	got, _ := svc.Get(ctx, cv.ID)
	assert.Len(t, got.Claims, 2)
	assert.Len(t, got.Processed, 2)
}

func TestAddSourceValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	cv, _ := svc.CreateContextVersion(ctx, "")

	_, err := svc.AddSource(ctx, cv.ID, Source{Type: "fax", Title: "x"})
	assert.True(t, apperr.IsValidation(err))
	_, err = svc.AddSource(ctx, cv.ID, Source{Type: SourceAPI})
	assert.True(t, apperr.IsValidation(err))

	src, err := svc.AddSource(ctx, cv.ID, Source{SourceID: "fixed", Type: SourceAPI, Title: "feed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", src.SourceID)
	_, err = svc.AddSource(ctx, cv.ID, Source{SourceID: "fixed", Type: SourceAPI, Title: "feed"})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.AddSource(ctx, "unknown", memo("x"))
	assert.True(t, apperr.IsNotFound(err))
}

// #endregion lifecycle

// #region confirm
func TestConfirmPicksMajorityAndRecordsConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	cv, _ := svc.CreateContextVersion(ctx, "")

	for _, content := range []string{"Soil type: clay", "Soil type: clay, heavy", "Soil type: sand"} {
		_, err := svc.AddSource(ctx, cv.ID, memo(content))
		require.NoError(t, err)
	}
	_, err := svc.ExtractContext(ctx, cv.ID)
	require.NoError(t, err)

	got, _ := svc.Get(ctx, cv.ID)
	require.Len(t, got.Claims, 3)
	var sandClaim string
	for _, c := range got.Claims {
		_, err := svc.UpdateClaim(ctx, cv.ID, c.ClaimID, ClaimUpdate{Status: ClaimAccepted})
		require.NoError(t, err)
		if c.Normalized.Value.Text() == "sand" {
			sandClaim = c.ClaimID
		}
	}

	created, err := svc.ConfirmConstraints(ctx, cv.ID)
	require.NoError(t, err)
	require.Len(t, created, 1)
	con := created[0]
	assert.Equal(t, "clay", con.Value.Text())
	assert.Len(t, con.DerivedFrom, 2)
	assert.InDelta(t, 1.0, con.Confidence, 1e-9)

	final, _ := svc.Get(ctx, cv.ID)
	conflicts := final.Graph.Snapshot().Incoming(graph.NodeID(graph.NodeConstraint, con.ConstraintID), graph.EdgeConflicts)
	require.Len(t, conflicts, 1)
	assert.Equal(t, graph.NodeID(graph.NodeClaim, sandClaim), conflicts[0].FromNodeID)
	assert.Equal(t, graph.PolarityNegative, conflicts[0].Polarity)
}

func TestConfirmIgnoresProposedAndRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	cv, _ := svc.CreateContextVersion(ctx, "")

	_, err := svc.AddSource(ctx, cv.ID, memo("Municipal street. Soil type: silt."))
	require.NoError(t, err)
	_, err = svc.ExtractContext(ctx, cv.ID)
	require.NoError(t, err)
	got, _ := svc.Get(ctx, cv.ID)
	require.Len(t, got.Claims, 2)
	_, err = svc.UpdateClaim(ctx, cv.ID, got.Claims[0].ClaimID, ClaimUpdate{Status: ClaimRejected})
	require.NoError(t, err)

	created, err := svc.ConfirmConstraints(ctx, cv.ID)
	require.NoError(t, err)
	assert.Empty(t, created)

	final, _ := svc.Get(ctx, cv.ID)
	assert.Equal(t, graph.StatusLocked, final.Status())
}

func TestReconfirmInChildSupersedesParent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	parent, _ := svc.CreateContextVersion(ctx, "")
	_, err := svc.AddSource(ctx, parent.ID, memo("Soil type: clay"))
	require.NoError(t, err)
	_, err = svc.ExtractContext(ctx, parent.ID)
	require.NoError(t, err)
	p, _ := svc.Get(ctx, parent.ID)
	_, err = svc.UpdateClaim(ctx, parent.ID, p.Claims[0].ClaimID, ClaimUpdate{Status: ClaimAccepted})
	require.NoError(t, err)
	parentCons, err := svc.ConfirmConstraints(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, parentCons, 1)

	child, err := svc.CreateContextVersion(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentID)
	require.Len(t, child.ActiveConstraints(), 1)

	_, err = svc.AddSource(ctx, child.ID, memo("Soil type: loam"))
	require.NoError(t, err)
	_, err = svc.ExtractContext(ctx, child.ID)
	require.NoError(t, err)
	c, _ := svc.Get(ctx, child.ID)
	_, err = svc.UpdateClaim(ctx, child.ID, c.Claims[0].ClaimID, ClaimUpdate{Status: ClaimCorrected, CorrectedValue: pointer.String("loam")})
	require.NoError(t, err)
	_, err = svc.ConfirmConstraints(ctx, child.ID)
	require.NoError(t, err)

	final, _ := svc.Get(ctx, child.ID)
	require.Len(t, final.Constraints, 2, "superseded constraints are kept")
	assert.Equal(t, ConstraintSuperseded, final.Constraints[0].Status)
	assert.Equal(t, parentCons[0].ConstraintID, final.Constraints[0].ConstraintID)

	active, err := svc.Constraints(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "loam", active[0].Value.Text())
	assert.InDelta(t, 0.95, active[0].Confidence, 1e-9)

	old, ok := final.Graph.Snapshot().FindNode(graph.NodeID(graph.NodeConstraint, parentCons[0].ConstraintID))
	require.True(t, ok)
	assert.Equal(t, "superseded", old.Payload.Field("status").Text())

	// The parent version is untouched.
	pAfter, _ := svc.Constraints(ctx, parent.ID)
	require.Len(t, pAfter, 1)
	assert.Equal(t, "clay", pAfter[0].Value.Text())
}

// #endregion confirm

// #region concurrency
func TestConcurrentTransitionsAreSerialized(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	cv, _ := svc.CreateContextVersion(ctx, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.AddSource(ctx, cv.ID, memo("Soil type: gravel"))
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, cv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Sources, 8)
}

// #endregion concurrency
