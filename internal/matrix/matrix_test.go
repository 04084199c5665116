package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pointer"
)

func ids(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.ID
	}
	return out
}

func docWith(t *testing.T, kv map[string]pointer.Value) pointer.Value {
	t.Helper()
	doc := pointer.NewDocument()
	for ptr, v := range kv {
		require.NoError(t, pointer.Set(&doc, ptr, v))
	}
	return doc
}

func TestRecomputeOrdersByPriority(t *testing.T) {
	doc := docWith(t, map[string]pointer.Value{
		"/context/site/soil/ph":              pointer.Number(6.5),
		"/context/site/salt_exposure":        pointer.Bool(true),
		"/context/species/max_height":        pointer.Number(12),
		"/context/regulatory/setting":        pointer.String("park"),
		"/context/species/native_preference": pointer.Bool(false),
	})
	cols := RecomputeColumns(BaseColumns(), DefaultRules(), doc, nil)
	assert.Equal(t, []string{
		"species", "common_name", "site_fit", "score",
		"mature_height", "salt_tolerance", "regulatory_fit", "ph_range",
	}, ids(cols))
}

func TestPinnedColumnSurvivesUnrelatedPatch(t *testing.T) {
	doc := docWith(t, map[string]pointer.Value{"/context/site/soil/ph": pointer.Number(6.5)})
	cols := RecomputeColumns(BaseColumns(), DefaultRules(), doc, nil)

	cols, err := SetFlags(cols, "ph_range", Bool(true), nil)
	require.NoError(t, err)
	cols, err = SetFlags(cols, "common_name", nil, Bool(false))
	require.NoError(t, err)

	require.NoError(t, pointer.Set(&doc, "/context/site/light/exposure", pointer.String("full_sun")))
	next := RecomputeColumns(BaseColumns(), DefaultRules(), doc, cols)

	var ph, common Column
	for _, c := range next {
		switch c.ID {
		case "ph_range":
			ph = c
		case "common_name":
			common = c
		}
	}
	assert.True(t, ph.IsPinned())
	assert.False(t, common.IsVisible())
	assert.True(t, BaseColumns()[1].IsVisible(), "flags are copied, not shared")
}

func TestAdhocColumnsAreResidual(t *testing.T) {
	doc := pointer.NewDocument()
	cols := RecomputeColumns(BaseColumns(), DefaultRules(), doc, nil)
	cols, err := AddAdhocColumn(cols, DefaultRules(), Column{ID: "notes", Label: "Notes"})
	require.NoError(t, err)

	_, err = AddAdhocColumn(cols, DefaultRules(), Column{ID: "notes", Label: "Again"})
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, pointer.Set(&doc, "/context/species/max_height", pointer.Number(10)))
	next := RecomputeColumns(BaseColumns(), DefaultRules(), doc, cols)
	assert.Equal(t, []string{"species", "common_name", "site_fit", "score", "mature_height", "notes"}, ids(next))
	assert.Equal(t, KindAdhoc, next[5].Kind)
}

func TestAdhocColumnCannotTakeInactiveRuleID(t *testing.T) {
	doc := pointer.NewDocument()
	cols := RecomputeColumns(BaseColumns(), DefaultRules(), doc, nil)
	require.NotContains(t, ids(cols), "salt_tolerance")

	_, err := AddAdhocColumn(cols, DefaultRules(), Column{ID: "salt_tolerance", Label: "Salt"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "salt-exposure")
}

func TestRuleColumnsDropWhenRuleTurnsFalse(t *testing.T) {
	doc := docWith(t, map[string]pointer.Value{"/context/site/salt_exposure": pointer.Bool(true)})
	cols := RecomputeColumns(BaseColumns(), DefaultRules(), doc, nil)
	assert.Contains(t, ids(cols), "salt_tolerance")

	require.NoError(t, pointer.Set(&doc, "/context/site/salt_exposure", pointer.Bool(false)))
	cols = RecomputeColumns(BaseColumns(), DefaultRules(), doc, cols)
	assert.NotContains(t, ids(cols), "salt_tolerance")
}

func TestRecomputeDeduplicatesFirstWins(t *testing.T) {
	base := []Column{{ID: "a", Label: "base a"}}
	rules := []Rule{
		{ID: "late", Priority: 9, When: func(pointer.Value) bool { return true }, Columns: []Column{{ID: "b", Label: "late b"}}},
		{ID: "early", Priority: 1, When: func(pointer.Value) bool { return true }, Columns: []Column{{ID: "a", Label: "rule a"}, {ID: "b", Label: "early b"}}},
	}
	cols := RecomputeColumns(base, rules, pointer.NewDocument(), []Column{{ID: "b", Label: "prior b"}})
	require.Len(t, cols, 2)
	assert.Equal(t, "base a", cols[0].Label)
	assert.Equal(t, "early b", cols[1].Label)
}

func TestSetFlagsUnknownColumn(t *testing.T) {
	_, err := SetFlags(BaseColumns(), "nope", Bool(true), nil)
	assert.True(t, apperr.IsNotFound(err))
}

func TestBuildRows(t *testing.T) {
	cols := []Column{{ID: "species"}, {ID: "score"}, {ID: "missing"}}
	cands := []pointer.Value{
		pointer.MustFromAny(map[string]any{
			"id": "acer-campestre", "species": "Acer campestre", "score": 0.8,
			"rationale": map[string]any{"score": "tolerates clay"},
			"evidence":  map[string]any{"score": []any{"constraint:abc"}},
		}),
		pointer.String("not a candidate"),
	}
	rows := BuildRows(cands, cols)
	require.Len(t, rows, 1)
	assert.Equal(t, "acer-campestre", rows[0].ID)

	score, ok := rows[0].Cell("score")
	require.True(t, ok)
	n, _ := score.Value.AsNumber()
	assert.Equal(t, 0.8, n)
	assert.Equal(t, "tolerates clay", score.Rationale)
	assert.Equal(t, []string{"constraint:abc"}, score.Evidence)

	missing, _ := rows[0].Cell("missing")
	assert.True(t, missing.Value.IsNull())
}
