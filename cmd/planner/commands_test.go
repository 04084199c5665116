package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/engine/agents"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pointer"
)

func TestParseSets(t *testing.T) {
	patches, err := parseSets([]string{
		agents.PtrSoilType + "=clay",
		agents.PtrMaxHeight + "=12",
		agents.PtrNative + "=true",
	})
	require.NoError(t, err)
	require.Len(t, patches, 3)
	assert.Equal(t, pointer.KindString, patches[0].Value.Kind())
	assert.Equal(t, pointer.KindNumber, patches[1].Value.Kind())
	assert.Equal(t, pointer.KindBool, patches[2].Value.Kind())

	_, err = parseSets([]string{"no-equals"})
	assert.True(t, apperr.IsValidation(err))
}

func TestSettleWithDefaults(t *testing.T) {
	reg, err := agents.NewRegistry(agents.DefaultCatalog(), logging.Discard())
	require.NoError(t, err)
	eng, err := engine.New(reg, engine.WithLogger(logging.Discard()))
	require.NoError(t, err)

	ctx := context.Background()
	st, err := eng.Start(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, engine.RunBlocked, st.Status)

	st, err = settleWithDefaults(ctx, eng, st)
	require.NoError(t, err)
	assert.Equal(t, engine.RunDone, st.Status)
	assert.Empty(t, st.OpenCards())
}
