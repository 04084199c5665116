package logging

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// #endregion helpers

// #region audit-tests
func TestAuditLogInsertAndList(t *testing.T) {
	ctx := context.Background()
	log, err := NewAuditLog(setupDB(t))
	require.NoError(t, err)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, log.Audit(ctx, AuditEntry{
		Subject: "ctx-1", Scope: ScopePCIV, Action: "extract", Refs: JoinRefs("source:a", "source:b"), CreatedAt: at,
	}))
	require.NoError(t, log.Audit(ctx, AuditEntry{Subject: "ctx-1", Scope: ScopePCIV, Action: "confirm"}))
	require.NoError(t, log.Audit(ctx, AuditEntry{Subject: "run-9", Scope: ScopeEngine, Action: "step", Outcome: OutcomeBlocked}))

	entries, err := log.List(ctx, "ctx-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "extract", entries[0].Action)
	assert.Equal(t, "source:a,source:b", entries[0].Refs)
	assert.Equal(t, OutcomeOK, entries[0].Outcome, "empty outcome defaults to ok")
	assert.True(t, entries[0].CreatedAt.Equal(at))
	assert.Empty(t, entries[1].Detail)
	assert.False(t, entries[1].CreatedAt.IsZero())
}

func TestMemoryAudit(t *testing.T) {
	m := &MemoryAudit{}
	ctx := context.Background()
	require.NoError(t, m.Audit(ctx, AuditEntry{Subject: "a", Action: "one"}))
	require.NoError(t, m.Audit(ctx, AuditEntry{Subject: "b", Action: "two"}))
	require.NoError(t, m.Audit(ctx, AuditEntry{Subject: "a", Action: "three"}))

	assert.Equal(t, []string{"one", "three"}, m.Actions("a"))
	assert.Len(t, m.Entries(), 3)
}

// #endregion audit-tests

// #region logger-tests
func TestNewJSONLoggerCarriesService(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", JSON: true, Service: "planner", Output: &buf})
	l.Debug("hello", "k", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "planner", rec["service"])
	assert.Equal(t, "hello", rec["msg"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})
	l.Info("dropped")
	assert.Zero(t, buf.Len())
	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")

	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
	assert.NotNil(t, OrDefault(nil))
}

// #endregion logger-tests
