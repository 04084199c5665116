package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pciv"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "planner.db", cfg.DB)
	assert.Equal(t, pciv.StrengthSupporting, cfg.Extractor.KeywordStrength)
	assert.Equal(t, 0.6, cfg.Readiness.Threshold)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
db: /var/lib/planner.db
http_addr: ":9000"
log:
  level: debug
  json: true
extractor:
  keyword_strength: weak
readiness:
  threshold: 0.7
  half_life: 720h
`)
	t.Setenv("PLANNER_HTTP_ADDR", ":7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/planner.db", cfg.DB)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, pciv.StrengthWeak, cfg.Extractor.KeywordStrength)
	assert.Equal(t, 0.7, cfg.Readiness.Threshold)
	assert.Equal(t, 720*time.Hour, cfg.Readiness.HalfLife)
	assert.Equal(t, 0.3, cfg.Readiness.Weights.Pointer)
	assert.True(t, cfg.Logging().JSON)
	assert.Equal(t, "debug", cfg.Logging().Level)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"strength":  "extractor:\n  keyword_strength: strong\n",
		"threshold": "readiness:\n  threshold: 1.5\n",
		"level":     "log:\n  level: loud\n",
		"weights":   "readiness:\n  weights: {scope: 0, pointer: 0, confidence: 0, recency: 0, overlap: 0}\n",
		"half life": "readiness:\n  half_life: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
