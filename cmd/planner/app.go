package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/weflora/planning-core/internal/config"
	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/engine/agents"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/readiness"
	"github.com/weflora/planning-core/internal/registry"
	"github.com/weflora/planning-core/internal/store"
)

// #region app
// app is the wired planner: one store backing both the evidence pipeline
// and the decision engine.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.Store
	pciv      *pciv.Service
	agents    *engine.AgentRegistry
	readiness *readiness.Cache
	engine    *engine.Engine
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if dbOverride != "" {
		cfg.DB = dbOverride
	}
	return cfg, nil
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging())

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.DB, err)
	}

	idx, err := vaultIndex(cfg.VaultFile)
	if err != nil {
		st.Close()
		return nil, err
	}
	cache := readiness.NewCache(readiness.NewResolver(idx, cfg.Readiness, readiness.WithLogger(logger)))

	agentReg, err := agents.NewRegistry(agents.DefaultCatalog(), logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	eng, err := engine.New(agentReg,
		engine.WithRunStore(st),
		engine.WithReadiness(cache, cfg.Scope),
		engine.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, err
	}

	svc := pciv.NewService(st, registry.Default(),
		pciv.WithLogger(logger),
		pciv.WithAuditor(st.Audit()),
		pciv.WithExtractorConfig(cfg.Extractor))

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		pciv:      svc,
		agents:    agentReg,
		readiness: cache,
		engine:    eng,
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

// vaultIndex loads the vault export at path, or an empty index when no
// vault is configured.
func vaultIndex(path string) (*readiness.MemoryIndex, error) {
	if path == "" {
		return readiness.NewMemoryIndex(), nil
	}
	return readiness.LoadFile(path)
}

// #endregion app

// #region output
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion output
