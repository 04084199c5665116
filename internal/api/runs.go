package api

import (
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/matrix"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/readiness"
)

// #region run-handlers
// startRun starts a run from initial patches, seeded from the active
// constraints of contextId when given.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContextID string          `json:"contextId"`
		Patches   []pointer.Patch `json:"patches"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	var st engine.ExecutionState
	var err error
	if req.ContextID != "" {
		cs, cerr := s.pciv.Constraints(r.Context(), req.ContextID)
		if cerr != nil {
			s.fail(w, r, cerr)
			return
		}
		st, err = s.engine.StartFromConstraints(r.Context(), cs, req.Patches)
	} else {
		st, err = s.engine.Start(r.Context(), req.Patches)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": s.engine.Runs()})
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.State(r.Context(), chi.URLParam(r, "runID"))
	s.respond(w, r, st, err)
}

func (s *Server) runHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "run history is not persisted")
		return
	}
	runID := chi.URLParam(r, "runID")
	if _, err := s.engine.State(r.Context(), runID); err != nil {
		s.fail(w, r, err)
		return
	}
	changes, err := s.history.History(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": changes})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Resume(r.Context(), chi.URLParam(r, "runID"))
	s.respond(w, r, st, err)
}

func (s *Server) runStep(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.RunStep(r.Context(), chi.URLParam(r, "runID"), chi.URLParam(r, "stepID"))
	s.respond(w, r, st, err)
}

func (s *Server) skipStep(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.SkipStep(r.Context(), chi.URLParam(r, "runID"), chi.URLParam(r, "stepID"))
	s.respond(w, r, st, err)
}

func (s *Server) submitCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Patches []pointer.Patch `json:"patches"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	st, err := s.engine.SubmitActionCard(r.Context(), chi.URLParam(r, "runID"), chi.URLParam(r, "cardID"), req.Patches)
	s.respond(w, r, st, err)
}

func (s *Server) applyDefaults(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.ApplyDefaults(r.Context(), chi.URLParam(r, "runID"), chi.URLParam(r, "cardID"))
	s.respond(w, r, st, err)
}

func (s *Server) addColumn(w http.ResponseWriter, r *http.Request) {
	var col matrix.Column
	if !s.decode(w, r, &col) {
		return
	}
	st, err := s.engine.AddColumn(r.Context(), chi.URLParam(r, "runID"), col)
	s.respond(w, r, st, err)
}

func (s *Server) setColumnFlags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pinned  *bool `json:"pinned"`
		Visible *bool `json:"visible"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	st, err := s.engine.SetColumnFlags(r.Context(), chi.URLParam(r, "runID"), chi.URLParam(r, "columnID"), req.Pinned, req.Visible)
	s.respond(w, r, st, err)
}

// respond writes the run, or maps err.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, st engine.ExecutionState, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// #endregion run-handlers

// #region readiness-handlers
func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	skills := make([]readiness.Skill, 0, len(s.skills))
	for _, id := range slices.Sorted(maps.Keys(s.skills)) {
		skills = append(skills, s.skills[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

func (s *Server) resolveReadiness(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "readiness is not configured")
		return
	}
	var req struct {
		SkillID string                   `json:"skillId" validate:"required"`
		Scope   string                   `json:"scope"`
		Tags    []string                 `json:"tags"`
		Manual  map[string]pointer.Value `json:"manual"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	skill, ok := s.skills[req.SkillID]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "skill "+req.SkillID+" not found")
		return
	}
	scope := req.Scope
	if scope == "" {
		scope = s.scope
	}
	res, err := s.resolver.Resolve(r.Context(), readiness.Request{Skill: skill, Scope: scope, Tags: req.Tags, Manual: req.Manual})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// #endregion readiness-handlers
