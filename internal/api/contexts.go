package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/ingest"
	"github.com/weflora/planning-core/internal/pciv"
)

// #region views
// contextView is a context version with its graph status and snapshot.
type contextView struct {
	*pciv.ContextVersion
	Status graph.Status   `json:"status"`
	Graph  graph.Snapshot `json:"graph"`
}

func viewOf(cv *pciv.ContextVersion) contextView {
	v := contextView{ContextVersion: cv, Status: cv.Status()}
	if cv.Graph != nil {
		v.Graph = cv.Graph.Snapshot()
	}
	return v
}

// #endregion views

// #region context-handlers
func (s *Server) createContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parentId"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	cv, err := s.pciv.CreateContextVersion(r.Context(), req.ParentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(cv))
}

func (s *Server) getContext(w http.ResponseWriter, r *http.Request) {
	cv, err := s.pciv.Get(r.Context(), chi.URLParam(r, "contextID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(cv))
}

func (s *Server) addSource(w http.ResponseWriter, r *http.Request) {
	var src pciv.Source
	if !s.decode(w, r, &src) {
		return
	}
	out, err := s.pciv.AddSource(r.Context(), chi.URLParam(r, "contextID"), src)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// uploadFile takes the raw file as the body and the file name in ?name=.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "query parameter name is required")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}
	srcs, err := ingest.FromBytes(name, data, s.chunks)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	added := make([]pciv.Source, 0, len(srcs))
	for _, src := range srcs {
		out, err := s.pciv.AddSource(r.Context(), chi.URLParam(r, "contextID"), src)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		added = append(added, out)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sources": added})
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	ext, err := s.pciv.ExtractContext(r.Context(), chi.URLParam(r, "contextID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ext)
}

func (s *Server) updateClaim(w http.ResponseWriter, r *http.Request) {
	var upd pciv.ClaimUpdate
	if !s.decode(w, r, &upd) {
		return
	}
	claim, err := s.pciv.UpdateClaim(r.Context(), chi.URLParam(r, "contextID"), chi.URLParam(r, "claimID"), upd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	created, err := s.pciv.ConfirmConstraints(r.Context(), chi.URLParam(r, "contextID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"constraints": created})
}

func (s *Server) constraints(w http.ResponseWriter, r *http.Request) {
	cs, err := s.pciv.Constraints(r.Context(), chi.URLParam(r, "contextID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"constraints": cs})
}

func (s *Server) graph(w http.ResponseWriter, r *http.Request) {
	cv, err := s.pciv.Get(r.Context(), chi.URLParam(r, "contextID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(cv).Graph)
}

// trace walks provenance from a node; ?depth= bounds the walk.
func (s *Server) trace(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if d := r.URL.Query().Get("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "depth must be a non-negative integer")
			return
		}
		depth = n
	}
	cv, err := s.pciv.Get(r.Context(), chi.URLParam(r, "contextID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snap := viewOf(cv).Graph
	nodeID := chi.URLParam(r, "nodeID")
	if _, ok := snap.FindNode(nodeID); !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "node "+nodeID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, snap.Trace(nodeID, depth))
}

// #endregion context-handlers
