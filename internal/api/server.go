// Package api serves the planning core over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/ingest"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/readiness"
	"github.com/weflora/planning-core/internal/store"
)

const maxBodyBytes = 10 << 20

// Resolver is the readiness surface the API needs.
type Resolver interface {
	Resolve(ctx context.Context, req readiness.Request) (readiness.Result, error)
}

// RunHistory lists persisted runs and their status changes.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	History(ctx context.Context, runID string) ([]store.StatusChange, error)
}

// #region server
type Server struct {
	pciv     *pciv.Service
	engine   *engine.Engine
	resolver Resolver
	skills   map[string]readiness.Skill
	scope    string
	history  RunHistory
	chunks   ingest.ChunkConfig
	logger   *slog.Logger
	validate *validator.Validate
}

type Option func(*Server)

// WithReadiness enables POST /readiness for skills, resolved under scope by
// default.
func WithReadiness(r Resolver, scope string, skills ...readiness.Skill) Option {
	return func(s *Server) {
		s.resolver = r
		s.scope = scope
		for _, sk := range skills {
			s.skills[sk.ID] = sk
		}
	}
}

func WithRunHistory(h RunHistory) Option       { return func(s *Server) { s.history = h } }
func WithChunking(c ingest.ChunkConfig) Option { return func(s *Server) { s.chunks = c } }
func WithLogger(l *slog.Logger) Option         { return func(s *Server) { s.logger = l } }

func New(svc *pciv.Service, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		pciv:     svc,
		engine:   eng,
		skills:   make(map[string]readiness.Skill),
		chunks:   ingest.UploadChunks,
		logger:   slog.Default(),
		validate: validator.New(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrDefault(s.logger)
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/contexts", func(api chi.Router) {
		api.Post("/", s.createContext)
		api.Get("/{contextID}", s.getContext)
		api.Post("/{contextID}/sources", s.addSource)
		api.Post("/{contextID}/files", s.uploadFile)
		api.Post("/{contextID}/extract", s.extract)
		api.Patch("/{contextID}/claims/{claimID}", s.updateClaim)
		api.Post("/{contextID}/confirm", s.confirm)
		api.Get("/{contextID}/constraints", s.constraints)
		api.Get("/{contextID}/graph", s.graph)
		api.Get("/{contextID}/graph/trace/{nodeID}", s.trace)
	})

	r.Route("/runs", func(api chi.Router) {
		api.Post("/", s.startRun)
		api.Get("/", s.listRuns)
		api.Get("/{runID}", s.getRun)
		api.Get("/{runID}/history", s.runHistory)
		api.Post("/{runID}/resume", s.resume)
		api.Post("/{runID}/steps/{stepID}/run", s.runStep)
		api.Post("/{runID}/steps/{stepID}/skip", s.skipStep)
		api.Post("/{runID}/cards/{cardID}", s.submitCard)
		api.Post("/{runID}/cards/{cardID}/defaults", s.applyDefaults)
		api.Post("/{runID}/columns", s.addColumn)
		api.Patch("/{runID}/columns/{columnID}", s.setColumnFlags)
	})

	r.Get("/skills", s.listSkills)
	r.Post("/readiness", s.resolveReadiness)
	return r
}

// #endregion server

// #region helpers
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	RequestID string `json:"request_id"`
	Error     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.RequestID = "req_" + uuid.NewString()
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// fail maps the error taxonomy onto HTTP statuses. Agent failures come
// first since they may wrap a validation error from the agent's output.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case apperr.IsAgentExecution(err):
		writeError(w, http.StatusBadGateway, "AGENT_EXECUTION", err.Error())
	case apperr.IsNotFound(err):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case apperr.IsInvalidTransition(err):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case apperr.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

// decode reads a JSON body into dst and runs struct validation. It writes
// the error response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION", verrs.Error())
			return false
		}
	}
	return true
}

// #endregion helpers
