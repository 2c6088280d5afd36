package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/flagcore/flagcore/internal/auth"
	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/coordinator"
	"github.com/flagcore/flagcore/internal/evaluation"
	"github.com/flagcore/flagcore/internal/flag"
	"github.com/flagcore/flagcore/internal/store"
	"github.com/flagcore/flagcore/internal/telemetry"
)

// Server is the HTTP surface over the flag core: reads and evaluations hit
// the in-memory cache, writes go through the coordinator, and the stream
// endpoint exposes the change feed. It holds no flag state of its own.
type Server struct {
	coord       *coordinator.Coordinator
	evaluator   *evaluation.Evaluator
	cache       *store.Cache
	feed        *changelog.Log
	adminAPIKey string
	rateLimit   int
	logger      zerolog.Logger
}

// NewServer wires the transport to the core components.
func NewServer(coord *coordinator.Coordinator, evaluator *evaluation.Evaluator, cache *store.Cache, feed *changelog.Log, adminKey string, rateLimitPerIP int, logger zerolog.Logger) *Server {
	return &Server{
		coord:       coord,
		evaluator:   evaluator,
		cache:       cache,
		feed:        feed,
		adminAPIKey: adminKey,
		rateLimit:   rateLimitPerIP,
		logger:      logger,
	}
}

// Router builds the chi router. The stream route sits outside the request
// timeout since it is long-lived.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	if s.rateLimit > 0 {
		r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))

		// public: reads and evaluation
		r.Get("/v1/flags", s.handleListFlags)
		r.Get("/v1/flags/{name}", s.handleGetFlag)
		r.Post("/v1/evaluate", s.handleEvaluate)

		// admin (protected): writes
		r.Post("/v1/flags", s.authAdmin(s.handleCreateFlag))
		r.Patch("/v1/flags/{name}", s.authAdmin(s.handleUpdateFlag))
		r.Delete("/v1/flags/{name}", s.authAdmin(s.handleDeleteFlag))
	})

	r.Get("/v1/flags/stream", s.handleStream)

	return r
}

// ---- DTOs ----

type createRequest struct {
	Name    string `json:"name"`
	Env     string `json:"env"`
	Enabled *bool  `json:"enabled,omitempty"`
	Rollout *int   `json:"rollout,omitempty"`
}

type updateRequest struct {
	Enabled *bool `json:"enabled,omitempty"`
	Rollout *int  `json:"rollout,omitempty"`
}

type evaluateRequest struct {
	Name         string `json:"name"`
	Env          string `json:"env"`
	BucketingKey string `json:"bucketingKey"`
}

type listResponse struct {
	Flags []flag.Record `json:"flags"`
	Total int           `json:"total"`
}

// ---- handlers ----

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	env := r.URL.Query().Get("env")

	records := s.cache.Snapshot()
	if env != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Key.Env == env {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []flag.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{Flags: records, Total: len(records)})
}

func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	key, err := flag.NewKey(chi.URLParam(r, "name"), r.URL.Query().Get("env"))
	if err != nil {
		BadRequestError(w, r, validationCode(err), err.Error())
		return
	}

	rec, ok := s.cache.Get(key)
	if !ok {
		NotFoundError(w, r, "flag "+key.String()+" not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return
	}
	key, err := flag.NewKey(req.Name, req.Env)
	if err != nil {
		BadRequestError(w, r, validationCode(err), err.Error())
		return
	}

	none := int64(0) // create: the flag must not exist yet
	rec, err := s.coord.Apply(r.Context(), flag.Intent{
		Key:     key,
		Enabled: req.Enabled,
		Rollout: req.Rollout,
	}, &none)
	if err != nil {
		s.writeApplyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return
	}
	key, err := flag.NewKey(chi.URLParam(r, "name"), r.URL.Query().Get("env"))
	if err != nil {
		BadRequestError(w, r, validationCode(err), err.Error())
		return
	}
	expected, err := expectedVersion(r)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, "If-Match must be a version number")
		return
	}

	// Updating a flag that does not exist is a caller error, not an
	// implicit create, even on the forced (no If-Match) path.
	if _, ok := s.cache.Get(key); !ok && expected == nil {
		NotFoundError(w, r, "flag "+key.String()+" not found")
		return
	}

	rec, err := s.coord.Apply(r.Context(), flag.Intent{
		Key:     key,
		Enabled: req.Enabled,
		Rollout: req.Rollout,
	}, expected)
	if err != nil {
		s.writeApplyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	key, err := flag.NewKey(chi.URLParam(r, "name"), r.URL.Query().Get("env"))
	if err != nil {
		BadRequestError(w, r, validationCode(err), err.Error())
		return
	}
	expected, err := expectedVersion(r)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, "If-Match must be a version number")
		return
	}

	if _, err := s.coord.Apply(r.Context(), flag.Intent{Key: key, Delete: true}, expected); err != nil {
		s.writeApplyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return
	}

	decision := s.evaluator.Evaluate(req.Name, req.Env, evaluation.Context{BucketingKey: req.BucketingKey})
	telemetry.EvalTotal.WithLabelValues(string(decision.Reason)).Inc()
	writeJSON(w, http.StatusOK, decision)
}

// ---- middleware & helpers ----

func (s *Server) authAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if got == "" {
			UnauthorizedError(w, r, "missing bearer token")
			return
		}
		if !auth.VerifyAPIKeyConstantTime(got, s.adminAPIKey) {
			ForbiddenError(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// expectedVersion parses the If-Match header into the coordinator's
// optimistic-concurrency handle. Absent header means force.
func expectedVersion(r *http.Request) (*int64, error) {
	inm := r.Header.Get("If-Match")
	if inm == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(inm, 10, 64)
	if err != nil || v < 0 {
		return nil, errors.New("invalid If-Match version")
	}
	return &v, nil
}

func (s *Server) writeApplyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, coordinator.ErrConflict):
		ConflictError(w, r, "flag version conflict, re-read and retry")
	case errors.Is(err, store.ErrNotFound):
		NotFoundError(w, r, "flag not found")
	case errors.Is(err, coordinator.ErrUnavailable):
		s.logger.Error().Err(err).Msg("durable store unavailable")
		UnavailableError(w, r, "storage unavailable, try again later")
	case errors.Is(err, flag.ErrInvalidRollout),
		errors.Is(err, flag.ErrEmptyName),
		errors.Is(err, flag.ErrInvalidEnvironment):
		BadRequestError(w, r, validationCode(err), err.Error())
	default:
		s.logger.Error().Err(err).Msg("apply failed")
		InternalError(w, r, "apply failed")
	}
}

func validationCode(err error) ErrorCode {
	switch {
	case errors.Is(err, flag.ErrInvalidRollout):
		return ErrCodeInvalidRollout
	case errors.Is(err, flag.ErrInvalidEnvironment):
		return ErrCodeInvalidEnv
	default:
		return ErrCodeValidation
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
