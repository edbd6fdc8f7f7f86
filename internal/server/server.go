// Package server exposes the read-only ops surface: health, Prometheus
// metrics, the runtime policy decision and the latest governance summary.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/edgerun/internal/config"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/governance"
	"github.com/sawpanic/edgerun/internal/ledger"
	"github.com/sawpanic/edgerun/internal/metrics"
	"github.com/sawpanic/edgerun/internal/policy"
)

// GovernanceLedger looks up the newest recorded governance run
type GovernanceLedger interface {
	LatestGovernance(ctx context.Context) (*ledger.GovernanceRun, error)
}

// Sources are the read-only inputs the endpoints serve from
type Sources struct {
	Store             policy.Store
	ProvisionalSource string
	GovernanceDir     string
	Runtime           policy.RuntimeConfig
	Ledger            GovernanceLedger
	Metrics           *metrics.Registry
	Now               func() time.Time
}

// Server is the ops HTTP server
type Server struct {
	router  *mux.Router
	server  *http.Server
	src     Sources
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// New builds the server and its routes
func New(cfg config.ServerConfig, src Sources) *Server {
	if src.Now == nil {
		src.Now = time.Now
	}
	if src.Metrics == nil {
		src.Metrics = metrics.New()
	}

	s := &Server{
		router:  mux.NewRouter(),
		src:     src,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "governance_ledger",
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= cfg.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			},
		}),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	s.router.Handle("/metrics", s.src.Metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/healthz", s.health).Methods("GET")
	s.router.HandleFunc("/policy/runtime", s.runtimePolicy).Methods("GET")
	s.router.HandleFunc("/governance/latest", s.latestGovernance).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting ops server (read-only)")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down ops server")
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   s.src.Now().UTC(),
	})
}

// runtimePolicy evaluates the stored provisional policy against the newest
// governance report on every request.
func (s *Server) runtimePolicy(w http.ResponseWriter, r *http.Request) {
	prov, err := s.src.Store.LoadProvisional(r.Context())
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no provisional policy published")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	gov, govPath, err := governance.LoadLatest(s.src.GovernanceDir)
	if err != nil {
		if errs.ExitCode(err) == errs.ExitInsufficientData {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state := policy.Evaluate(prov, gov, s.src.Now(), s.src.Runtime)
	state.Source = policy.Source{ProvisionalState: s.src.ProvisionalSource, GovernanceReport: govPath}
	s.src.Metrics.RecordRuntime(string(state.Action))
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) latestGovernance(w http.ResponseWriter, r *http.Request) {
	if s.src.Ledger == nil {
		s.latestGovernanceFile(w)
		return
	}

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.src.Ledger.LatestGovernance(r.Context())
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			writeError(w, http.StatusServiceUnavailable, "governance ledger unavailable")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	run, _ := res.(*ledger.GovernanceRun)
	if run == nil {
		writeError(w, http.StatusNotFound, "no governance run recorded")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// latestGovernanceFile serves the newest report on disk when no ledger is configured
func (s *Server) latestGovernanceFile(w http.ResponseWriter) {
	report, _, err := governance.LoadLatest(s.src.GovernanceDir)
	if err != nil {
		if errs.ExitCode(err) == errs.ExitInsufficientData {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID)))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.src.Metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(wrapper.statusCode)).Inc()

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
