// Package server exposes the reasoning pipeline and the vault over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/ledger"
	"github.com/dyluth/sevai/internal/logging"
	"github.com/dyluth/sevai/internal/pipeline"
	"github.com/dyluth/sevai/internal/producer"
	"github.com/dyluth/sevai/internal/timespec"
	"github.com/dyluth/sevai/pkg/vault"
)

// MaxCaseBytes bounds the body of an analyze request.
const MaxCaseBytes = 1 << 20

// Server serves the HTTP API.
type Server struct {
	coord  *pipeline.Coordinator
	vault  *vault.Vault
	logger *zap.Logger
	server *http.Server
}

// New creates a server listening on addr once ListenAndServe is called.
func New(coord *pipeline.Coordinator, addr string, logger *zap.Logger) *Server {
	s := &Server{
		coord:  coord,
		vault:  coord.Vault(),
		logger: logging.OrNop(logger).Named("server"),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Analysis makes several producer calls
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /v1/trails/{id}", s.handleTrail)
	mux.HandleFunc("GET /v1/records/{kind}", s.handleRecords)
	mux.HandleFunc("GET /v1/verify", s.handleVerify)
	return mux
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Vault  string `json:"vault"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// handleHealth returns 200 when the vault backend answers, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.vault.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Vault: "disconnected", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Vault: "connected"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var c pipeline.Case
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxCaseBytes))
	if err := dec.Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid case JSON: "+err.Error())
		return
	}

	res, err := s.coord.Run(r.Context(), c)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, pipeline.ErrEmptyCase):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case producer.IsProducerError(err):
		writeError(w, http.StatusBadGateway, "producer", err.Error())
	case vault.IsStorage(err):
		writeError(w, http.StatusServiceUnavailable, "storage", err.Error())
	default:
		s.logger.Error("Analyze failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "execution id must be a positive integer")
		return
	}

	t, err := s.vault.GetReasoningTrail(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, t)
	case vault.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "storage", err.Error())
	}
}

// handleRecords lists one record kind. Query parameters mirror the ledger
// list filters: since, until, agent, execution and limit.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	kind, err := vault.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	q := r.URL.Query()
	since, until, err := timespec.ParseRange(q.Get("since"), q.Get("until"), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	c := ledger.Criteria{Since: since, Until: until, AgentGlob: q.Get("agent")}
	if v := q.Get("execution"); v != "" {
		if c.ExecutionID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "execution must be an integer")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if c.Limit, err = strconv.Atoi(v); err != nil || c.Limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
	}

	entries, err := ledger.Query(r.Context(), s.vault, kind, c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage", err.Error())
		return
	}
	if entries == nil {
		entries = []vault.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// VerifyResponse is the JSON body of /v1/verify.
type VerifyResponse struct {
	Valid   bool                  `json:"valid"`
	Reports []*vault.VerifyReport `json:"reports"`
}

// handleVerify checks every chain, or only ?kind=. A tampered vault is
// still a 200; callers read valid.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var (
		reports []*vault.VerifyReport
		err     error
	)
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, perr := vault.ParseKind(k)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", perr.Error())
			return
		}
		var rep *vault.VerifyReport
		if rep, err = s.vault.Verify(r.Context(), kind); err == nil {
			reports = []*vault.VerifyReport{rep}
		}
	} else {
		reports, err = s.vault.VerifyAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage", err.Error())
		return
	}

	resp := VerifyResponse{Valid: true, Reports: reports}
	for _, rep := range reports {
		if !rep.Valid {
			resp.Valid = false
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}
