// Package chi exposes the retrieval and ingestion services over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/domain"
	"github.com/reuseware/patterndex/internal/domain/query"
	"github.com/reuseware/patterndex/internal/domain/ranking"
	healthuc "github.com/reuseware/patterndex/internal/usecase/health"
	ingestionuc "github.com/reuseware/patterndex/internal/usecase/ingestion"
	retrievaluc "github.com/reuseware/patterndex/internal/usecase/retrieval"
)

// Error codes returned in the JSON error body.
const (
	codeBadRequest           = "bad_request"
	codeInvalidQuery         = "invalid_query"
	codeValidationFailed     = "validation_failed"
	codeStorageRejected      = "storage_rejected"
	codePatternNotFound      = "pattern_not_found"
	codeRetrievalUnavailable = "retrieval_unavailable"
	codeEmbeddingProvider    = "embedding_provider_error"
	codeInternalError        = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server routes HTTP requests to the retrieval and ingestion services.
type Server struct {
	retrieval     *retrievaluc.Engine
	ingestion     *ingestionuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	retrieval *retrievaluc.Engine,
	ingestion *ingestionuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		retrieval: retrieval,
		ingestion: ingestion,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, codeInvalidQuery),
		sentinelHandler(domain.ErrStorageRejected, http.StatusUnprocessableEntity, codeStorageRejected),
		sentinelHandler(domain.ErrPatternNotFound, http.StatusNotFound, codePatternNotFound),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrRetrievalUnavailable, http.StatusServiceUnavailable, codeRetrievalUnavailable),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider),
	}
	return s
}

// Register mounts all routes onto the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/v1/retrieve", s.RetrievePatterns)
	r.Post("/v1/patterns", s.IngestPattern)
	r.Delete("/v1/patterns/{id}", s.DeletePattern)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// RetrieveRequest is the POST /v1/retrieve body.
type RetrieveRequest struct {
	Purpose        string `json:"purpose"`
	Domain         string `json:"domain,omitempty"`
	Intent         string `json:"intent,omitempty"`
	TopK           int    `json:"top_k,omitempty"`
	ProductionOnly bool   `json:"production_only,omitempty"`
	MinResults     int    `json:"min_results,omitempty"`
}

// ScoreBreakdown mirrors the per-result score components.
type ScoreBreakdown struct {
	VectorSimilarity float64 `json:"vector_similarity"`
	MetadataScore    float64 `json:"metadata_score"`
	FeedbackScore    float64 `json:"feedback_score"`
}

// RetrievedPattern is one ranked result item.
type RetrievedPattern struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	Rank            int            `json:"rank"`
	FinalScore      float64        `json:"final_score"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	Domain          string         `json:"domain,omitempty"`
	Intent          string         `json:"intent,omitempty"`
	SuccessRate     float64        `json:"success_rate"`
	UsageCount      int64          `json:"usage_count"`
	ProductionReady bool           `json:"production_ready"`
}

// RetrieveResponse is the POST /v1/retrieve reply.
type RetrieveResponse struct {
	Items []RetrievedPattern `json:"items"`
	Total int                `json:"total"`
}

const defaultTopK = 5

// RetrievePatterns handles POST /v1/retrieve.
func (s *Server) RetrievePatterns(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.TopK == 0 {
		req.TopK = defaultTopK
	}

	q, err := query.New(req.Purpose, req.Domain, req.Intent, req.TopK, req.ProductionOnly)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	var results []ranking.RankedResult
	if req.MinResults > 0 {
		results, err = s.retrieval.RetrieveWithFallback(r.Context(), q, req.MinResults)
	} else {
		results, err = s.retrieval.Retrieve(r.Context(), q)
	}
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]RetrievedPattern, len(results))
	for i := range results {
		items[i] = resultToItem(&results[i])
	}

	writeJSON(w, http.StatusOK, RetrieveResponse{Items: items, Total: len(items)})
}

// IngestRequest is the POST /v1/patterns body.
type IngestRequest struct {
	ID              string  `json:"id,omitempty"`
	Content         string  `json:"content"`
	Domain          string  `json:"domain,omitempty"`
	Intent          string  `json:"intent,omitempty"`
	SuccessRate     float64 `json:"success_rate"`
	ProductionReady bool    `json:"production_ready,omitempty"`
	SecurityLevel   string  `json:"security_level,omitempty"`
	PerformanceTier string  `json:"performance_tier,omitempty"`
}

// IngestResponse is the POST /v1/patterns reply.
type IngestResponse struct {
	ID string `json:"id"`
}

// IngestPattern handles POST /v1/patterns.
func (s *Server) IngestPattern(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Content == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Pattern content is required")
		return
	}

	id, err := s.ingestion.Ingest(r.Context(), ingestionuc.Request{
		ID:              req.ID,
		Content:         req.Content,
		Domain:          req.Domain,
		Intent:          req.Intent,
		SuccessRate:     req.SuccessRate,
		ProductionReady: req.ProductionReady,
		SecurityLevel:   req.SecurityLevel,
		PerformanceTier: req.PerformanceTier,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.Header().Set("Location", "/v1/patterns/"+id)
	writeJSON(w, http.StatusCreated, IngestResponse{ID: id})
}

// DeletePattern handles DELETE /v1/patterns/{id}.
func (s *Server) DeletePattern(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ingestion.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthResponse is the GET /health reply.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func resultToItem(res *ranking.RankedResult) RetrievedPattern {
	p := res.Pattern()
	b := res.Breakdown()
	return RetrievedPattern{
		ID:         res.ID(),
		Content:    p.Content(),
		Rank:       res.Rank(),
		FinalScore: res.FinalScore(),
		Breakdown: ScoreBreakdown{
			VectorSimilarity: b.VectorSimilarity,
			MetadataScore:    b.MetadataScore,
			FeedbackScore:    b.FeedbackScore,
		},
		Domain:          p.Domain(),
		Intent:          p.Intent(),
		SuccessRate:     p.SuccessRate(),
		UsageCount:      p.UsageCount(),
		ProductionReady: p.ProductionReady(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidQuery,
		domain.ErrStorageRejected,
		domain.ErrPatternNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrRetrievalUnavailable,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
