package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/config"
	"github.com/reuseware/patterndex/internal/db"
	dbRedis "github.com/reuseware/patterndex/internal/db/redis"
	"github.com/reuseware/patterndex/internal/domain"
	logpkg "github.com/reuseware/patterndex/internal/logger"
	"github.com/reuseware/patterndex/internal/metrics"
	historyrepo "github.com/reuseware/patterndex/internal/repository/history"
	indexrepo "github.com/reuseware/patterndex/internal/repository/index"
	patternrepo "github.com/reuseware/patterndex/internal/repository/pattern"
	"github.com/reuseware/patterndex/internal/repository/querycache"
	chiTransport "github.com/reuseware/patterndex/internal/transport/chi"
	openaiTransport "github.com/reuseware/patterndex/internal/transport/openai"
	embeddinguc "github.com/reuseware/patterndex/internal/usecase/embedding"
	healthuc "github.com/reuseware/patterndex/internal/usecase/health"
	ingestionuc "github.com/reuseware/patterndex/internal/usecase/ingestion"
	retrievaluc "github.com/reuseware/patterndex/internal/usecase/retrieval"
	"github.com/reuseware/patterndex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting patterndex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("strategy", cfg.Retrieval.Strategy),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterRetrievalMetrics()

	vectorizer, contentEmbedder, dims := buildVectorizer(cfg, logger)
	logger.Info("Vectorizer created",
		zap.String("model_id", vectorizer.ModelID()),
		zap.Bool("dual", vectorizer.Dual()),
	)

	// Repositories
	idxRepo := indexrepo.New(store, dims).WithHNSW(indexrepo.HNSWConfig{
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	})
	if err := idxRepo.EnsureIndexes(ctx); err != nil {
		logger.Fatal("Failed to create vector indexes", zap.Error(err))
	}
	patRepo := patternrepo.New(store)
	histRepo := historyrepo.New(store)

	// Retrieval pipeline components
	thresholds, err := retrievaluc.NewThresholdResolver(cfg.Retrieval.Thresholds, cfg.Retrieval.DefaultThreshold)
	if err != nil {
		logger.Fatal("Invalid threshold table", zap.Error(err))
	}

	fallback, err := retrievaluc.NewKeywordFallback(
		idxRepo, cfg.Retrieval.FallbackKeywords, cfg.Retrieval.FallbackFloor,
		cfg.Retrieval.PoolMultiplier, logger,
	)
	if err != nil {
		logger.Fatal("Invalid fallback keyword table", zap.Error(err))
	}

	hybrid, err := retrievaluc.NewHybridScorer(retrievaluc.HybridWeights{
		Vector:   cfg.Retrieval.Hybrid.Vector,
		Metadata: cfg.Retrieval.Hybrid.Metadata,
		Domain:   cfg.Retrieval.Hybrid.Domain,
		Intent:   cfg.Retrieval.Hybrid.Intent,
		Success:  cfg.Retrieval.Hybrid.Success,
		Feedback: cfg.Retrieval.Hybrid.Feedback,
	})
	if err != nil {
		logger.Fatal("Invalid hybrid weights", zap.Error(err))
	}

	feedback := retrievaluc.NewFeedbackRanker(histRepo, retrievaluc.FeedbackConfig{
		RecentWindow:      time.Duration(cfg.Retrieval.Feedback.RecentWindowHours) * time.Hour,
		RecentSampleCount: cfg.Retrieval.Feedback.RecentSampleCount,
		DurationBudget:    time.Duration(cfg.Retrieval.Feedback.DurationBudgetMs) * time.Millisecond,
		MemoryBudget:      cfg.Retrieval.Feedback.MemoryBudgetBytes,
		Timeout:           time.Duration(cfg.Retrieval.Feedback.TimeoutMs) * time.Millisecond,
	}, logger)

	var cache retrievaluc.Cache
	if cfg.Cache.Enabled {
		var shared db.KVStore
		if cfg.Cache.SharedTier {
			shared = store
		}
		cache = querycache.New(
			cfg.Cache.EmbeddingEntries, time.Duration(cfg.Cache.EmbeddingTTLSec)*time.Second,
			cfg.Cache.ResultEntries, time.Duration(cfg.Cache.ResultTTLSec)*time.Second,
			shared, time.Duration(cfg.Cache.EmbeddingTTLSec)*time.Second,
			logger,
		)
	}

	reranker := buildReranker(cfg, logger)

	engine, err := retrievaluc.New(
		idxRepo, vectorizer, thresholds, fallback, hybrid, feedback,
		cache, patRepo, reranker,
		retrievaluc.Config{
			Strategy:       retrievaluc.Strategy(cfg.Retrieval.Strategy),
			Lambda:         cfg.Retrieval.MMRLambda,
			PoolMultiplier: cfg.Retrieval.PoolMultiplier,
			EmbedTimeout:   time.Duration(cfg.Retrieval.EmbedTimeoutSec) * time.Second,
			SearchTimeout:  time.Duration(cfg.Retrieval.SearchTimeoutSec) * time.Second,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to create retrieval engine", zap.Error(err))
	}

	ingestion, err := ingestionuc.New(
		idxRepo, vectorizer, cfg.Ingestion.MinSuccessRate,
		time.Duration(cfg.Ingestion.EmbedTimeoutSec)*time.Second, logger,
	)
	if err != nil {
		logger.Fatal("Failed to create ingestion service", zap.Error(err))
	}

	healthSvc := healthuc.New(
		store, newEmbeddingHealthChecker(contentEmbedder),
		cfg.Embedding.Vectorizers["content"].Provider,
	)

	server := chiTransport.NewServer(engine, ingestion, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildVectorizer assembles the embedder chain and the vectorization
// strategy. Dual embeddings are enabled when both the "content" and
// "semantic" vectorizers are configured.
func buildVectorizer(cfg config.Config, logger *zap.Logger) (domain.Vectorizer, domain.Embedder, map[domain.EmbeddingKind]int) {
	contentCfg, hasContent := cfg.Embedding.Vectorizers["content"]
	semanticCfg, hasSemantic := cfg.Embedding.Vectorizers["semantic"]
	if !hasContent {
		logger.Fatal("embedding.vectorizers.content is required")
	}

	contentEmb := buildEmbedder("content", cfg.Embedding.Providers[contentCfg.Provider], contentCfg, logger)

	dims := map[domain.EmbeddingKind]int{
		domain.KindContent: contentCfg.Dimensions,
	}

	if !hasSemantic {
		return embeddinguc.NewSingle(contentEmb, contentCfg.Model), contentEmb, dims
	}

	semanticEmb := buildEmbedder("semantic", cfg.Embedding.Providers[semanticCfg.Provider], semanticCfg, logger)
	dims[domain.KindSemantic] = semanticCfg.Dimensions

	modelID := contentCfg.Model + "+" + semanticCfg.Model
	return embeddinguc.NewDual(contentEmb, semanticEmb, modelID), contentEmb, dims
}

// buildEmbedder assembles the decorator chain: OpenAI -> Instrumented
func buildEmbedder(
	provName string,
	provCfg config.ProviderConfig,
	vecCfg config.VectorizerConfig,
	logger *zap.Logger,
) domain.Embedder {
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     provCfg.APIKey,
		BaseURL:    provCfg.BaseURL,
		Model:      vecCfg.Model,
		Dimensions: vecCfg.Dimensions,
		Provider:   provName,
		Logger:     logger,
	})

	return embeddinguc.NewInstrumentedEmbedder(base, provName, vecCfg.Model, logger)
}

func buildReranker(cfg config.Config, logger *zap.Logger) *retrievaluc.ReRanker {
	var collab retrievaluc.Collaborator
	if cfg.Retrieval.Rerank.Mode == "external" {
		collab = openaiTransport.NewReranker(&openaiTransport.RerankerConfig{
			APIKey:  cfg.Retrieval.Rerank.APIKey,
			BaseURL: cfg.Retrieval.Rerank.BaseURL,
			Model:   cfg.Retrieval.Rerank.Model,
			Logger:  logger,
		})
	}
	return retrievaluc.NewReRanker(
		retrievaluc.RerankMode(cfg.Retrieval.Rerank.Mode),
		collab,
		retrievaluc.HeuristicConfig{},
		time.Duration(cfg.Retrieval.Rerank.TimeoutMs)*time.Millisecond,
		logger,
	)
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
