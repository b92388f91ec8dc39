package health

import (
	"context"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates the service works without optional components.
	Degraded Status = "degraded"
	// Unhealthy indicates retrieval cannot be served at all.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results, keyed by component name.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// checkTimeout bounds each component probe independently, so a hung
// embedding endpoint cannot stall the whole health reply.
const checkTimeout = 2 * time.Second

// Service probes the vector store and the embedding provider. The
// store is mandatory: without it no retrieval is possible, so its
// failure makes the whole service Unhealthy. The embedding provider
// only degrades the service, since cached queries still work.
type Service struct {
	db            DBPinger
	embedding     EmbeddingChecker
	embeddingName string
}

// New creates a Service. embedding can be nil; embeddingName labels the
// embedding check in the report (defaults to "embedding").
func New(db DBPinger, embedding EmbeddingChecker, embeddingName string) *Service {
	if embeddingName == "" {
		embeddingName = "embedding"
	}
	return &Service{db: db, embedding: embedding, embeddingName: embeddingName}
}

// Check probes all components and aggregates the outcome.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if s.probe(ctx, s.db.Ping) != nil {
		checks["database"] = CheckError
		status = Unhealthy
	} else {
		checks["database"] = CheckOK
	}

	if s.embedding != nil {
		if s.probe(ctx, s.embedding.HealthCheck) != nil {
			checks[s.embeddingName] = CheckError
			if status == Healthy {
				status = Degraded
			}
		} else {
			checks[s.embeddingName] = CheckOK
		}
	}

	return Report{Status: status, Checks: checks}
}

func (s *Service) probe(ctx context.Context, fn func(context.Context) error) error {
	probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return fn(probeCtx)
}
