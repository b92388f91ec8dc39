package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrPatternNotFound signals a missing pattern.
	ErrPatternNotFound = errors.New("pattern not found")
	// ErrInvalidQuery signals a query rejected before any external call.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrStorageRejected signals an ingestion candidate below the storage quality bar.
	ErrStorageRejected = errors.New("storage rejected")
	// ErrRetrievalUnavailable signals that primary similarity search could not run.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrHistoryUnavailable signals that the execution history store could not be read.
	ErrHistoryUnavailable = errors.New("execution history unavailable")
)
