package config

import (
	"os"
	"testing"
)

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080},
		Database: DatabaseConfig{
			Addrs: []string{"localhost:6379"},
		},
		Retrieval: RetrievalConfig{
			Strategy:   "similarity",
			Rerank:     RerankConfig{Mode: "off"},
			MMRLambda:  0.7,
			Thresholds: map[string]float64{"web": 0.72},
		},
	}
}

func TestValidate_InvalidStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.Strategy = "random"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid strategy")
	}

	expected := `retrieval.strategy must be "similarity", "mmr" or "hybrid", got "random"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ValidStrategies(t *testing.T) {
	for _, strategy := range []string{"similarity", "mmr", "hybrid"} {
		t.Run("strategy="+strategy, func(t *testing.T) {
			cfg := validConfig()
			cfg.Retrieval.Strategy = strategy

			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error for valid strategy %q: %v", strategy, err)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingDatabaseAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Addrs = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database addrs")
	}
}

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.Thresholds = map[string]float64{"web": 1.3}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range threshold")
	}
}

func TestValidate_BlankFallbackKeyword(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.FallbackKeywords = map[string]string{" ": "parsing"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for blank fallback keyword")
	}
}

func TestValidate_ExternalRerankRequiresBaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.Rerank = RerankConfig{Mode: "external"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for external rerank without base_url")
	}

	cfg.Retrieval.Rerank.BaseURL = "https://api.example.com/v1/"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error with base_url set: %v", err)
	}
}

func TestValidate_UnknownVectorizerName(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding = EmbeddingConfig{
		Providers: map[string]ProviderConfig{
			"openai": {APIKey: "test-key"},
		},
		Vectorizers: map[string]VectorizerConfig{
			"tertiary": {Provider: "openai", Model: "text-embedding-3-small"},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown vectorizer name")
	}
}

func TestValidate_VectorizerReferencesUnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding = EmbeddingConfig{
		Providers: map[string]ProviderConfig{
			"openai": {APIKey: "test-key"},
		},
		Vectorizers: map[string]VectorizerConfig{
			"content": {Provider: "missing", Model: "text-embedding-3-small"},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider reference")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 10 {
		t.Errorf("expected WriteTimeoutSec=10, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Index.HNSWM != 32 {
		t.Errorf("expected HNSWM=32, got %d", cfg.Index.HNSWM)
	}
	if cfg.Index.HNSWEFConstruct != 400 {
		t.Errorf("expected HNSWEFConstruct=400, got %d", cfg.Index.HNSWEFConstruct)
	}
	if cfg.Retrieval.Strategy != "similarity" {
		t.Errorf("expected strategy=similarity, got %q", cfg.Retrieval.Strategy)
	}
	if cfg.Retrieval.MMRLambda != 0.7 {
		t.Errorf("expected MMRLambda=0.7, got %f", cfg.Retrieval.MMRLambda)
	}
	if cfg.Retrieval.DefaultThreshold != 0.70 {
		t.Errorf("expected DefaultThreshold=0.70, got %f", cfg.Retrieval.DefaultThreshold)
	}
	if cfg.Retrieval.FallbackFloor != 0.25 {
		t.Errorf("expected FallbackFloor=0.25, got %f", cfg.Retrieval.FallbackFloor)
	}
	if cfg.Retrieval.Hybrid.Vector != 0.7 || cfg.Retrieval.Hybrid.Metadata != 0.3 {
		t.Errorf("expected hybrid weights 0.7/0.3, got %f/%f",
			cfg.Retrieval.Hybrid.Vector, cfg.Retrieval.Hybrid.Metadata)
	}
	if cfg.Retrieval.Rerank.Mode != "off" {
		t.Errorf("expected rerank mode=off, got %q", cfg.Retrieval.Rerank.Mode)
	}
	if cfg.Cache.EmbeddingEntries != 2048 {
		t.Errorf("expected EmbeddingEntries=2048, got %d", cfg.Cache.EmbeddingEntries)
	}
	if cfg.Cache.ResultTTLSec != 60 {
		t.Errorf("expected ResultTTLSec=60, got %d", cfg.Cache.ResultTTLSec)
	}
	if cfg.Ingestion.MinSuccessRate != 0.95 {
		t.Errorf("expected MinSuccessRate=0.95, got %f", cfg.Ingestion.MinSuccessRate)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:  HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Index: IndexConfig{HNSWM: 16, HNSWEFConstruct: 200},
		Retrieval: RetrievalConfig{
			Strategy:         "hybrid",
			MMRLambda:        0.5,
			DefaultThreshold: 0.80,
		},
		Ingestion: IngestionConfig{MinSuccessRate: 0.90},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Index.HNSWM != 16 {
		t.Errorf("expected HNSWM=16, got %d", cfg.Index.HNSWM)
	}
	if cfg.Retrieval.Strategy != "hybrid" {
		t.Errorf("expected strategy=hybrid, got %q", cfg.Retrieval.Strategy)
	}
	if cfg.Retrieval.MMRLambda != 0.5 {
		t.Errorf("expected MMRLambda=0.5, got %f", cfg.Retrieval.MMRLambda)
	}
	if cfg.Retrieval.DefaultThreshold != 0.80 {
		t.Errorf("expected DefaultThreshold=0.80, got %f", cfg.Retrieval.DefaultThreshold)
	}
	if cfg.Ingestion.MinSuccessRate != 0.90 {
		t.Errorf("expected MinSuccessRate=0.90, got %f", cfg.Ingestion.MinSuccessRate)
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("PDX_TEST_KEY", "secret")
	defer os.Unsetenv("PDX_TEST_KEY")

	got := string(expandEnvVars([]byte("api_key: ${PDX_TEST_KEY}")))
	if got != "api_key: secret" {
		t.Errorf("expected substitution, got %q", got)
	}

	got = string(expandEnvVars([]byte("addr: ${PDX_TEST_MISSING:-localhost:6379}")))
	if got != "addr: localhost:6379" {
		t.Errorf("expected default value, got %q", got)
	}

	got = string(expandEnvVars([]byte("addr: ${PDX_TEST_MISSING}")))
	if got != "addr: " {
		t.Errorf("expected empty substitution, got %q", got)
	}
}
