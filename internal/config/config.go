package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the patterndex API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Auth      AuthConfig      `yaml:"auth"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Cache     CacheConfig     `yaml:"cache"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds HNSW index settings.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
}

// EmbeddingConfig holds embedding settings. Vectorizer names "content"
// and "semantic" select the namespaces; dual embeddings are enabled
// when both are present.
type EmbeddingConfig struct {
	Providers   map[string]ProviderConfig   `yaml:"providers"`
	Vectorizers map[string]VectorizerConfig `yaml:"vectorizers"`
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// VectorizerConfig holds vectorizer settings.
type VectorizerConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// RetrievalConfig holds the retrieval pipeline settings.
type RetrievalConfig struct {
	Strategy       string  `yaml:"strategy"` // similarity, mmr, hybrid (default: similarity)
	MMRLambda      float64 `yaml:"mmr_lambda"`
	PoolMultiplier int     `yaml:"pool_multiplier"`

	DefaultThreshold float64            `yaml:"default_threshold"`
	Thresholds       map[string]float64 `yaml:"thresholds"` // domain -> cutoff

	FallbackFloor    float64           `yaml:"fallback_floor"`
	FallbackKeywords map[string]string `yaml:"fallback_keywords"` // keyword -> intent

	Hybrid   HybridConfig   `yaml:"hybrid"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Rerank   RerankConfig   `yaml:"rerank"`

	EmbedTimeoutSec  int `yaml:"embed_timeout_sec"`
	SearchTimeoutSec int `yaml:"search_timeout_sec"`
}

// HybridConfig holds score fusion weights.
type HybridConfig struct {
	Vector   float64 `yaml:"vector"`
	Metadata float64 `yaml:"metadata"`
	Domain   float64 `yaml:"domain"`
	Intent   float64 `yaml:"intent"`
	Success  float64 `yaml:"success"`
	Feedback float64 `yaml:"feedback"`
}

// FeedbackConfig holds execution feedback settings.
type FeedbackConfig struct {
	RecentWindowHours int   `yaml:"recent_window_hours"`
	RecentSampleCount int   `yaml:"recent_sample_count"`
	DurationBudgetMs  int   `yaml:"duration_budget_ms"`
	MemoryBudgetBytes int64 `yaml:"memory_budget_bytes"`
	TimeoutMs         int   `yaml:"timeout_ms"`
}

// RerankConfig holds contextual reranking settings.
type RerankConfig struct {
	Mode      string `yaml:"mode"` // off, heuristic, external (default: off)
	TimeoutMs int    `yaml:"timeout_ms"`
	BaseURL   string `yaml:"base_url"` // external collaborator endpoint
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
}

// CacheConfig holds query cache settings.
type CacheConfig struct {
	Enabled          bool `yaml:"enabled"`
	EmbeddingEntries int  `yaml:"embedding_entries"`
	EmbeddingTTLSec  int  `yaml:"embedding_ttl_sec"`
	ResultEntries    int  `yaml:"result_entries"`
	ResultTTLSec     int  `yaml:"result_ttl_sec"`
	SharedTier       bool `yaml:"shared_tier"` // persist embeddings in the database
}

// IngestionConfig holds pattern admission settings.
type IngestionConfig struct {
	MinSuccessRate  float64 `yaml:"min_success_rate"`
	EmbedTimeoutSec int     `yaml:"embed_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 32
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 400
	}
	if c.Retrieval.Strategy == "" {
		c.Retrieval.Strategy = "similarity"
	}
	if c.Retrieval.MMRLambda <= 0 || c.Retrieval.MMRLambda > 1 {
		c.Retrieval.MMRLambda = 0.7
	}
	if c.Retrieval.PoolMultiplier <= 0 {
		c.Retrieval.PoolMultiplier = 3
	}
	if c.Retrieval.DefaultThreshold == 0 {
		c.Retrieval.DefaultThreshold = 0.70
	}
	if c.Retrieval.FallbackFloor == 0 {
		c.Retrieval.FallbackFloor = 0.25
	}
	if c.Retrieval.Hybrid == (HybridConfig{}) {
		c.Retrieval.Hybrid = HybridConfig{
			Vector: 0.7, Metadata: 0.3,
			Domain: 0.25, Intent: 0.25, Success: 0.30, Feedback: 0.20,
		}
	}
	if c.Retrieval.EmbedTimeoutSec <= 0 {
		c.Retrieval.EmbedTimeoutSec = 5
	}
	if c.Retrieval.SearchTimeoutSec <= 0 {
		c.Retrieval.SearchTimeoutSec = 2
	}
	if c.Retrieval.Rerank.Mode == "" {
		c.Retrieval.Rerank.Mode = "off"
	}
	if c.Cache.EmbeddingEntries <= 0 {
		c.Cache.EmbeddingEntries = 2048
	}
	if c.Cache.EmbeddingTTLSec <= 0 {
		c.Cache.EmbeddingTTLSec = 900
	}
	if c.Cache.ResultEntries <= 0 {
		c.Cache.ResultEntries = 1024
	}
	if c.Cache.ResultTTLSec <= 0 {
		c.Cache.ResultTTLSec = 60
	}
	if c.Ingestion.MinSuccessRate == 0 {
		c.Ingestion.MinSuccessRate = 0.95
	}
	if c.Ingestion.EmbedTimeoutSec <= 0 {
		c.Ingestion.EmbedTimeoutSec = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}

	switch c.Retrieval.Strategy {
	case "similarity", "mmr", "hybrid":
	default:
		return fmt.Errorf(
			"retrieval.strategy must be \"similarity\", \"mmr\" or \"hybrid\", got %q",
			c.Retrieval.Strategy,
		)
	}

	if c.Retrieval.DefaultThreshold < 0 || c.Retrieval.DefaultThreshold > 1 {
		return fmt.Errorf("retrieval.default_threshold must be in [0,1], got %f", c.Retrieval.DefaultThreshold)
	}
	for dom, v := range c.Retrieval.Thresholds {
		if v < 0 || v > 1 {
			return fmt.Errorf("retrieval.thresholds.%s must be in [0,1], got %f", dom, v)
		}
	}
	if c.Retrieval.FallbackFloor < 0 || c.Retrieval.FallbackFloor > 1 {
		return fmt.Errorf("retrieval.fallback_floor must be in [0,1], got %f", c.Retrieval.FallbackFloor)
	}
	for kw, intent := range c.Retrieval.FallbackKeywords {
		if strings.TrimSpace(kw) == "" || strings.TrimSpace(intent) == "" {
			return fmt.Errorf("retrieval.fallback_keywords contains an empty keyword or intent")
		}
	}

	switch c.Retrieval.Rerank.Mode {
	case "off", "heuristic", "external":
	default:
		return fmt.Errorf(
			"retrieval.rerank.mode must be \"off\", \"heuristic\" or \"external\", got %q",
			c.Retrieval.Rerank.Mode,
		)
	}
	if c.Retrieval.Rerank.Mode == "external" && c.Retrieval.Rerank.BaseURL == "" {
		return fmt.Errorf("retrieval.rerank.base_url is required for external mode")
	}

	if c.Ingestion.MinSuccessRate < 0 || c.Ingestion.MinSuccessRate > 1 {
		return fmt.Errorf("ingestion.min_success_rate must be in [0,1], got %f", c.Ingestion.MinSuccessRate)
	}

	for name, v := range c.Embedding.Vectorizers {
		if name != "content" && name != "semantic" {
			return fmt.Errorf("embedding.vectorizers.%s: only \"content\" and \"semantic\" are recognized", name)
		}
		if v.Model == "" {
			return fmt.Errorf("embedding.vectorizers.%s.model is required", name)
		}
		if _, ok := c.Embedding.Providers[v.Provider]; !ok {
			return fmt.Errorf("embedding.vectorizers.%s references unknown provider %q", name, v.Provider)
		}
	}

	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
