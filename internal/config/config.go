// Package config loads the application configuration from environment
// variables, grouped into the option families named in the external
// interfaces contract: chunking, fusion, MMR, reranker, indexing, DB pool,
// and collection.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	DatabaseURL     string
	QdrantURL       string
	EmbeddingURL    string
	GenerateURL     string

	Chunking   ChunkingConfig
	Fusion     FusionConfig
	MMR        MMRConfig
	Reranker   RerankerConfig
	Indexing   IndexingConfig
	DB         DBConfig
	Collection CollectionConfig
	Cache      CacheConfig
	RateLimit  RateLimitConfig
}

// CacheConfig controls the in-memory embedding and context caches.
type CacheConfig struct {
	EmbeddingTTL time.Duration
	ContextTTL   time.Duration
}

// RateLimitConfig controls the per-client sliding window limiter applied
// to the search and context-build endpoints.
type RateLimitConfig struct {
	MaxRequests     int
	Window          time.Duration
	CleanupInterval time.Duration
}

// ChunkingConfig is the chunker's tunable parameter surface.
type ChunkingConfig struct {
	TargetTokens        int
	MinTokens           int
	MaxTokens           int
	OverlapRatio        float64
	MinOverlapSentences int
	MergeEnabled        bool
	MaxMergedTokens     int
	MinSentenceLength   int
	TokensPerChar       float64 // inverse heuristic: tokens ~= ceil(chars * TokensPerChar)
}

// FusionConfig is C7's parameter surface.
type FusionConfig struct {
	Alpha float64
	UseRRF bool
	RRFK  int
}

// MMRConfig is C9's parameter surface.
type MMRConfig struct {
	Lambda              float64
	SimilarityThreshold float64
}

// RerankerConfig is C8's parameter surface.
type RerankerConfig struct {
	MaxBatchSize  int
	Timeout       time.Duration
	InitialTopK   int
	TopK          int
}

// IndexingConfig is C14/C15's parameter surface.
type IndexingConfig struct {
	MaxConcurrentTasks int
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	StuckThreshold     time.Duration
	ShutdownGrace      time.Duration
	RecoveryInterval   time.Duration
}

// DBConfig is C13's pool parameter surface.
type DBConfig struct {
	MinConnections int
	MaxConnections int
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// CollectionConfig names the ANN collection C2 ensures exists.
type CollectionConfig struct {
	Name       string
	VectorSize int
	Distance   string // cosine
}

// Load reads configuration from environment variables. DATABASE_URL and
// QDRANT_URL are required; everything else falls back to the defaults
// the pipeline uses.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}
	qdrantURL := os.Getenv("QDRANT_URL")
	if qdrantURL == "" {
		return nil, fmt.Errorf("config.Load: QDRANT_URL is required")
	}

	cfg := &Config{
		Port:         envInt("PORT", 8080),
		Environment:  envStr("ENVIRONMENT", "development"),
		DatabaseURL:  dbURL,
		QdrantURL:    qdrantURL,
		EmbeddingURL: envStr("EMBEDDING_URL", ""),
		GenerateURL:  envStr("GENERATE_URL", ""),

		Chunking: ChunkingConfig{
			TargetTokens:        envInt("CHUNK_TARGET_TOKENS", 800),
			MinTokens:           envInt("CHUNK_MIN_TOKENS", 512),
			MaxTokens:           envInt("CHUNK_MAX_TOKENS", 1200),
			OverlapRatio:        envFloat("CHUNK_OVERLAP_RATIO", 0.2),
			MinOverlapSentences: envInt("CHUNK_MIN_OVERLAP_SENTENCES", 1),
			MergeEnabled:        envBool("CHUNK_MERGE_ENABLED", true),
			MaxMergedTokens:     envInt("CHUNK_MAX_MERGED_TOKENS", 1200),
			MinSentenceLength:   envInt("CHUNK_MIN_SENTENCE_LENGTH", 10),
			TokensPerChar:       envFloat("CHUNK_TOKENS_PER_CHAR", 0.25),
		},
		Fusion: FusionConfig{
			Alpha:  envFloat("FUSION_ALPHA", 0.6),
			UseRRF: envBool("FUSION_USE_RRF", true),
			RRFK:   envInt("FUSION_RRF_K", 60),
		},
		MMR: MMRConfig{
			Lambda:              envFloat("MMR_LAMBDA", 0.7),
			SimilarityThreshold: envFloat("MMR_SIMILARITY_THRESHOLD", 0.8),
		},
		Reranker: RerankerConfig{
			MaxBatchSize: envInt("RERANK_MAX_BATCH_SIZE", 10),
			Timeout:      envDuration("RERANK_TIMEOUT", 15*time.Second),
			InitialTopK:  envInt("RERANK_INITIAL_TOP_K", 50),
			TopK:         envInt("RERANK_TOP_K", 8),
		},
		Indexing: IndexingConfig{
			MaxConcurrentTasks: envInt("INDEXING_MAX_CONCURRENT_TASKS", 3),
			MaxRetries:         envInt("INDEXING_MAX_RETRIES", 3),
			RetryBaseDelay:     envDuration("INDEXING_RETRY_BASE_DELAY", 1*time.Second),
			RetryMaxDelay:      envDuration("INDEXING_RETRY_MAX_DELAY", 60*time.Second),
			StuckThreshold:     envDuration("INDEXING_STUCK_THRESHOLD", 10*time.Minute),
			ShutdownGrace:      envDuration("INDEXING_SHUTDOWN_GRACE", 30*time.Second),
			RecoveryInterval:   envDuration("INDEXING_RECOVERY_INTERVAL", 30*time.Second),
		},
		DB: DBConfig{
			MinConnections: envInt("DB_MIN_CONNECTIONS", 2),
			MaxConnections: envInt("DB_MAX_CONNECTIONS", 25),
			MaxRetries:     envInt("DB_MAX_RETRIES", 5),
			BaseDelay:      envDuration("DB_BASE_DELAY", 2*time.Second),
			MaxDelay:       envDuration("DB_MAX_DELAY", 30*time.Second),
		},
		Collection: CollectionConfig{
			Name:       envStr("COLLECTION_NAME", "normative_documents"),
			VectorSize: envInt("COLLECTION_VECTOR_SIZE", 1024),
			Distance:   envStr("COLLECTION_DISTANCE", "cosine"),
		},
		Cache: CacheConfig{
			EmbeddingTTL: envDuration("EMBEDDING_CACHE_TTL", 15*time.Minute),
			ContextTTL:   envDuration("CONTEXT_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			MaxRequests:     envInt("RATE_LIMIT_MAX_REQUESTS", 30),
			Window:          envDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			CleanupInterval: envDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		},
	}

	return cfg, nil
}

// ChunkingConfigFor applies the per-document-class override named by
// documentType, inheriting unspecified fields from base. Mirrors the
// original DOCUMENT_TYPE_CONFIGS table (gost/sp/snip/corporate).
func (c *Config) ChunkingConfigFor(documentType string) ChunkingConfig {
	base := c.Chunking
	switch strings.ToLower(documentType) {
	case "gost":
		base.TargetTokens = 600
		base.MinTokens = 400
		base.MaxTokens = 800
		base.OverlapRatio = 0.25
	case "sp":
		base.TargetTokens = 800
		base.MinTokens = 512
		base.MaxTokens = 1200
		base.OverlapRatio = 0.2
	case "snip":
		base.TargetTokens = 1000
		base.MinTokens = 600
		base.MaxTokens = 1500
		base.OverlapRatio = 0.15
	case "corporate", "corp_std":
		base.TargetTokens = 700
		base.MinTokens = 450
		base.MaxTokens = 1000
		base.OverlapRatio = 0.2
	}
	return base
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
