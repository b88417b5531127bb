// Package config builds kmemory's process-wide immutable configuration from
// environment variables (spec's ambient stack: "Mutable global configuration
// singletons" is re-architected per spec §9 into one struct built once and
// passed by reference). Ported from the teacher's internal/config/config.go
// envStr/envInt/envFloat/envBool helper pattern, with the backend-selection
// fields generalized to this spec's pluggable MemoryDb/DocumentStorage/
// Queue/EmbeddingGenerator/ITextGenerator capability sets instead of the
// teacher's fixed GCP/Vertex AI stack. The optional HandlerManifest (see
// manifest.go) layers a YAML-driven handler-registry override on top.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every setting cmd/server and cmd/worker need. Immutable after
// Load() returns.
type Config struct {
	Port        int
	Environment string
	FrontendURL string

	// MemoryDbBackend selects the MemoryDb implementation: "memory" (default,
	// in-process only), "pgvector", or "qdrant".
	MemoryDbBackend string
	DatabaseURL     string // pgvector
	QdrantAddr      string // qdrant

	// DocumentStorageBackend selects the DocumentStorage implementation:
	// "memory" (default) or "gcs".
	DocumentStorageBackend string
	GCSBucketName          string

	// QueueBackend selects "inproc" (default, synchronous in-process mode)
	// or "pubsub" (distributed mode, spec §4.1/§5).
	QueueBackend      string
	GCPProject        string
	MaxDequeueCount   int
	VisibilityTimeout int // seconds

	// EmbeddingBackend selects "deterministic" (default, test-only) or
	// "openai".
	EmbeddingBackend    string
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int

	// TextGeneratorBackend selects "echo" (default, test-only) or
	// "anthropic" — only required when the optional "summarize" step is
	// registered.
	TextGeneratorBackend string
	AnthropicAPIKey      string
	TextGeneratorModel   string

	TokenizerModel      string
	ChunkMaxTokens      int
	ChunkOverlapTokens  int
	FileConcurrency     int

	// HandlerManifestPath optionally points at a YAML file customizing the
	// registered pipeline steps (config.HandlerManifest); empty disables
	// every optional step.
	HandlerManifestPath string

	// QdrantAPIKey and QdrantUseTLS configure the qdrant MemoryDb backend's
	// client alongside QdrantAddr.
	QdrantAPIKey  string
	QdrantUseTLS  bool

	// PoolMaxConns bounds the pgvector backend's pgx connection pool.
	PoolMaxConns int

	// RateLimitMaxRequests and RateLimitWindowSeconds configure the HTTP
	// surface's per-client sliding window rate limiter. MaxRequests <= 0
	// disables rate limiting entirely.
	RateLimitMaxRequests   int
	RateLimitWindowSeconds int

	// SearchCacheTTLSeconds enables a result cache in front of Client.Search
	// when > 0 (disabled by default). Entries are not invalidated on write
	// automatically; callers that need read-your-writes consistency should
	// prefer a short TTL or call ResultCache.InvalidateIndex themselves.
	SearchCacheTTLSeconds int
}

// Load reads configuration from environment variables. Required variables
// depend on which backends are selected (e.g. MEMORYDB_BACKEND=pgvector
// requires DATABASE_URL); optional variables use sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),
		FrontendURL: envStr("FRONTEND_URL", "http://localhost:3000"),

		MemoryDbBackend: envStr("MEMORYDB_BACKEND", "memory"),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		QdrantAddr:      envStr("QDRANT_ADDR", "localhost:6334"),

		DocumentStorageBackend: envStr("DOCSTORE_BACKEND", "memory"),
		GCSBucketName:          envStr("GCS_BUCKET_NAME", ""),

		QueueBackend:      envStr("QUEUE_BACKEND", "inproc"),
		GCPProject:        envStr("GOOGLE_CLOUD_PROJECT", ""),
		MaxDequeueCount:   envInt("QUEUE_MAX_DEQUEUE_COUNT", 20),
		VisibilityTimeout: envInt("QUEUE_VISIBILITY_TIMEOUT_SECONDS", 300),

		EmbeddingBackend:    envStr("EMBEDDING_BACKEND", "deterministic"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 1536),

		TextGeneratorBackend: envStr("TEXTGENERATOR_BACKEND", "echo"),
		AnthropicAPIKey:      envStr("ANTHROPIC_API_KEY", ""),
		TextGeneratorModel:   envStr("TEXTGENERATOR_MODEL", "claude-sonnet-4-5"),

		TokenizerModel:     envStr("TOKENIZER_MODEL", "gpt-4"),
		ChunkMaxTokens:     envInt("CHUNK_MAX_TOKENS", 1024),
		ChunkOverlapTokens: envInt("CHUNK_OVERLAP_TOKENS", 64),
		FileConcurrency:    envInt("FILE_CONCURRENCY", 4),

		HandlerManifestPath: envStr("HANDLER_MANIFEST_PATH", ""),

		QdrantAPIKey: envStr("QDRANT_API_KEY", ""),
		QdrantUseTLS: envBool("QDRANT_USE_TLS", false),

		PoolMaxConns: envInt("POOL_MAX_CONNS", 10),

		RateLimitMaxRequests:   envInt("RATE_LIMIT_MAX_REQUESTS", 0),
		RateLimitWindowSeconds: envInt("RATE_LIMIT_WINDOW_SECONDS", 60),

		SearchCacheTTLSeconds: envInt("SEARCH_CACHE_TTL_SECONDS", 0),
	}

	switch cfg.MemoryDbBackend {
	case "memory":
	case "pgvector":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("config.Load: DATABASE_URL is required when MEMORYDB_BACKEND=pgvector")
		}
	case "qdrant":
	default:
		return nil, fmt.Errorf("config.Load: unknown MEMORYDB_BACKEND %q", cfg.MemoryDbBackend)
	}

	switch cfg.DocumentStorageBackend {
	case "memory":
	case "gcs":
		if cfg.GCSBucketName == "" {
			return nil, fmt.Errorf("config.Load: GCS_BUCKET_NAME is required when DOCSTORE_BACKEND=gcs")
		}
	default:
		return nil, fmt.Errorf("config.Load: unknown DOCSTORE_BACKEND %q", cfg.DocumentStorageBackend)
	}

	switch cfg.QueueBackend {
	case "inproc":
	case "pubsub":
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required when QUEUE_BACKEND=pubsub")
		}
	default:
		return nil, fmt.Errorf("config.Load: unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	switch cfg.EmbeddingBackend {
	case "deterministic":
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("config.Load: OPENAI_API_KEY is required when EMBEDDING_BACKEND=openai")
		}
	default:
		return nil, fmt.Errorf("config.Load: unknown EMBEDDING_BACKEND %q", cfg.EmbeddingBackend)
	}

	switch cfg.TextGeneratorBackend {
	case "echo":
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("config.Load: ANTHROPIC_API_KEY is required when TEXTGENERATOR_BACKEND=anthropic")
		}
	default:
		return nil, fmt.Errorf("config.Load: unknown TEXTGENERATOR_BACKEND %q", cfg.TextGeneratorBackend)
	}

	return cfg, nil
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
