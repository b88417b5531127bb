// Package wiring builds the concrete MemoryDb/DocumentStorage/Queue/
// EmbeddingGenerator/ITextGenerator/PipelineOrchestrator graph that
// cmd/server and cmd/worker both need from a config.Config, so the two
// entrypoints never duplicate backend-selection logic. Grounded on the
// teacher's cmd/server/main.go, which built its (much narrower, GCP-only)
// dependency graph directly inline in main(); this spec's pluggable-backend
// surface is wide enough that both binaries need the same construction
// logic, so it's factored out once instead of copy-pasted twice.
package wiring

import (
	"context"
	"fmt"
	"time"

	openaisdk "github.com/sashabaranov/go-openai"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/connexus-ai/kmemory/internal/chunker"
	"github.com/connexus-ai/kmemory/internal/config"
	"github.com/connexus-ai/kmemory/internal/contentdecoder"
	"github.com/connexus-ai/kmemory/internal/documentstorage"
	"github.com/connexus-ai/kmemory/internal/embedding"
	"github.com/connexus-ai/kmemory/internal/memorydb"
	"github.com/connexus-ai/kmemory/internal/pipeline"
	"github.com/connexus-ai/kmemory/internal/pipelinehandlers"
	"github.com/connexus-ai/kmemory/internal/queue"
	"github.com/connexus-ai/kmemory/internal/searchclient"
	"github.com/connexus-ai/kmemory/internal/textgenerator"
	"github.com/connexus-ai/kmemory/internal/tokenizer"
)

// Components holds every long-lived object cmd/server and cmd/worker share.
type Components struct {
	Storage      documentstorage.DocumentStorage
	Queue        queue.Queue // nil in in-process mode
	Registry     *pipeline.Registry
	Orchestrator *pipeline.Orchestrator
	Search       searchclient.Searcher
	Embedder     embedding.Generator

	// Close releases any pooled resources (pgx pool, qdrant client
	// connection). Safe to call even when nothing needed closing.
	Close func()
}

// Build constructs the full dependency graph for cfg. ctx bounds any
// network calls made during construction (pool ping, qdrant dial).
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	const op = "wiring.Build"

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	storage, err := buildDocumentStorage(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%s: document storage: %w", op, err)
	}

	db, dbCloser, err := buildMemoryDb(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%s: memory db: %w", op, err)
	}
	if dbCloser != nil {
		closers = append(closers, dbCloser)
	}

	q, err := buildQueue(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%s: queue: %w", op, err)
	}

	embedder := buildEmbedder(cfg)
	textGen := buildTextGenerator(cfg)

	tok, err := tokenizer.ForModel(cfg.TokenizerModel)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%s: tokenizer: %w", op, err)
	}

	manifest, err := config.LoadManifest(cfg.HandlerManifestPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%s: handler manifest: %w", op, err)
	}

	registry := pipeline.NewRegistry()
	registry.AddHandler(pipelinehandlers.ExtractHandler{Decoders: contentdecoder.NewRegistry()})
	registry.AddHandler(pipelinehandlers.PartitionHandler{
		Chunker: chunker.New(tok),
		Options: chunker.Options{
			MaxTokensPerChunk: cfg.ChunkMaxTokens,
			Overlap:           cfg.ChunkOverlapTokens,
		},
	})
	registry.AddHandler(pipelinehandlers.GenEmbeddingsHandler{Generator: embedder})
	registry.AddHandler(pipelinehandlers.SaveRecordsHandler{Db: db, ModelName: embedder.ModelName()})
	registry.AddHandler(pipelinehandlers.DeleteDocumentHandler{Db: db})
	if manifest.EnableSummarize {
		registry.AddHandler(pipelinehandlers.SummarizeHandler{Generator: textGen, Prompt: manifest.SummarizePrompt})
	}

	orchestrator := pipeline.NewOrchestrator(storage, q, registry, cfg.FileConcurrency)

	baseSearch := &searchclient.Client{Db: db, Embedder: embedder, TextGenerator: textGen}
	var search searchclient.Searcher = baseSearch
	if cfg.SearchCacheTTLSeconds > 0 {
		resultCache := searchclient.NewResultCache(time.Duration(cfg.SearchCacheTTLSeconds) * time.Second)
		closers = append(closers, resultCache.Stop)
		search = &searchclient.CachingClient{Client: baseSearch, Cache: resultCache}
	}

	return &Components{
		Storage:      storage,
		Queue:        q,
		Registry:     registry,
		Orchestrator: orchestrator,
		Search:       search,
		Embedder:     embedder,
		Close:        cleanup,
	}, nil
}

func buildDocumentStorage(ctx context.Context, cfg *config.Config) (documentstorage.DocumentStorage, error) {
	switch cfg.DocumentStorageBackend {
	case "gcs":
		return documentstorage.NewGCSStorage(ctx, cfg.GCSBucketName)
	default:
		return documentstorage.NewMemoryStorage(), nil
	}
}

func buildMemoryDb(ctx context.Context, cfg *config.Config) (memorydb.MemoryDb, func(), error) {
	switch cfg.MemoryDbBackend {
	case "pgvector":
		pool, err := memorydb.NewPgxPool(ctx, cfg.DatabaseURL, cfg.PoolMaxConns)
		if err != nil {
			return nil, nil, err
		}
		return memorydb.NewPgVectorStore(pool), func() { pool.Close() }, nil
	case "qdrant":
		client, err := memorydb.NewQdrantClient(cfg.QdrantAddr, cfg.QdrantAPIKey, cfg.QdrantUseTLS)
		if err != nil {
			return nil, nil, err
		}
		return memorydb.NewQdrantStore(client), nil, nil
	default:
		return memorydb.NewMemoryStore(), nil, nil
	}
}

func buildQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "pubsub":
		return queue.NewPubsubQueue(ctx, cfg.GCPProject, "kmemory-pipeline-steps", "kmemory-pipeline-steps-worker")
	default:
		return nil, nil
	}
}

func buildEmbedder(cfg *config.Config) embedding.Generator {
	switch cfg.EmbeddingBackend {
	case "openai":
		return embedding.NewOpenAIGenerator(cfg.OpenAIAPIKey, openaisdk.EmbeddingModel(cfg.EmbeddingModel), cfg.EmbeddingDimensions)
	default:
		return embedding.NewDeterministicGenerator(cfg.EmbeddingDimensions)
	}
}

func buildTextGenerator(cfg *config.Config) textgenerator.Generator {
	switch cfg.TextGeneratorBackend {
	case "anthropic":
		return textgenerator.NewAnthropicGenerator(cfg.AnthropicAPIKey, anthropicsdk.Model(cfg.TextGeneratorModel), 1024)
	default:
		return textgenerator.EchoGenerator{}
	}
}
