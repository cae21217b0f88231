package main

import (
	"context"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/postgres"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/qdrant"
	redisadapter "github.com/custodia-labs/sercha-rag/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-rag/internal/chunking"
	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/core/services"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// app is the fully wired process
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	caps   *runtime.Capabilities

	index     driven.VectorIndex
	store     driven.ConversationStore
	documents driven.DocumentStore
	lock      driven.DocumentLock
	queue     driven.IngestQueue
	auth      driven.AuthAdapter

	ingest driving.IngestService
	chat   driving.ChatService
	memory driving.ConversationMemory

	checks  []http.HealthCheck
	closers []func() error
}

// buildApp connects the configured backends and wires the services.
// Unset backend URLs fall back to in-process adapters.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		caps:   runtime.NewCapabilities(domain.NewRuntimeConfig(cfg.IndexBackend(), cfg.MemoryBackend()), logger),
		auth:   auth.NewAdapter(cfg.Auth.JWTSecret),
	}
	for _, step := range []func(context.Context) error{
		a.initCapabilities,
		a.initIndex,
		a.initStores,
		a.initServices,
	} {
		if err := step(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	if err := a.caps.WarmUp(ctx); err != nil {
		// a missing capability degrades the affected operations only
		logger.Warn("warm-up incomplete", zap.Error(err))
	}

	logger.Info("application ready",
		zap.String("version", version),
		zap.String("index", cfg.IndexBackend()),
		zap.String("memory", cfg.MemoryBackend()),
	)
	return a, nil
}

func (a *app) initCapabilities(context.Context) error {
	factory := ai.NewFactory()
	cfg := a.cfg.AI

	embedder, err := factory.CreateDenseEmbedder(&domain.EmbeddingSettings{
		Provider:   domain.AIProvider(cfg.EmbeddingProvider),
		Model:      cfg.EmbeddingModel,
		BaseURL:    cfg.EmbeddingBaseURL,
		APIKey:     cfg.EmbeddingAPIKey,
		Dimensions: a.cfg.Qdrant.DenseSize,
	})
	if err != nil {
		return fmt.Errorf("embedding capability: %w", err)
	}
	if embedder != nil {
		a.caps.SetEmbedder(embedder)
	}
	a.caps.SetSparseEncoder(factory.CreateSparseEncoder())

	llm, err := factory.CreateLLM(&domain.LLMSettings{
		Provider:    domain.AIProvider(cfg.LLMProvider),
		Model:       cfg.LLMModel,
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Temperature: float32(cfg.LLMTemperature),
	})
	if err != nil {
		return fmt.Errorf("generation capability: %w", err)
	}
	if llm != nil {
		a.caps.SetLLM(llm)
	} else {
		a.logger.Warn("no generation model configured; ask is unavailable")
	}

	scorer, err := factory.CreateScorer(&domain.RerankSettings{
		BaseURL: cfg.RerankURL,
		Model:   cfg.RerankModel,
		APIKey:  cfg.RerankAPIKey,
	})
	if err != nil {
		return fmt.Errorf("rerank capability: %w", err)
	}
	a.caps.SetScorer(scorer)
	a.closers = append(a.closers, a.caps.Close)
	return nil
}

func (a *app) initIndex(context.Context) error {
	if a.cfg.Qdrant.URL == "" {
		a.logger.Warn("QDRANT_URL not set; using the in-process index")
		a.index = memory.NewIndex()
	} else {
		qcfg := qdrant.DefaultConfig(a.cfg.Qdrant.URL)
		qcfg.Collection = a.cfg.Qdrant.Collection
		qcfg.APIKey = a.cfg.Qdrant.APIKey
		qcfg.DenseSize = a.cfg.Qdrant.DenseSize
		idx, err := qdrant.NewIndex(qcfg, a.logger)
		if err != nil {
			return err
		}
		a.index = idx
	}
	a.checks = append(a.checks, http.HealthCheck{Name: "index", Check: a.index.HealthCheck})
	return nil
}

func (a *app) initStores(ctx context.Context) error {
	policy := domain.MemoryPolicy{MaxMessages: a.cfg.Memory.MaxMessages, TTL: a.cfg.Memory.TTL}

	var redisClient *goredis.Client
	if a.cfg.RedisURL != "" {
		client, err := redisadapter.Connect(ctx, a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisClient = client
		a.closers = append(a.closers, client.Close)
		a.logger.Info("redis connected")
	}

	var db *postgres.DB
	if a.cfg.Database.URL != "" {
		pcfg := postgres.DefaultConfig(a.cfg.Database.URL)
		pcfg.MaxOpenConns = a.cfg.Database.MaxOpenConns
		pcfg.MaxIdleConns = a.cfg.Database.MaxIdleConns
		pcfg.ConnMaxLifetime = a.cfg.Database.ConnMaxLifetime
		conn, err := postgres.Connect(ctx, pcfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		db = conn
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	if redisClient != nil {
		a.store = redisadapter.NewConversationStore(redisClient, policy, a.logger)
		a.lock = redisadapter.NewLock(redisClient)
		queue, err := redisadapter.NewIngestQueue(ctx, redisClient, consumerName(), a.logger)
		if err != nil {
			return err
		}
		a.queue = queue
	} else {
		a.logger.Warn("REDIS_URL not set; conversations and ingest jobs are kept in memory")
		a.store = memory.NewConversationStore(policy)
		a.queue = memory.NewIngestQueue()
		if db != nil {
			a.lock = postgres.NewAdvisoryLock(db)
		} else {
			a.lock = memory.NewLock()
		}
	}
	a.closers = append(a.closers, a.queue.Close)
	a.checks = append(a.checks, http.HealthCheck{Name: "memory", Check: a.store.Ping})

	if db != nil {
		a.documents = postgres.NewDocumentStore(db)
		a.checks = append(a.checks, http.HealthCheck{Name: "registry", Check: db.HealthCheck})
	} else {
		a.documents = memory.NewDocumentStore()
	}
	return nil
}

func (a *app) initServices(context.Context) error {
	timeouts := services.Timeouts{
		Embed:    a.cfg.Timeouts.Embed,
		Rerank:   a.cfg.Timeouts.Rerank,
		Generate: a.cfg.Timeouts.Generate,
		Rewrite:  a.cfg.Timeouts.Rewrite,
		Store:    a.cfg.Timeouts.Store,
		Memory:   a.cfg.Timeouts.Memory,
	}

	gateway := services.NewEmbeddingGateway(a.caps, services.GatewayConfig{
		BatchSize: a.cfg.Ingest.BatchSize,
		RPS:       a.cfg.Ingest.EmbedRPS,
		Timeout:   timeouts.Embed,
	}, a.logger)
	a.caps.Register("embedding-gateway", gateway)

	reranker := services.NewReranker(a.caps, timeouts.Rerank, a.logger)
	a.memory = services.NewConversationMemory(a.store, a.caps, timeouts, a.logger)

	chunker, err := newChunker(a.cfg, gateway, a.logger)
	if err != nil {
		return err
	}
	a.ingest = services.NewIngestService(chunker, gateway, a.index, a.documents, a.lock,
		services.IngestConfig{
			BatchSize:   a.cfg.Ingest.BatchSize,
			Concurrency: a.cfg.Ingest.Concurrency,
			LockTTL:     a.cfg.Ingest.LockTTL,
		}, timeouts, a.logger)

	a.chat = services.NewChatService(a.index, a.memory, gateway, reranker, a.caps, services.ChatConfig{
		TopK:               a.cfg.Retrieval.TopKChildren,
		RerankTopK:         a.cfg.Retrieval.TopKRerank,
		PrefetchMultiplier: a.cfg.Retrieval.PrefetchMultiplier,
		RRFConstant:        a.cfg.Retrieval.RRFConstant,
		HistoryLimit:       a.cfg.Memory.HistoryLimit,
	}, timeouts, a.logger)

	a.checks = append(a.checks, http.HealthCheck{Name: "generation", Check: func(ctx context.Context) error {
		llm := a.caps.LLM()
		if llm == nil {
			return domain.ErrServiceUnavailable
		}
		return llm.Ping(ctx)
	}})
	return nil
}

// newChunker builds the chunking engine, falling back to word counts when
// the tiktoken encoding cannot be loaded
func newChunker(cfg *config.Config, gateway *services.EmbeddingGateway, logger *zap.Logger) (services.Chunker, error) {
	tokenizer, err := chunking.NewTokenizer(cfg.Chunking.Tokenizer)
	if err != nil {
		logger.Warn("tokenizer unavailable; counting words", zap.String("tokenizer", cfg.Chunking.Tokenizer), zap.Error(err))
		tokenizer = chunking.WordTokenizer{}
	}
	engine, err := chunking.NewEngine(cfg.Chunking.Config, tokenizer, gateway, logger)
	if err != nil {
		return nil, fmt.Errorf("chunking engine: %w", err)
	}
	return engine, nil
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// close releases every backend in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
