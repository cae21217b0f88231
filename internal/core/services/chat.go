package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// Ensure chatService implements ChatService
var _ driving.ChatService = (*chatService)(nil)

// ChatConfig tunes retrieval for chat
type ChatConfig struct {
	// TopK is the number of fused candidates retrieved
	TopK int
	// RerankTopK is the number of candidates kept after reranking
	RerankTopK int
	// PrefetchMultiplier sizes each prefetch sub-query as TopK * PrefetchMultiplier
	PrefetchMultiplier int
	// RRFConstant is the rank offset for fusion
	RRFConstant int
	// HistoryLimit is the number of turns used for rewriting and prompting
	HistoryLimit int
}

// DefaultChatConfig returns the standard chat settings
func DefaultChatConfig() ChatConfig {
	search := domain.DefaultSearchOptions()
	return ChatConfig{
		TopK:               search.Limit,
		RerankTopK:         DefaultRerankTopK,
		PrefetchMultiplier: search.PrefetchMultiplier,
		RRFConstant:        search.RRFConstant,
		HistoryLimit:       DefaultHistoryLimit,
	}
}

// chatService implements the ChatService interface
type chatService struct {
	index    driven.VectorIndex
	memory   driving.ConversationMemory
	gateway  *EmbeddingGateway
	reranker *Reranker
	caps     *runtime.Capabilities
	config   ChatConfig
	timeouts Timeouts
	logger   *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(
	index driven.VectorIndex,
	memory driving.ConversationMemory,
	gateway *EmbeddingGateway,
	reranker *Reranker,
	caps *runtime.Capabilities,
	cfg ChatConfig,
	timeouts Timeouts,
	logger *zap.Logger,
) driving.ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultChatConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}
	if cfg.RerankTopK <= 0 {
		cfg.RerankTopK = defaults.RerankTopK
	}
	if cfg.PrefetchMultiplier <= 0 {
		cfg.PrefetchMultiplier = defaults.PrefetchMultiplier
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = defaults.RRFConstant
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	return &chatService{
		index:    index,
		memory:   memory,
		gateway:  gateway,
		reranker: reranker,
		caps:     caps,
		config:   cfg,
		timeouts: timeouts,
		logger:   logger,
	}
}

// Ask answers one question in the caller's scope and records the exchange.
// The steps run in order: history, contextualize, embed, search, rerank,
// assemble, generate, append.
func (s *chatService) Ask(ctx context.Context, req domain.AskRequest) (*domain.AskResult, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	generator := s.caps.LLM()
	if generator == nil {
		return nil, fmt.Errorf("generation: %w", domain.ErrServiceUnavailable)
	}

	logger := s.logger.With(
		zap.String("tenant_id", req.TenantID),
		zap.String("user_id", req.UserID),
	)
	scope := req.Scope()

	history, err := s.memory.History(ctx, req.TenantID, req.UserID, s.config.HistoryLimit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		logger.Warn("history unavailable, continuing without it", zap.Error(err))
		history = nil
	}

	query, err := s.memory.Contextualize(ctx, req.Query, history)
	if err != nil {
		return nil, fmt.Errorf("contextualize: %w", err)
	}
	if query != req.Query {
		logger.Debug("query contextualized")
	}

	vectors, err := s.gateway.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	opts := domain.SearchOptions{
		Limit:              s.config.TopK,
		PrefetchMultiplier: s.config.PrefetchMultiplier,
		RRFConstant:        s.config.RRFConstant,
	}
	candidates, err := callWithTimeout(ctx, "search", s.timeouts.Store, func(ctx context.Context) ([]domain.Candidate, error) {
		return s.index.HybridSearch(ctx, vectors, scope, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	topK := s.config.RerankTopK
	if req.MaxSources > 0 {
		topK = req.MaxSources
	}
	ranked, err := s.reranker.Rerank(ctx, query, candidates, topK)
	rerankDegraded := errors.Is(err, ErrRerankFallback)
	if err != nil && !rerankDegraded {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	var answer domain.Answer
	if len(ranked) == 0 && !IsSocial(req.Query) {
		answer = domain.Answer{Question: req.Query, Answer: domain.NoInformationAnswer}
	} else {
		mode := req.Mode
		if mode == "" {
			mode = domain.PromptModeNormal
		}
		genReq := BuildRequest(query, scope, ranked, history, mode)
		raw, err := callWithTimeout(ctx, "generate", s.timeouts.Generate, func(ctx context.Context) (string, error) {
			return generator.Generate(ctx, genReq)
		})
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		answer, err = ParseResponse(raw)
		if err != nil {
			logger.Warn("generation output malformed, returning raw text", zap.Error(err))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.memory.AppendExchange(ctx, req.TenantID, req.UserID, req.Query, answer.Answer); err != nil {
		logger.Error("failed to record conversation turn", zap.Error(err))
	}

	result := &domain.AskResult{
		Question:         req.Query,
		Answer:           answer.Answer,
		Citation:         answer.Citation,
		Sources:          sourceRefs(ranked),
		Degraded:         answer.Degraded || rerankDegraded,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	logger.Info("question answered",
		zap.Int("candidates", len(candidates)),
		zap.Int("sources", len(result.Sources)),
		zap.Bool("degraded", result.Degraded),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs),
	)
	return result, nil
}

func sourceRefs(candidates []domain.Candidate) []domain.SourceRef {
	if len(candidates) == 0 {
		return nil
	}
	refs := make([]domain.SourceRef, len(candidates))
	for i, c := range candidates {
		refs[i] = domain.SourceRef{
			SourceFile: c.Chunk.SourceFile,
			ChunkIndex: c.Chunk.Ordinal,
			Score:      c.Score,
		}
	}
	return refs
}
