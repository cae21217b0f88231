package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/chunking"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// pipeline wires every service over in-memory doubles
type pipeline struct {
	caps      *runtime.Capabilities
	embedder  *mocks.MockDenseEmbedder
	sparse    *mocks.MockSparseEncoder
	llm       *mocks.MockLLM
	scorer    *mocks.MockScorer
	index     *mocks.MockVectorIndex
	store     *mocks.MockConversationStore
	documents *mocks.MockDocumentStore
	lock      *mocks.MockDocumentLock

	gateway  *EmbeddingGateway
	reranker *Reranker
	memory   driving.ConversationMemory
	ingest   driving.IngestService
	chat     driving.ChatService
}

type pipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	batchSize int
	chunking  chunking.Config
	timeouts  Timeouts
}

func withBatchSize(n int) pipelineOption {
	return func(o *pipelineOptions) { o.batchSize = n }
}

func withChunking(cfg chunking.Config) pipelineOption {
	return func(o *pipelineOptions) { o.chunking = cfg }
}

func withTimeouts(t Timeouts) pipelineOption {
	return func(o *pipelineOptions) { o.timeouts = t }
}

func newPipeline(t testing.TB, opts ...pipelineOption) *pipeline {
	t.Helper()
	o := pipelineOptions{
		batchSize: DefaultEmbedBatchSize,
		chunking:  chunking.DefaultConfig(),
		timeouts:  DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &pipeline{
		caps:      runtime.NewCapabilities(domain.NewRuntimeConfig("memory", "memory"), nil),
		embedder:  mocks.NewMockDenseEmbedder(),
		sparse:    mocks.NewMockSparseEncoder(),
		llm:       mocks.NewMockLLM(),
		scorer:    mocks.NewMockScorer(),
		index:     mocks.NewMockVectorIndex(),
		store:     mocks.NewMockConversationStore(domain.DefaultMemoryPolicy()),
		documents: mocks.NewMockDocumentStore(),
		lock:      mocks.NewMockDocumentLock(),
	}
	p.caps.SetEmbedder(p.embedder)
	p.caps.SetSparseEncoder(p.sparse)
	p.caps.SetLLM(p.llm)
	p.caps.SetScorer(p.scorer)

	p.gateway = NewEmbeddingGateway(p.caps, GatewayConfig{BatchSize: o.batchSize, Timeout: o.timeouts.Embed}, nil)
	p.reranker = NewReranker(p.caps, o.timeouts.Rerank, nil)
	p.memory = NewConversationMemory(p.store, p.caps, o.timeouts, nil)

	engine, err := chunking.NewEngine(o.chunking, chunking.WordTokenizer{}, p.gateway, nil)
	require.NoError(t, err)

	p.ingest = NewIngestService(engine, p.gateway, p.index, p.documents, p.lock,
		IngestConfig{BatchSize: o.batchSize, Concurrency: 2}, o.timeouts, nil)
	p.chat = NewChatService(p.index, p.memory, p.gateway, p.reranker, p.caps, DefaultChatConfig(), o.timeouts, nil)
	return p
}

func (p *pipeline) mustIngest(t testing.TB, tenantID, sourceFile, text string, roles ...int) int {
	t.Helper()
	n, err := p.ingest.ProcessDocument(context.Background(), domain.DocumentInput{
		Text:       text,
		TenantID:   tenantID,
		SourceFile: sourceFile,
		Roles:      roles,
	})
	require.NoError(t, err)
	return n
}

// policyDocument is a markdown handbook with one section per topic
func policyDocument(topics ...string) string {
	var b strings.Builder
	b.WriteString("# Employee Handbook\n\n")
	for _, topic := range topics {
		fmt.Fprintf(&b, "## %s policy\n\n", strings.ToUpper(topic[:1])+topic[1:])
		for i := 0; i < 30; i++ {
			fmt.Fprintf(&b, "The %s policy rule %d applies to every employee in the company. ", topic, i)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func candidate(id, content string, score float64) domain.Candidate {
	return domain.Candidate{
		ID:     id,
		Chunk:  domain.ChunkRecord{ChunkID: id, SourceFile: id + ".md", Content: content},
		Score:  score,
		Source: domain.RankFused,
	}
}
