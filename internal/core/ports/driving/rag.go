package driving

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// IngestService turns document text into indexed chunks
type IngestService interface {
	// ProcessDocument chunks, embeds and indexes a document and returns the chunk count.
	// Re-ingesting the same (tenant, source_file) replaces the previous version.
	ProcessDocument(ctx context.Context, doc domain.DocumentInput) (int, error)

	// IngestBatch processes independent documents concurrently and optimizes the index once.
	// Returns the chunk count per source file.
	IngestBatch(ctx context.Context, docs []domain.DocumentInput) (map[string]int, error)

	// DeleteDocument removes a document's points and registry record
	DeleteDocument(ctx context.Context, tenantID, sourceFile string) error

	// ListDocuments returns the registry records of a tenant
	ListDocuments(ctx context.Context, tenantID string) ([]*domain.DocumentRecord, error)

	// Optimize switches the index to read-optimized mode
	Optimize(ctx context.Context) error
}

// ChatService answers questions grounded in a tenant's documents
type ChatService interface {
	// Ask contextualizes, retrieves, reranks, generates and records one conversation turn
	Ask(ctx context.Context, req domain.AskRequest) (*domain.AskResult, error)
}

// ConversationMemory manages per-(tenant, user) history
type ConversationMemory interface {
	// Append adds one turn
	Append(ctx context.Context, tenantID, userID string, role domain.TurnRole, content string) error

	// AppendExchange adds a user turn and its assistant reply atomically
	AppendExchange(ctx context.Context, tenantID, userID, question, answer string) error

	// History returns the most recent limit turns, oldest first
	History(ctx context.Context, tenantID, userID string, limit int) ([]domain.Turn, error)

	// Clear removes the conversation
	Clear(ctx context.Context, tenantID, userID string) error

	// Contextualize rewrites a follow-up into a standalone query.
	// With empty history the query is returned unchanged.
	Contextualize(ctx context.Context, query string, history []domain.Turn) (string, error)
}
