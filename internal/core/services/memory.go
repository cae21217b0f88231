package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// Ensure conversationMemory implements ConversationMemory
var _ driving.ConversationMemory = (*conversationMemory)(nil)

// DefaultHistoryLimit is the number of turns read for contextualization
const DefaultHistoryLimit = 5

// conversationMemory implements the ConversationMemory interface
type conversationMemory struct {
	store    driven.ConversationStore
	caps     *runtime.Capabilities
	timeouts Timeouts
	logger   *zap.Logger
}

// NewConversationMemory creates a conversation memory over store.
// Query rewriting uses the LLM registered in caps.
func NewConversationMemory(store driven.ConversationStore, caps *runtime.Capabilities, timeouts Timeouts, logger *zap.Logger) driving.ConversationMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &conversationMemory{
		store:    store,
		caps:     caps,
		timeouts: timeouts,
		logger:   logger,
	}
}

// Append adds one turn
func (m *conversationMemory) Append(ctx context.Context, tenantID, userID string, role domain.TurnRole, content string) error {
	key := domain.ConversationKey{TenantID: tenantID, UserID: userID}
	if err := key.Validate(); err != nil {
		return err
	}
	if !role.Valid() {
		return domain.NewValidationError("memory", "unknown turn role %q", role)
	}
	return runWithTimeout(ctx, "memory.append", m.timeouts.Memory, func(ctx context.Context) error {
		return m.store.Append(ctx, key, domain.NewTurn(role, content))
	})
}

// AppendExchange adds the user turn and the assistant reply in one store write
func (m *conversationMemory) AppendExchange(ctx context.Context, tenantID, userID, question, answer string) error {
	key := domain.ConversationKey{TenantID: tenantID, UserID: userID}
	if err := key.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return runWithTimeout(ctx, "memory.append", m.timeouts.Memory, func(ctx context.Context) error {
		return m.store.Append(ctx, key,
			domain.Turn{Role: domain.TurnUser, Content: question, Timestamp: now},
			domain.Turn{Role: domain.TurnAssistant, Content: answer, Timestamp: now},
		)
	})
}

// History returns the most recent limit turns, oldest first
func (m *conversationMemory) History(ctx context.Context, tenantID, userID string, limit int) ([]domain.Turn, error) {
	key := domain.ConversationKey{TenantID: tenantID, UserID: userID}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return callWithTimeout(ctx, "memory.history", m.timeouts.Memory, func(ctx context.Context) ([]domain.Turn, error) {
		return m.store.Range(ctx, key, limit)
	})
}

// Clear removes the conversation
func (m *conversationMemory) Clear(ctx context.Context, tenantID, userID string) error {
	key := domain.ConversationKey{TenantID: tenantID, UserID: userID}
	if err := key.Validate(); err != nil {
		return err
	}
	return runWithTimeout(ctx, "memory.clear", m.timeouts.Memory, func(ctx context.Context) error {
		return m.store.Clear(ctx, key)
	})
}

type rewriteResult struct {
	Rewrite bool   `json:"rewrite"`
	Query   string `json:"query"`
}

// Contextualize turns a follow-up into a standalone question.
//
// The query comes back unchanged when history is empty, when it is social
// chatter, when no rewriter is registered, and when the rewriter fails,
// declines or returns an unusable rewrite. A rewriter timeout is returned as
// an UpstreamTimeoutError and cancellation of ctx as is.
func (m *conversationMemory) Contextualize(ctx context.Context, query string, history []domain.Turn) (string, error) {
	if len(history) == 0 || IsSocial(query) {
		return query, nil
	}

	rewriter := m.caps.LLM()
	if rewriter == nil {
		return query, nil
	}

	raw, err := callWithTimeout(ctx, "rewrite", m.timeouts.Rewrite, func(ctx context.Context) (string, error) {
		return rewriter.RewriteQuery(ctx, query, history)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrUpstreamTimeout) {
			return "", err
		}
		m.logger.Warn("query rewrite failed, using original query", zap.Error(err))
		return query, nil
	}

	rewritten, err := parseRewrite(raw)
	if err != nil {
		m.logger.Warn("query rewrite unparseable, using original query", zap.Error(err))
		return query, nil
	}
	if rewritten == "" {
		return query, nil
	}
	if !plausibleRewrite(query, rewritten) {
		m.logger.Warn("query rewrite rejected as too long",
			zap.Int("original_runes", len([]rune(query))),
			zap.Int("rewrite_runes", len([]rune(rewritten))),
		)
		return query, nil
	}
	return rewritten, nil
}

func parseRewrite(raw string) (string, error) {
	object, err := extractJSONObject(raw)
	if err != nil {
		return "", err
	}
	var r rewriteResult
	if err := json.Unmarshal([]byte(object), &r); err != nil {
		return "", fmt.Errorf("decode rewrite: %w", err)
	}
	if !r.Rewrite {
		return "", nil
	}
	return cleanRewrite(r.Query), nil
}

var rewritePrefixes = []string{
	"standalone question:",
	"standalone query:",
	"rewritten question:",
	"rewritten query:",
	"question:",
	"query:",
}

// cleanRewrite strips label prefixes and wrapping quotes from a rewrite
func cleanRewrite(s string) string {
	s = strings.TrimSpace(s)
	for {
		lower := strings.ToLower(s)
		stripped := false
		for _, p := range rewritePrefixes {
			if strings.HasPrefix(lower, p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	s = strings.Trim(s, "\"'`“”‘’")
	return strings.TrimSpace(s)
}

// plausibleRewrite bounds how much a rewrite may grow relative to the query
func plausibleRewrite(query, rewrite string) bool {
	q := len([]rune(query))
	return len([]rune(rewrite)) <= 3*q+200
}

var socialPhrases = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hi there": true, "hello there": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"thanks": true, "thank you": true, "thanks a lot": true, "thank you very much": true, "many thanks": true,
	"ok": true, "okay": true, "ok thanks": true, "okay thanks": true, "great": true, "cool": true, "nice": true,
	"got it": true, "i see": true, "bye": true, "goodbye": true, "see you": true,
	"how are you": true, "how are you doing": true, "who are you": true, "what can you do": true,
	"xin chào": true, "chào": true, "chào bạn": true, "cảm ơn": true, "cám ơn": true, "cảm ơn bạn": true,
	"tạm biệt": true,
}

var socialOpeners = []string{"hi", "hello", "hey", "thanks", "thank you", "chào", "xin chào", "cảm ơn"}

var questionWords = map[string]bool{
	"what": true, "what's": true, "whats": true, "how": true, "how's": true,
	"where": true, "where's": true, "when": true, "who": true, "who's": true,
	"why": true, "which": true, "can": true, "could": true, "is": true,
	"are": true, "do": true, "does": true, "should": true,
}

// IsSocial reports whether query is a greeting, thanks or small talk
func IsSocial(query string) bool {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if w = strings.TrimFunc(w, unicode.IsPunct); w != "" {
			words = append(words, w)
		}
	}
	normalized := strings.Join(words, " ")
	if normalized == "" {
		return false
	}
	if socialPhrases[normalized] {
		return true
	}

	if len(words) > 4 {
		return false
	}
	// punctuation is gone from words, so look at the raw query
	asks := strings.ContainsAny(query, "?？")
	for _, opener := range socialOpeners {
		if normalized == opener || strings.HasPrefix(normalized, opener+" ") {
			rest := strings.TrimSpace(strings.TrimPrefix(normalized, opener))
			if rest == "" || socialPhrases[rest] {
				return true
			}
			tail := strings.Fields(rest)
			if len(tail) <= 2 && !asks && !questionWords[tail[0]] {
				return true
			}
		}
	}
	return false
}
