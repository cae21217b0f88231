package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.ConversationStore = (*ConversationStore)(nil)

// ConversationStore keeps each conversation as a Redis list of JSON turns
// under "chat_history:{tenant}:{user}". Appends push, trim and refresh the
// expiry inside one MULTI/EXEC so readers never observe an over-length list.
type ConversationStore struct {
	client redis.UniversalClient
	policy domain.MemoryPolicy
	logger *zap.Logger
	now    func() time.Time
}

// NewConversationStore creates a store bounded by policy
func NewConversationStore(client redis.UniversalClient, policy domain.MemoryPolicy, logger *zap.Logger) *ConversationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationStore{
		client: client,
		policy: policy,
		logger: logger.Named("conversation_store"),
		now:    time.Now,
	}
}

// Append pushes turns to the tail of the log
func (s *ConversationStore) Append(ctx context.Context, key domain.ConversationKey, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = s.now().UTC()
		}
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, data)
	}

	k := key.String()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, values...)
		if s.policy.MaxMessages > 0 {
			pipe.LTrim(ctx, k, int64(-s.policy.MaxMessages), -1)
		}
		if s.policy.TTL > 0 {
			pipe.Expire(ctx, k, s.policy.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

// Range returns up to limit of the newest turns, oldest first.
// Turns older than the policy TTL are skipped even if the key has not expired.
func (s *ConversationStore) Range(ctx context.Context, key domain.ConversationKey, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return []domain.Turn{}, nil
	}
	raw, err := s.client.LRange(ctx, key.String(), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}

	turns := make([]domain.Turn, 0, len(raw))
	for _, item := range raw {
		var t domain.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil || !t.Role.Valid() {
			s.logger.Warn("skipping unreadable turn", zap.String("tenant_id", key.TenantID))
			continue
		}
		turns = append(turns, t)
	}
	return s.policy.Prune(turns, s.now()), nil
}

// Clear deletes the log
func (s *ConversationStore) Clear(ctx context.Context, key domain.ConversationKey) error {
	if err := s.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *ConversationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
