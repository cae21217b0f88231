package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.ConversationStore = (*ConversationStore)(nil)

type conversationLog struct {
	mu       sync.Mutex
	turns    []domain.Turn
	lastSeen time.Time
	// dropped is set once the log leaves the map; writers must look it up again
	dropped bool
}

// ConversationStore keeps conversation logs in process. Each log has its
// own mutex, so appends to one key never wait on another. Expired logs are
// swept from the map at most once per TTL, when a new key is created.
type ConversationStore struct {
	mu        sync.Mutex
	logs      map[string]*conversationLog
	policy    domain.MemoryPolicy
	now       func() time.Time
	lastSweep time.Time
}

// NewConversationStore creates a store bounded by policy
func NewConversationStore(policy domain.MemoryPolicy) *ConversationStore {
	return &ConversationStore{
		logs:   make(map[string]*conversationLog),
		policy: policy,
		now:    time.Now,
	}
}

func (s *ConversationStore) log(key domain.ConversationKey, create bool) *conversationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[key.String()]
	if !ok && create {
		s.sweep(s.now())
		l = &conversationLog{}
		s.logs[key.String()] = l
	}
	return l
}

// sweep drops expired logs. Caller holds s.mu.
func (s *ConversationStore) sweep(now time.Time) {
	if s.policy.TTL <= 0 || now.Sub(s.lastSweep) < s.policy.TTL {
		return
	}
	s.lastSweep = now
	for k, l := range s.logs {
		l.mu.Lock()
		if s.expired(l, now) {
			l.dropped = true
			l.turns = nil
			delete(s.logs, k)
		}
		l.mu.Unlock()
	}
}

// Append adds turns and trims the log under the key's lock
func (s *ConversationStore) Append(ctx context.Context, key domain.ConversationKey, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	l := s.log(key, true)
	l.mu.Lock()
	for l.dropped {
		l.mu.Unlock()
		l = s.log(key, true)
		l.mu.Lock()
	}
	defer l.mu.Unlock()

	now := s.now()
	if s.expired(l, now) {
		l.turns = nil
	}
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = now.UTC()
		}
		l.turns = append(l.turns, t)
	}
	if max := s.policy.MaxMessages; max > 0 && len(l.turns) > max {
		l.turns = append([]domain.Turn(nil), l.turns[len(l.turns)-max:]...)
	}
	l.lastSeen = now
	return nil
}

// expired reports whether the log outlived the TTL since its last write
func (s *ConversationStore) expired(l *conversationLog, now time.Time) bool {
	return s.policy.TTL > 0 && !l.lastSeen.IsZero() && now.Sub(l.lastSeen) > s.policy.TTL
}

// Range returns up to limit of the newest live turns, oldest first
func (s *ConversationStore) Range(ctx context.Context, key domain.ConversationKey, limit int) ([]domain.Turn, error) {
	l := s.log(key, false)
	if l == nil || limit <= 0 {
		return []domain.Turn{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := s.now()
	if s.expired(l, now) {
		return []domain.Turn{}, nil
	}
	turns := l.turns
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := append([]domain.Turn(nil), s.policy.Prune(turns, now)...)
	if out == nil {
		out = []domain.Turn{}
	}
	return out, nil
}

// Clear drops the log. An Append racing with Clear lands either before
// it (and is cleared) or in a fresh log after it.
func (s *ConversationStore) Clear(ctx context.Context, key domain.ConversationKey) error {
	s.mu.Lock()
	l, ok := s.logs[key.String()]
	delete(s.logs, key.String())
	s.mu.Unlock()
	if !ok {
		return nil
	}
	l.mu.Lock()
	l.dropped = true
	l.turns = nil
	l.mu.Unlock()
	return nil
}

// Ping always succeeds
func (s *ConversationStore) Ping(ctx context.Context) error {
	return nil
}
