package domain

import (
	"strings"
	"time"
)

// TurnRole identifies who produced a conversation turn
type TurnRole string

const (
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
)

// Valid reports whether the role is a known turn role
func (r TurnRole) Valid() bool {
	return r == TurnUser || r == TurnAssistant
}

// Turn is one message in a conversation log
type Turn struct {
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// NewTurn creates a turn stamped with the current time
func NewTurn(role TurnRole, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// ConversationKey identifies a conversation log
type ConversationKey struct {
	TenantID string
	UserID   string
}

// Validate rejects keys missing tenant or user
func (k ConversationKey) Validate() error {
	if strings.TrimSpace(k.TenantID) == "" {
		return NewScopeViolation("memory", "tenant_id is required")
	}
	if strings.TrimSpace(k.UserID) == "" {
		return NewValidationError("memory", "user_id is required")
	}
	return nil
}

// String returns the storage key "chat_history:{tenant}:{user}"
func (k ConversationKey) String() string {
	return "chat_history:" + k.TenantID + ":" + k.UserID
}

// MemoryPolicy bounds a conversation log by count and by age
type MemoryPolicy struct {
	MaxMessages int
	TTL         time.Duration
}

// DefaultMemoryPolicy returns the standard bounds
func DefaultMemoryPolicy() MemoryPolicy {
	return MemoryPolicy{
		MaxMessages: 20,
		TTL:         24 * time.Hour,
	}
}

// Prune applies both bounds to an oldest-first slice of turns.
// Turns older than TTL relative to now are dropped, then only the newest MaxMessages are kept.
func (p MemoryPolicy) Prune(turns []Turn, now time.Time) []Turn {
	start := 0
	if p.TTL > 0 {
		cutoff := now.Add(-p.TTL)
		for start < len(turns) && !turns[start].Timestamp.IsZero() && turns[start].Timestamp.Before(cutoff) {
			start++
		}
	}
	if p.MaxMessages > 0 && len(turns)-start > p.MaxMessages {
		start = len(turns) - p.MaxMessages
	}
	return turns[start:]
}
