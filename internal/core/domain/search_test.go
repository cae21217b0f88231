package domain

import (
	"errors"
	"testing"
	"time"
)

func TestScopeValidate(t *testing.T) {
	if err := (Scope{TenantID: "acme", Role: 2}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, s := range []Scope{{Role: 1}, {TenantID: "acme"}, {TenantID: "  ", Role: 1}} {
		if err := s.Validate(); !errors.Is(err, ErrScopeViolation) {
			t.Errorf("expected scope violation for %+v, got %v", s, err)
		}
	}
}

func TestSearchOptionsPrefetchLimit(t *testing.T) {
	opts := DefaultSearchOptions()
	if opts.PrefetchLimit() != 40 {
		t.Errorf("expected 40, got %d", opts.PrefetchLimit())
	}
	if (SearchOptions{Limit: 5}).PrefetchLimit() != 10 {
		t.Error("expected default multiplier of 2")
	}
}

func TestNewPointUsesDeterministicID(t *testing.T) {
	chunk := ChunkRecord{TenantID: "acme", SourceFile: "a.md", Ordinal: 2}
	p := NewPoint(chunk, Vectors{})
	if p.ID != PointID("acme", "a.md", 2) {
		t.Errorf("unexpected point ID %s", p.ID)
	}
}

func TestAskRequestValidate(t *testing.T) {
	base := AskRequest{Query: "What is the leave policy?", TenantID: "acme", Role: 1, UserID: "u1"}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	short := base
	short.Query = "hi"
	if err := short.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	noTenant := base
	noTenant.TenantID = ""
	if err := noTenant.Validate(); !errors.Is(err, ErrScopeViolation) {
		t.Errorf("expected scope violation, got %v", err)
	}

	badMode := base
	badMode.Mode = "poetry"
	if err := badMode.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestMemoryPolicyPrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	turns := []Turn{
		{Role: TurnUser, Content: "old", Timestamp: now.Add(-48 * time.Hour)},
		{Role: TurnUser, Content: "a", Timestamp: now.Add(-3 * time.Minute)},
		{Role: TurnAssistant, Content: "b", Timestamp: now.Add(-2 * time.Minute)},
		{Role: TurnUser, Content: "c", Timestamp: now.Add(-1 * time.Minute)},
	}

	got := MemoryPolicy{MaxMessages: 10, TTL: 24 * time.Hour}.Prune(turns, now)
	if len(got) != 3 || got[0].Content != "a" {
		t.Errorf("expected TTL to drop the oldest turn, got %+v", got)
	}

	got = MemoryPolicy{MaxMessages: 2, TTL: 24 * time.Hour}.Prune(turns, now)
	if len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
		t.Errorf("expected count bound to keep newest two, got %+v", got)
	}
}

func TestConversationKey(t *testing.T) {
	k := ConversationKey{TenantID: "acme", UserID: "u1"}
	if k.String() != "chat_history:acme:u1" {
		t.Errorf("unexpected key %s", k.String())
	}
	if err := (ConversationKey{UserID: "u1"}).Validate(); !errors.Is(err, ErrScopeViolation) {
		t.Errorf("expected scope violation, got %v", err)
	}
}
