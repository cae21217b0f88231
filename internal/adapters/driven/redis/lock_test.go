package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

const ingestLock = "ingest:acme:handbook.md"

func TestLock_OwnerIDsAreUnique(t *testing.T) {
	client, _ := setupTestRedis(t)

	if NewLock(client).ownerID == NewLock(client).ownerID {
		t.Error("expected unique owner IDs")
	}
}

func TestLock_AcquireIsExclusive(t *testing.T) {
	client, mr := setupTestRedis(t)
	worker1 := NewLock(client)
	worker2 := NewLock(client)
	ctx := context.Background()

	acquired, err := worker1.Acquire(ctx, ingestLock, time.Minute)
	if err != nil || !acquired {
		t.Fatalf("first acquire = %v, %v", acquired, err)
	}

	owner, err := mr.Get(DefaultLockPrefix + ingestLock)
	if err != nil {
		t.Fatalf("lock key missing: %v", err)
	}
	if owner != worker1.ownerID {
		t.Errorf("lock value = %q, want owner %q", owner, worker1.ownerID)
	}

	for _, l := range []*Lock{worker2, worker1} {
		acquired, err = l.Acquire(ctx, ingestLock, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if acquired {
			t.Error("expected acquire of a held lock to fail")
		}
	}

	acquired, err = worker2.Acquire(ctx, "ingest:acme:other.md", time.Minute)
	if err != nil || !acquired {
		t.Errorf("different document should be free, got %v, %v", acquired, err)
	}
}

func TestLock_RejectsNonPositiveTTL(t *testing.T) {
	client, _ := setupTestRedis(t)

	_, err := NewLock(client).Acquire(context.Background(), ingestLock, 0)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	if ok, _ := NewLock(client).Acquire(ctx, ingestLock, time.Second); !ok {
		t.Fatal("expected to acquire")
	}
	mr.FastForward(2 * time.Second)

	if ok, _ := NewLock(client).Acquire(ctx, ingestLock, time.Second); !ok {
		t.Error("expected expired lock to be free")
	}
}

func TestLock_ReleaseOnlyByOwner(t *testing.T) {
	client, _ := setupTestRedis(t)
	owner := NewLock(client)
	other := NewLock(client)
	ctx := context.Background()

	if err := owner.Release(ctx, ingestLock); err != nil {
		t.Errorf("releasing an unheld lock should succeed: %v", err)
	}

	if ok, _ := owner.Acquire(ctx, ingestLock, time.Minute); !ok {
		t.Fatal("expected to acquire")
	}
	if err := other.Release(ctx, ingestLock); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := other.Acquire(ctx, ingestLock, time.Minute); ok {
		t.Error("foreign release must not free the lock")
	}

	if err := owner.Release(ctx, ingestLock); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := other.Acquire(ctx, ingestLock, time.Minute); !ok {
		t.Error("expected lock to be free after owner release")
	}
}

func TestLock_Extend(t *testing.T) {
	client, mr := setupTestRedis(t)
	owner := NewLock(client)
	other := NewLock(client)
	ctx := context.Background()

	if err := owner.Extend(ctx, ingestLock, time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Errorf("extend of unheld lock: got %v", err)
	}

	if ok, _ := owner.Acquire(ctx, ingestLock, time.Second); !ok {
		t.Fatal("expected to acquire")
	}
	if err := other.Extend(ctx, ingestLock, time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Errorf("extend by other owner: got %v", err)
	}
	if err := owner.Extend(ctx, ingestLock, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}

	mr.FastForward(30 * time.Second)
	if ok, _ := other.Acquire(ctx, ingestLock, time.Minute); ok {
		t.Error("extended lock expired early")
	}
}

func TestLock_CustomPrefix(t *testing.T) {
	client, mr := setupTestRedis(t)

	if ok, _ := NewLockWithPrefix(client, "tenant-a:").Acquire(context.Background(), "job", time.Minute); !ok {
		t.Fatal("expected to acquire")
	}
	if !mr.Exists("tenant-a:job") {
		t.Error("expected prefixed key")
	}
}

func TestLock_Ping(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewLock(client)

	if err := lock.Ping(context.Background()); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
	mr.Close()
	if err := lock.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail after server shutdown")
	}
}
