package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.DocumentLock = (*Lock)(nil)

// DefaultLockPrefix namespaces lock keys, e.g. "rag:lock:ingest:acme:handbook.md"
const DefaultLockPrefix = "rag:lock:"

// Lock implements DocumentLock with SET NX PX and an owner token.
// Only the instance that acquired a lock can extend or release it.
type Lock struct {
	client  redis.UniversalClient
	prefix  string
	ownerID string
}

// NewLock creates a lock using DefaultLockPrefix
func NewLock(client redis.UniversalClient) *Lock {
	return NewLockWithPrefix(client, DefaultLockPrefix)
}

// NewLockWithPrefix creates a lock whose keys start with prefix
func NewLockWithPrefix(client redis.UniversalClient, prefix string) *Lock {
	return &Lock{
		client:  client,
		prefix:  prefix,
		ownerID: newOwnerID(),
	}
}

// newOwnerID returns hostname:pid:random
func newOwnerID() string {
	hostname, _ := os.Hostname()
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(b))
}

func (l *Lock) key(name string) string {
	return l.prefix + name
}

// Acquire takes the lock if nobody holds it
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, domain.NewValidationError("lock", "ttl must be positive")
	}
	ok, err := l.client.SetNX(ctx, l.key(name), l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// compare-and-delete
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release drops the lock when this instance owns it. A lock that expired
// or moved to another owner is left alone.
func (l *Lock) Release(ctx context.Context, name string) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// compare-and-pexpire
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Extend pushes the expiry of a held lock out to ttl from now.
// Returns domain.ErrLockNotAcquired when the lock is no longer ours.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: %w", name, domain.ErrLockNotAcquired)
	}
	return nil
}

// Ping checks the Redis connection
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
