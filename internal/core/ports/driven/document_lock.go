package driven

import (
	"context"
	"time"
)

// DocumentLock gives one writer at a time the right to rewrite a tenant's
// document, across API replicas and workers.
type DocumentLock interface {
	// Acquire takes name for ttl. It reports false, nil while another
	// writer holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Release drops name if this holder owns it. An expired or foreign
	// lock is left alone and is not an error.
	Release(ctx context.Context, name string) error

	// Extend moves the expiry of a held lock to ttl from now. It fails with
	// domain.ErrLockNotAcquired once the lock has been lost.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	Ping(ctx context.Context) error
}

// DocumentLockName is the lock held while (tenantID, sourceFile) is written
func DocumentLockName(tenantID, sourceFile string) string {
	return "ingest:" + tenantID + ":" + sourceFile
}
