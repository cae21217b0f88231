package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func TestAdvisoryLock_AcquireReleaseOnSameConnection(t *testing.T) {
	db, mock := newMockDB(t)
	lock := NewAdvisoryLock(db)
	ctx := context.Background()
	key := lockKey("ingest:acme:a.md")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery("SELECT pg_advisory_unlock").WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	ok, err := lock.Acquire(ctx, "ingest:acme:a.md", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// held locally, no round trip
	ok, err = lock.Acquire(ctx, "ingest:acme:a.md", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, lock.Extend(ctx, "ingest:acme:a.md", time.Minute))

	require.NoError(t, lock.Release(ctx, "ingest:acme:a.md"))
	assert.ErrorIs(t, lock.Extend(ctx, "ingest:acme:a.md", time.Minute), domain.ErrLockNotAcquired)
	assert.NoError(t, lock.Release(ctx, "ingest:acme:a.md"))
}

func TestAdvisoryLock_HeldElsewhere(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := NewAdvisoryLock(db).Acquire(context.Background(), "ingest:acme:a.md", time.Minute)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockKey_Stable(t *testing.T) {
	assert.Equal(t, lockKey("a"), lockKey("a"))
	assert.NotEqual(t, lockKey("ingest:acme:a.md"), lockKey("ingest:globex:a.md"))
}
