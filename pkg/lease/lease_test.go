package lease_test

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/crmflow/pkg/lease"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockers(t *testing.T) map[string]lease.Locker {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	return map[string]lease.Locker{
		"local": lease.NewLocal(),
		"redis": lease.NewRedis(client, ""),
	}
}

func TestLocker_Exclusive(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := lease.CadenceKey("t1", "c1", "lead-1")

			held, err := locker.TryAcquire(ctx, key, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, key, held.Key())

			_, err = locker.TryAcquire(ctx, key, time.Minute)
			require.ErrorIs(t, err, lease.ErrNotAcquired)

			other, err := locker.TryAcquire(ctx, lease.CadenceKey("t1", "c1", "lead-2"), time.Minute)
			require.NoError(t, err)
			require.NoError(t, other.Release(ctx))

			require.NoError(t, held.Release(ctx))
			require.NoError(t, held.Release(ctx))

			again, err := locker.TryAcquire(ctx, key, time.Minute)
			require.NoError(t, err)
			require.NoError(t, again.Release(ctx))
		})
	}
}

func TestRedis_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	locker := lease.NewRedis(client, "test:")

	first, err := locker.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	second, err := locker.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, first.Release(ctx))
	assert.True(t, mr.Exists("test:k"))

	require.NoError(t, second.Release(ctx))
	assert.False(t, mr.Exists("test:k"))
}

func TestAcquireWait(t *testing.T) {
	ctx := context.Background()
	locker := lease.NewLocal()

	held, err := locker.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = lease.AcquireWait(ctx, locker, "k", lease.Options{Wait: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	require.ErrorIs(t, err, lease.ErrNotAcquired)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = held.Release(ctx)
	}()

	l, err := lease.AcquireWait(ctx, locker, "k", lease.Options{Wait: time.Second, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx))
}

func TestWith_SerializesHolders(t *testing.T) {
	locker := lease.NewLocal()
	opts := lease.Options{Wait: 5 * time.Second, PollInterval: time.Millisecond}

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := lease.With(context.Background(), locker, "k", opts, func(context.Context) error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}

				time.Sleep(time.Millisecond)
				inside.Add(-1)

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestPostgres_AdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	locker := lease.NewPostgres(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	held, err := locker.TryAcquire(ctx, lease.FlowKey("t1", "f1", "lead-1"), 0)
	require.NoError(t, err)
	require.NoError(t, held.Release(ctx))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	_, err = locker.TryAcquire(ctx, lease.FlowKey("t1", "f1", "lead-1"), 0)
	require.ErrorIs(t, err, lease.ErrNotAcquired)

	assert.NoError(t, mock.ExpectationsWereMet())
}
