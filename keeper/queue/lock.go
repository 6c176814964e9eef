package queue

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Lock acquisition retries on contention before giving up, bounding the wait
// to roughly two seconds with the defaults below.
const (
	lockAttempts   uint = 10
	lockRetryDelay      = 200 * time.Millisecond
)

// ErrLockHeld is returned when the lock could not be acquired within the
// retry budget.
var ErrLockHeld = errors.New("lock is held")

// Locker hands out advisory, auto-expiring mutual-exclusion locks keyed by
// string. Locks guard business invariants upstream of the queue (per-user
// serialization); they are not used to protect the queue itself.
type Locker interface {
	// Acquire blocks, retrying up to the acquisition budget, until the lock
	// is held or the budget is exhausted. The lock auto-releases after ttl
	// even if Release is never called.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is one held acquisition.
type Lock interface {
	Release(ctx context.Context) error
}

// RedisLocker implements Locker with a single-node redis lock: SET NX PX with
// a random holder token, released by a compare-and-delete script so an
// expired lock reacquired by another holder is never deleted by the first.
type RedisLocker struct {
	rdb redis.UniversalClient
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token, err := acquireWithRetry(ctx, key, lockAttempts, lockRetryDelay, func(ctx context.Context, token string) (bool, error) {
		return l.rdb.SetNX(ctx, key, token, ttl).Result()
	})
	if err != nil {
		return nil, err
	}
	return &redisLock{rdb: l.rdb, key: key, token: token}, nil
}

// acquireWithRetry runs one acquisition loop over a backend try function,
// shared by the redis and in-memory lockers.
func acquireWithRetry(
	ctx context.Context,
	key string,
	attempts uint,
	delay time.Duration,
	try func(ctx context.Context, token string) (bool, error),
) (string, error) {
	token := uuid.NewString()
	err := retry.Do(
		func() error {
			ok, err := try(ctx, token)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if !ok {
				return ErrLockHeld
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

type redisLock struct {
	rdb   redis.UniversalClient
	key   string
	token string
}

func (rl *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, rl.rdb, []string{rl.key}, rl.token).Err()
}
