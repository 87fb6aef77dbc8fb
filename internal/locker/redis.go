package locker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockNotHeld is returned when releasing a lock whose token no longer matches.
var ErrLockNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Redis is a Locker shared across processes. A held lock is renewed every
// ttl/3 until released, so work may outlive ttl; a crashed holder stops
// renewing and its lock expires after ttl.
type Redis struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.SugaredLogger
}

// NewRedis creates a Redis locker.
func NewRedis(rdb *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.SugaredLogger) *Redis {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{rdb: rdb, keyPrefix: keyPrefix, ttl: ttl, logger: logger}
}

// Lock retries SET NX with capped exponential backoff until it wins or ctx ends.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := r.keyPrefix + key
	token := uuid.NewString()
	backoff := 10 * time.Millisecond

	for {
		ok, err := r.rdb.SetNX(ctx, lockKey, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go r.keepAlive(lockKey, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			// Release must run even when the caller's ctx is already cancelled.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.unlock(relCtx, lockKey, token); err != nil {
				r.logger.Warnw("failed to release lock", "key", lockKey, "error", err)
			}
		})
	}, nil
}

// keepAlive extends the lock until stop is closed or the token is lost.
func (r *Redis) keepAlive(lockKey, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
		n, err := extendScript.Run(ctx, r.rdb, []string{lockKey}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			r.logger.Warnw("failed to extend lock", "key", lockKey, "error", err)
		case n == 0:
			r.logger.Errorw("lock lost before release", "key", lockKey)
			return
		}
	}
}

func (r *Redis) unlock(ctx context.Context, lockKey, token string) error {
	n, err := releaseScript.Run(ctx, r.rdb, []string{lockKey}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
