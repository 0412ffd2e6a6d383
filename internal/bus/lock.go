package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CycleLockKey guards against overlapping wake-up cycles across processes.
const CycleLockKey = streamPrefix + "cycle-lock"

// release deletes the key only if it still holds our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CycleLock is a Redis SET NX PX lock.
type CycleLock struct {
	rdb    *redis.Client
	key    string
	logger *zap.Logger
}

// NewCycleLock creates a lock on CycleLockKey.
func NewCycleLock(rdb *redis.Client, logger *zap.Logger) *CycleLock {
	return &CycleLock{rdb: rdb, key: CycleLockKey, logger: logger}
}

// Acquire takes the lock for at most ttl. ok is false when another holder
// has it.
func (l *CycleLock) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// the caller's context may be done by now
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("release cycle lock", zap.Error(err))
		}
	}, true, nil
}
