package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

const buildLockKey = "dataset:build:lock"

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-holder build lock. The TTL caps how long a crashed
// holder can block the next build.
type Locker struct {
	c   *Client
	ttl time.Duration
}

func NewLocker(c *Client, ttl time.Duration) *Locker {
	return &Locker{c: c, ttl: ttl}
}

func (l *Locker) TryLock(ctx context.Context, owner string) (func(context.Context) error, error) {
	token := owner + ":" + uuid.NewString()

	ok, err := l.c.rdb.SetNX(ctx, buildLockKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire build lock: %w", err)
	}
	if !ok {
		holder, _ := l.c.rdb.Get(ctx, buildLockKey).Result()
		return nil, &domain.AppError{
			Code:    domain.CodeConflict,
			Message: "another dataset build is running",
			Meta:    map[string]string{"holder": holder},
		}
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.c.rdb, []string{buildLockKey}, token).Err()
	}, nil
}
