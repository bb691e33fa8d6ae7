package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// deletes the key only while it still carries our token
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

// RedisClient is the subset of go-redis a shared lease needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a Locker shared by every replica talking to the same Redis. The
// TTL bounds how long a crashed holder can keep a key.
type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	local  *Set
}

func NewRedis(client RedisClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, local: NewSet()}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := r.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, r.ttl).Result()
	if err != nil {
		releaseLocal()
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		releaseLocal()
		return nil, ErrOperationInProgress
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			// an expired or stolen lease is left alone; the TTL covers failures
			_ = r.client.Eval(ctx, releaseScript, []string{r.prefix + key}, token).Err()
			releaseLocal()
		})
	}, nil
}
