package favorites

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisSet keeps favorites in one Redis SET per user.
type RedisSet struct {
	client *redis.Client
	prefix string
}

func NewRedisSet(client *redis.Client, prefix string) *RedisSet {
	return &RedisSet{client: client, prefix: prefix}
}

func (r *RedisSet) key(userID string) string { return r.prefix + userID }

func (r *RedisSet) Contains(ctx context.Context, userID, stationID string) (bool, error) {
	return r.client.SIsMember(ctx, r.key(userID), stationID).Result()
}

func (r *RedisSet) Add(ctx context.Context, userID, stationID string) error {
	return r.client.SAdd(ctx, r.key(userID), stationID).Err()
}

func (r *RedisSet) Remove(ctx context.Context, userID, stationID string) error {
	return r.client.SRem(ctx, r.key(userID), stationID).Err()
}

func (r *RedisSet) Members(ctx context.Context, userID string) ([]string, error) {
	out, err := r.client.SMembers(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (r *RedisSet) Clear(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}

// RedisRecent keeps the recently viewed stations in a capped LIST.
type RedisRecent struct {
	client *redis.Client
	prefix string
}

func NewRedisRecent(client *redis.Client, prefix string) *RedisRecent {
	return &RedisRecent{client: client, prefix: prefix}
}

func (r *RedisRecent) Push(ctx context.Context, userID, stationID string, limit int) error {
	key := r.prefix + userID
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, key, 0, stationID)
		p.LPush(ctx, key, stationID)
		if limit > 0 {
			p.LTrim(ctx, key, 0, int64(limit-1))
		}
		return nil
	})
	return err
}

func (r *RedisRecent) List(ctx context.Context, userID string) ([]string, error) {
	return r.client.LRange(ctx, r.prefix+userID, 0, -1).Result()
}

func (r *RedisRecent) Clear(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.prefix+userID).Err()
}
