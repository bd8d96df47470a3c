package snapshot

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisStore is an alternative depositor for deployments that already run
// Redis for other services. It stores each key as a plain string value
// with no expiry, so the blob survives a restart exactly like a file
// would.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password string, db int, keyPrefix string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb, prefix: keyPrefix}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.redisKey(key), data, 0).Err()
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return val, err
}
