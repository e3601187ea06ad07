package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/database"
)

// RedisStore keeps credentials in Redis under a namespace prefix so several
// clients can share one instance.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisStore wraps client. namespace is prepended to every key.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) key(k string) string {
	return s.namespace + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "GetCredential", "GET")
	defer func() { end(err) }()

	value, err = s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "SetCredential", "SET")
	defer func() { end(err) }()

	if err = s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "DeleteCredentials", "DEL")
	defer func() { end(err) }()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err = s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
