package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries and reservation markers in Redis with TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "pagepush:idem:"}
}

// Client exposes the connection so the rate limiter can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) entryKey(keyHash string) string {
	return s.prefix + keyHash
}

func (s *RedisStore) lockKey(keyHash string) string {
	return s.prefix + "lock:" + keyHash
}

func (s *RedisStore) Lookup(ctx context.Context, keyHash string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(keyHash)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency entry: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) Reserve(ctx context.Context, keyHash string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(keyHash), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Save(ctx context.Context, entry Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, s.entryKey(entry.KeyHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save idempotency entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, keyHash string) error {
	if err := s.client.Del(ctx, s.lockKey(keyHash)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
