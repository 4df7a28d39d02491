package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/config"
)

const defaultClaimPrefix = "fulfillment:claim:"

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimStore implements fulfillment.ClaimStore with SET NX PX, so claims
// are shared by every worker process pointing at the same Redis
type RedisClaimStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisClaimStore connects to Redis and verifies the connection
func NewRedisClaimStore(cfg config.RedisConfig) (*RedisClaimStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisClaimStoreWithClient(client, ""), nil
}

// NewRedisClaimStoreWithClient creates a store with an existing Redis client
func NewRedisClaimStoreWithClient(client *redis.Client, keyPrefix string) *RedisClaimStore {
	if keyPrefix == "" {
		keyPrefix = defaultClaimPrefix
	}
	return &RedisClaimStore{client: client, keyPrefix: keyPrefix}
}

// Claim sets the key with a fresh token if it does not exist
func (s *RedisClaimStore) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the key if token still owns it
func (s *RedisClaimStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.keyPrefix + key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisClaimStore) Close() error {
	return s.client.Close()
}

var _ fulfillment.ClaimStore = (*RedisClaimStore)(nil)
