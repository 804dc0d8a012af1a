package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microservices-demo/orders/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const _defaultTTL = 24 * time.Hour

// RedisStore maps request ids to the order they produced. Entries expire
// after ttl; the first order recorded for a request id wins.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(cfg *config.Redis, serviceName string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisStore(client, serviceName, cfg.TTL)
}

func newRedisStore(client *redis.Client, serviceName string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = _defaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: serviceName,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(requestID uuid.UUID) string {
	return fmt.Sprintf("%s:request:%s", s.prefix, requestID)
}

func (s *RedisStore) Lookup(ctx context.Context, requestID uuid.UUID) (uuid.UUID, bool, error) {
	const op = "idempotency.RedisStore.Lookup"

	val, err := s.client.Get(ctx, s.key(requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%s: %w", op, err)
	}

	orderID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%s: stored value %q: %w", op, val, err)
	}
	return orderID, true, nil
}

func (s *RedisStore) Remember(ctx context.Context, requestID, orderID uuid.UUID) error {
	const op = "idempotency.RedisStore.Remember"

	if err := s.client.SetNX(ctx, s.key(requestID), orderID.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("idempotency.RedisStore.Ping: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
