package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// Store wraps the Redis client with the few operations checkout needs.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Claim sets key if it does not exist yet. It returns false when someone
// already claimed it within ttl.
func (s *Store) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, "exists", ttl).Result()
}

// Release removes a claim so a failed operation can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// GetDecimal returns the cached value and whether it was present.
func (s *Store) GetDecimal(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("cache: bad decimal at %s: %w", key, err)
	}
	return d, true, nil
}

func (s *Store) SetDecimal(ctx context.Context, key string, value decimal.Decimal, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value.String(), ttl).Err()
}

func IdempotencyKey(userID int, key string) string {
	return fmt.Sprintf("idempotent-key:%d:%s", userID, key)
}

func WebhookEventKey(gateway, eventID string) string {
	return fmt.Sprintf("webhook-event:%s:%s", gateway, eventID)
}

func TaxRateKey(regionCode string) string {
	return fmt.Sprintf("tax_rate:%s", regionCode)
}
