package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/config"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/redis/go-redis/v9"
)

const resultKeyPrefix = "sdp:result"

// ResultCache stores solved instances keyed by the parameter hash, so an
// identical request skips the solve entirely.
type ResultCache interface {
	GetResult(ctx context.Context, paramsHash string) (*domain.SolveResult, bool, error)
	SetResult(ctx context.Context, result *domain.SolveResult) error
	InvalidateAll(ctx context.Context) error
}

type redisResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopResultCache struct{}

func NewResultCache(cfg config.CacheConfig) (ResultCache, error) {
	if !cfg.Enabled {
		return &noopResultCache{}, nil
	}

	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &redisResultCache{client: client, ttl: ttl}, nil
}

// NewRedisResultCache wraps an existing client.
func NewRedisResultCache(client *redis.Client, ttl time.Duration) ResultCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &redisResultCache{client: client, ttl: ttl}
}

func NewNoopResultCache() ResultCache {
	return &noopResultCache{}
}

func (c *redisResultCache) GetResult(ctx context.Context, paramsHash string) (*domain.SolveResult, bool, error) {
	payload, err := c.client.Get(ctx, buildKey(resultKeyPrefix, paramsHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var result domain.SolveResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false, fmt.Errorf("decode solve result cache: %w", err)
	}
	return &result, true, nil
}

func (c *redisResultCache) SetResult(ctx context.Context, result *domain.SolveResult) error {
	if result == nil || result.ParamsHash == "" {
		return fmt.Errorf("solve result without parameter hash cannot be cached")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode solve result cache: %w", err)
	}

	if err := c.client.Set(ctx, buildKey(resultKeyPrefix, result.ParamsHash), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisResultCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, resultKeyPrefix, scanBatchSize)
}

func (n *noopResultCache) GetResult(ctx context.Context, paramsHash string) (*domain.SolveResult, bool, error) {
	return nil, false, nil
}

func (n *noopResultCache) SetResult(ctx context.Context, result *domain.SolveResult) error {
	return nil
}

func (n *noopResultCache) InvalidateAll(ctx context.Context) error {
	return nil
}
