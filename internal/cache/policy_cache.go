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

const policyKeyPrefix = "sdp:policy"

// PolicyEntry is a cached extraction of one run under one criteria.
type PolicyEntry struct {
	Rows       []domain.ThresholdPolicyRow `json:"rows"`
	Thresholds []domain.CashThreshold      `json:"thresholds"`
	Mismatches int                         `json:"mismatches"`
}

// PolicyCache keeps re-extractions of persisted runs, which need the whole
// optimal table to recompute.
type PolicyCache interface {
	GetPolicy(ctx context.Context, runID int64, criteria domain.Criteria) (*PolicyEntry, bool, error)
	SetPolicy(ctx context.Context, runID int64, criteria domain.Criteria, entry *PolicyEntry) error
	InvalidateRun(ctx context.Context, runID int64) error
	InvalidateAll(ctx context.Context) error
}

type redisPolicyCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopPolicyCache struct{}

func NewPolicyCache(cfg config.CacheConfig) (PolicyCache, error) {
	if !cfg.Enabled {
		return &noopPolicyCache{}, nil
	}

	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &redisPolicyCache{client: client, ttl: ttl}, nil
}

// NewRedisPolicyCache wraps an existing client.
func NewRedisPolicyCache(client *redis.Client, ttl time.Duration) PolicyCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &redisPolicyCache{client: client, ttl: ttl}
}

func NewNoopPolicyCache() PolicyCache {
	return &noopPolicyCache{}
}

func policyKey(runID int64, criteria domain.Criteria) string {
	return buildKey(runPrefix(runID), string(criteria))
}

func runPrefix(runID int64) string {
	return fmt.Sprintf("%s:%d", policyKeyPrefix, runID)
}

func (c *redisPolicyCache) GetPolicy(ctx context.Context, runID int64, criteria domain.Criteria) (*PolicyEntry, bool, error) {
	payload, err := c.client.Get(ctx, policyKey(runID, criteria)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var entry PolicyEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, false, fmt.Errorf("decode policy cache: %w", err)
	}
	return &entry, true, nil
}

func (c *redisPolicyCache) SetPolicy(ctx context.Context, runID int64, criteria domain.Criteria, entry *PolicyEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode policy cache: %w", err)
	}
	if err := c.client.Set(ctx, policyKey(runID, criteria), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisPolicyCache) InvalidateRun(ctx context.Context, runID int64) error {
	return deleteKeysWithPrefix(ctx, c.client, runPrefix(runID)+":", scanBatchSize)
}

func (c *redisPolicyCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, policyKeyPrefix, scanBatchSize)
}

func (n *noopPolicyCache) GetPolicy(ctx context.Context, runID int64, criteria domain.Criteria) (*PolicyEntry, bool, error) {
	return nil, false, nil
}

func (n *noopPolicyCache) SetPolicy(ctx context.Context, runID int64, criteria domain.Criteria, entry *PolicyEntry) error {
	return nil
}

func (n *noopPolicyCache) InvalidateRun(ctx context.Context, runID int64) error {
	return nil
}

func (n *noopPolicyCache) InvalidateAll(ctx context.Context) error {
	return nil
}
