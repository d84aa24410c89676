package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL = time.Hour
	scanBatchSize   = 100
	pingTimeout     = 5 * time.Second
)

// newRedisClient connects with cfg and returns the client together with the
// TTL entries should be written with.
func newRedisClient(cfg config.CacheConfig) (*redis.Client, time.Duration, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, 0, err
	}
	opts.DialTimeout = pingTimeout
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, 0, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return client, ttlFrom(cfg.ResultTTLSeconds), nil
}

func ttlFrom(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultCacheTTL
	}
	return time.Duration(seconds) * time.Second
}

// redisOptions prefers REDIS_URL and otherwise assembles the address from host
// and port, defaulting to a local server.
func redisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}

	host, port := cfg.RedisHost, cfg.RedisPort
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "6379"
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

// buildKey joins parts under prefix, hashing them when they would make an
// unwieldy key.
func buildKey(prefix string, parts ...string) string {
	raw := strings.Join(parts, "|")
	if len(raw) <= 64 && !strings.ContainsAny(raw, " *?[]") {
		return prefix + ":" + raw
	}
	sum := sha1.Sum([]byte(raw))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// deleteKeysWithPrefix walks the keyspace with SCAN and unlinks every match,
// one pipeline per batch.
func deleteKeysWithPrefix(ctx context.Context, client *redis.Client, prefix string, batchSize int64) error {
	iter := client.Scan(ctx, 0, prefix+"*", batchSize).Iterator()
	batch := make([]string, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := client.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.Unlink(ctx, batch...)
			return nil
		})
		batch = batch[:0]
		if err != nil {
			return fmt.Errorf("unlink %s*: %w", prefix, err)
		}
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s*: %w", prefix, err)
	}
	return flush()
}
