package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/miradorstack/mirador-autoheal/internal/models"
)

// RedisConfig holds connection parameters for a Redis or Valkey server.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
	Key          string
	MaxLen       int64
	DedupeTTL    time.Duration
}

// RedisQueue stores intents as JSON in a Redis list (LPUSH / RPOP). Intent IDs
// are remembered for DedupeTTL so a replayed publish is dropped.
type RedisQueue struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

// NewRedisQueue creates the client. Connecting is lazy; call Ping to fail fast.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	normalise(&cfg)

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &RedisQueue{client: redis.NewClient(opts), cfg: cfg}, nil
}

// Ping checks connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Publish implements Queue.
func (q *RedisQueue) Publish(ctx context.Context, intent models.RemediationIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}

	if intent.ID != "" {
		fresh, err := q.client.SetNX(ctx, q.seenKey(intent.ID), 1, q.cfg.DedupeTTL).Result()
		if err != nil {
			return fmt.Errorf("dedupe intent: %w", err)
		}
		if !fresh {
			return nil
		}
	}

	if q.cfg.MaxLen > 0 {
		n, err := q.client.LLen(ctx, q.cfg.Key).Result()
		if err != nil {
			return fmt.Errorf("intent queue length: %w", err)
		}
		if n >= q.cfg.MaxLen {
			if intent.ID != "" {
				_ = q.client.Del(ctx, q.seenKey(intent.ID)).Err()
			}
			return ErrQueueFull
		}
	}

	if err := q.client.LPush(ctx, q.cfg.Key, data).Err(); err != nil {
		return fmt.Errorf("enqueue intent: %w", err)
	}
	return nil
}

// Drain implements Queue. Entries that fail to decode are discarded.
func (q *RedisQueue) Drain(ctx context.Context, max int) ([]models.RemediationIntent, error) {
	var out []models.RemediationIntent
	for max <= 0 || len(out) < max {
		data, err := q.client.RPop(ctx, q.cfg.Key).Bytes()
		if errors.Is(err, redis.Nil) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("dequeue intent: %w", err)
		}
		var intent models.RemediationIntent
		if err := json.Unmarshal(data, &intent); err != nil {
			continue
		}
		out = append(out, intent)
	}
	return out, nil
}

// Close implements Queue.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) seenKey(id string) string {
	return q.cfg.Key + ":seen:" + id
}

func normalise(cfg *RedisConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.Key == "" {
		cfg.Key = "autoheal:intents"
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = time.Hour
	}
}
