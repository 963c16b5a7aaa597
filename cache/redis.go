// Package cache is the redis-backed read-through cache for resume summaries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/mockprep/models"
	"github.com/redis/go-redis/v9"
)

const (
	summaryKeyPrefix    = "mockprep:resume_summary:"
	generationKeyPrefix = "mockprep:resume_summary_gen:"

	// outlives any database read that could race an invalidation
	generationTTL = 24 * time.Hour
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// SummaryCache stores one JSON encoded ResumeSummary per user.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache connects to redis and pings it once.
func NewSummaryCache(ctx context.Context, cfg Config) (*SummaryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	slog.Info("Connected to redis cache", "addr", cfg.Addr, "db", cfg.DB)
	return NewSummaryCacheWithClient(client, cfg.TTL), nil
}

func NewSummaryCacheWithClient(client *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SummaryCache{client: client, ttl: ttl}
}

// Get returns the cached summary, or nil on a miss.
func (c *SummaryCache) Get(ctx context.Context, userID string) (*models.ResumeSummary, error) {
	data, err := c.client.Get(ctx, summaryKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var summary models.ResumeSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		// a corrupt entry is treated as a miss and dropped
		slog.Warn("Dropping unreadable cached summary", "user_id", userID, "error", err)
		_ = c.Invalidate(ctx, userID)
		return nil, nil
	}
	return &summary, nil
}

// ErrStale is returned by Populate when the summary changed while it was
// being loaded.
var ErrStale = errors.New("cached summary was invalidated during load")

// Generation returns the invalidation counter of a user. Read it before
// loading the summary from the database and pass it to Populate.
func (c *SummaryCache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return gen, nil
}

// Populate stores a summary loaded from the database unless Invalidate ran
// after gen was read. A lost race returns ErrStale and leaves the cache empty.
func (c *SummaryCache) Populate(ctx context.Context, summary *models.ResumeSummary, gen int64) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	genKey := generationKey(summary.UserID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, summaryKey(summary.UserID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	default:
		return fmt.Errorf("redis set failed: %w", err)
	}
}

// Invalidate drops the cached summary and bumps the generation so that
// loads already in flight do not repopulate it.
func (c *SummaryCache) Invalidate(ctx context.Context, userID string) error {
	genKey := generationKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, summaryKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping is used by the health check.
func (c *SummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *SummaryCache) Close() error {
	return c.client.Close()
}

func summaryKey(userID string) string {
	return summaryKeyPrefix + userID
}

func generationKey(userID string) string {
	return generationKeyPrefix + userID
}
