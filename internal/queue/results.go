package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultStore keeps queued-analysis outcomes and progress updates in Redis.
type ResultStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResultStore creates a result store from a Redis URL.
func NewResultStore(redisURL string, ttl time.Duration) (*ResultStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &ResultStore{rdb: redis.NewClient(opts), ttl: ttl}, nil
}

// Ping verifies connectivity.
func (rs *ResultStore) Ping(ctx context.Context) error {
	return rs.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (rs *ResultStore) Close() error {
	return rs.rdb.Close()
}

func resultKey(requestID string) string {
	return "analyze:result:" + requestID
}

func progressChannel(requestID string) string {
	return "analyze:progress:" + requestID
}

// SetResult stores an outcome document under the request id with the
// configured TTL.
func (rs *ResultStore) SetResult(ctx context.Context, requestID string, body []byte) error {
	if err := rs.rdb.Set(ctx, resultKey(requestID), body, rs.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result for %s: %w", requestID, err)
	}
	return nil
}

// GetResult returns the stored outcome, or nil when none exists.
func (rs *ResultStore) GetResult(ctx context.Context, requestID string) ([]byte, error) {
	data, err := rs.rdb.Get(ctx, resultKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result for %s: %w", requestID, err)
	}
	return data, nil
}

// progressUpdate is one stage notification for a queued analysis.
type progressUpdate struct {
	RequestID string    `json:"requestId"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishProgress notifies subscribers of a stage change. Best effort.
func (rs *ResultStore) PublishProgress(ctx context.Context, requestID, stage string) {
	data, _ := json.Marshal(progressUpdate{
		RequestID: requestID,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	})
	if err := rs.rdb.Publish(ctx, progressChannel(requestID), data).Err(); err != nil {
		log.Printf("[Queue] WARNING: failed to publish progress for %s: %v", requestID, err)
	}
}
