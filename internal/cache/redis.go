package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"livepoll-backend/internal/model"
)

// RedisClient wraps the Redis client for poll result caching
type RedisClient struct {
	client    *redis.Client
	resultTTL time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int, resultTTL time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return NewWithClient(client, resultTTL), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, resultTTL time.Duration) *RedisClient {
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &RedisClient{client: client, resultTTL: resultTTL}
}

// Client exposes the underlying client (shared with the presence relay)
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

func resultsKey(pollID int64) string {
	return fmt.Sprintf("poll:%d:results", pollID)
}

// SetResults stores the final results of a completed poll
func (r *RedisClient) SetResults(ctx context.Context, pollID int64, results []model.OptionResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, resultsKey(pollID), data, r.resultTTL).Err(); err != nil {
		log.Printf("[Redis] Failed to cache results for poll %d: %v", pollID, err)
		return err
	}
	return nil
}

// GetResults returns cached results; ok is false on a miss
func (r *RedisClient) GetResults(ctx context.Context, pollID int64) ([]model.OptionResult, bool, error) {
	val, err := r.client.Get(ctx, resultsKey(pollID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var results []model.OptionResult
	if err := json.Unmarshal([]byte(val), &results); err != nil {
		return nil, false, err
	}
	return results, true, nil
}

// DeleteResults removes cached results of a deleted poll
func (r *RedisClient) DeleteResults(ctx context.Context, pollID int64) error {
	return r.client.Del(ctx, resultsKey(pollID)).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
