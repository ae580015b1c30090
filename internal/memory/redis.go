package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/autostream/leadflow/internal/models"
)

const redisKeyPrefix = "leadflow:thread:"

// RedisStore implements Store with one JSON value per thread
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config *Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisURL,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: config.RedisTTL}, nil
}

func (s *RedisStore) Get(ctx context.Context, threadID string) (*models.ConversationState, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+threadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}

	var state models.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread %s: %w", threadID, err)
	}
	return &state, nil
}

// Put stores the state, refreshing the TTL when one is configured
func (s *RedisStore) Put(ctx context.Context, state *models.ConversationState) error {
	if state == nil || state.ThreadID == "" {
		return errors.New("state must have a thread id")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal thread %s: %w", state.ThreadID, err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+state.ThreadID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store thread %s: %w", state.ThreadID, err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	count := int64(0)
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
