// Package redis keeps short-lived call state snapshots so operational
// tooling can inspect in-flight calls without touching the session registry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/entities"
	"github.com/siphio/phone-receptionist/server/domain/repositories"
)

const keyPrefix = "conversation:"

// StateStore implements repositories.StateStore on Redis with JSON values.
type StateStore struct {
	client *redis.Client
	logger *zap.Logger
}

var _ repositories.StateStore = (*StateStore)(nil)

// NewStateStore connects and pings; a store that cannot reach Redis at
// startup is a configuration error, not a runtime fallback.
func NewStateStore(url string, logger *zap.Logger) (*StateStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", opts.Addr))
	return &StateStore{client: client, logger: logger}, nil
}

// SaveSnapshot stores the record under the stream key with a TTL.
func (s *StateStore) SaveSnapshot(ctx context.Context, record *entities.CallRecord, ttl time.Duration) error {
	if record == nil || record.StreamID == "" {
		return errors.New("record with stream ID is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.SetEx(ctx, keyPrefix+record.StreamID, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored record, or nil when absent or expired.
func (s *StateStore) GetSnapshot(ctx context.Context, streamID string) (*entities.CallRecord, error) {
	value, err := s.client.Get(ctx, keyPrefix+streamID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var record entities.CallRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &record, nil
}

// DeleteSnapshot removes the stored record. Deleting an absent key is not an
// error.
func (s *StateStore) DeleteSnapshot(ctx context.Context, streamID string) error {
	if err := s.client.Del(ctx, keyPrefix+streamID).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *StateStore) Close() error {
	return s.client.Close()
}
