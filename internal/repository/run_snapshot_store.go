package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

const (
	runSnapshotKeyPrefix  = "storybook:run:"
	defaultRunSnapshotTTL = 24 * time.Hour
)

// RunSnapshotStore зеркалирует снимки запусков в Redis, чтобы их было видно после рестарта.
type RunSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRunSnapshotStore создает хранилище снимков. ttl <= 0 заменяется на 24h.
func NewRunSnapshotStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunSnapshotStore {
	if ttl <= 0 {
		ttl = defaultRunSnapshotTTL
	}
	return &RunSnapshotStore{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisRunSnapshotStore"),
	}
}

// RunSnapshotKey ключ снимка в Redis.
func RunSnapshotKey(id uuid.UUID) string {
	return runSnapshotKeyPrefix + id.String()
}

// Save записывает снимок, продлевая TTL.
func (s *RunSnapshotStore) Save(ctx context.Context, snap domain.RunSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal run snapshot: %w", err)
	}
	if err := s.client.Set(ctx, RunSnapshotKey(snap.RunID), data, s.ttl).Err(); err != nil {
		s.logger.Warn("Failed to store run snapshot", zap.String("run_id", snap.RunID.String()), zap.Error(err))
		return &domain.PersistenceError{Op: "store run snapshot", Err: err}
	}
	return nil
}

// Get читает снимок. Отсутствующий ключ дает domain.ErrRunNotFound.
func (s *RunSnapshotStore) Get(ctx context.Context, id uuid.UUID) (*domain.RunSnapshot, error) {
	data, err := s.client.Get(ctx, RunSnapshotKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrRunNotFound
		}
		return nil, &domain.PersistenceError{Op: "load run snapshot", Err: err}
	}

	var snap domain.RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("Corrupted run snapshot in redis", zap.String("run_id", id.String()), zap.Error(err))
		return nil, &domain.PersistenceError{Op: "decode run snapshot", Err: err}
	}
	return &snap, nil
}
