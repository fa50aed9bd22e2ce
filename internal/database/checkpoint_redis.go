package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"narrative-server/internal/interfaces"
	"narrative-server/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check to ensure redisCheckpointStore implements CheckpointStore
var _ interfaces.CheckpointStore = (*redisCheckpointStore)(nil)

type redisCheckpointStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisCheckpointStore creates a redis-backed CheckpointStore. Payloads
// expire after ttl; the latest-ordinal pointer shares the same lifetime.
func NewRedisCheckpointStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) interfaces.CheckpointStore {
	return &redisCheckpointStore{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisCheckpointStore"),
	}
}

func checkpointKey(runID string, ordinal int) string {
	return fmt.Sprintf("checkpoint:%s:%d", runID, ordinal)
}

func latestKey(runID string) string {
	return fmt.Sprintf("checkpoint:%s:latest", runID)
}

func (r *redisCheckpointStore) Save(ctx context.Context, cp interfaces.Checkpoint) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, checkpointKey(cp.RunID, cp.SceneOrdinal), cp.Payload, r.ttl)
	pipe.Set(ctx, latestKey(cp.RunID), cp.SceneOrdinal, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to save checkpoint",
			zap.String("runID", cp.RunID),
			zap.Int("sceneOrdinal", cp.SceneOrdinal),
			zap.Error(err))
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	r.logger.Debug("Checkpoint saved",
		zap.String("runID", cp.RunID),
		zap.Int("sceneOrdinal", cp.SceneOrdinal),
		zap.Int("bytes", len(cp.Payload)))
	return nil
}

func (r *redisCheckpointStore) Load(ctx context.Context, runID string, sceneOrdinal int) (*interfaces.Checkpoint, error) {
	payload, err := r.client.Get(ctx, checkpointKey(runID, sceneOrdinal)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: run %s scene %d", models.ErrCheckpointNotFound, runID, sceneOrdinal)
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return &interfaces.Checkpoint{
		RunID:        runID,
		SceneOrdinal: sceneOrdinal,
		Payload:      payload,
	}, nil
}

func (r *redisCheckpointStore) LoadLatest(ctx context.Context, runID string) (*interfaces.Checkpoint, error) {
	raw, err := r.client.Get(ctx, latestKey(runID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: run %s", models.ErrCheckpointNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load latest checkpoint pointer: %w", err)
	}
	ordinal, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt latest checkpoint pointer %q: %w", raw, err)
	}
	return r.Load(ctx, runID, ordinal)
}
