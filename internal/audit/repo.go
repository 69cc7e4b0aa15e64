// Package audit persists each run's message trail to Redis. Writes are
// best-effort from the pipeline's point of view: the orchestrator logs and
// continues when persistence fails.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	errx "github.com/tablepilot-core-poc/server/internal/core/error"
	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

type RedisRunRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisRunRepository(rdb redis.Cmdable, ttl time.Duration) *RedisRunRepository {
	return &RedisRunRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisRunRepository) runKey(runID string) string {
	return fmt.Sprintf("run:%s:messages", runID)
}

func (r *RedisRunRepository) SaveRun(ctx context.Context, runID string, messages []*model.AuditMessage) error {
	key := r.runKey(runID)

	encoded := make([]any, 0, len(messages))
	for i, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			logx.Error().Err(err).Str("runID", runID).Int("index", i).Msg("failed to marshal audit message")
			return fmt.Errorf("marshal audit message at index %d: %w", i, err)
		}
		encoded = append(encoded, b)
	}

	// replace the whole trail so re-saving a run stays idempotent
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to clear run trail")
		return errx.WrapRedis(err)
	}
	if len(encoded) == 0 {
		return nil
	}
	if err := r.rdb.RPush(ctx, key, encoded...).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push run trail to redis")
		return errx.WrapRedis(err)
	}
	if r.ttl > 0 {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
			return errx.WrapRedis(err)
		} else if !ok {
			logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on run key")
		}
	}
	return nil
}

func (r *RedisRunRepository) LoadRun(ctx context.Context, runID string) ([]*model.AuditMessage, error) {
	key := r.runKey(runID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []*model.AuditMessage{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load run trail from redis")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*model.AuditMessage, 0, len(rows))
	for i, s := range rows {
		var m model.AuditMessage
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("runID", runID).Int("index", i).Msg("failed to unmarshal audit message")
			return nil, fmt.Errorf("unmarshal audit message at index %d: %w", i, err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (r *RedisRunRepository) DeleteRun(ctx context.Context, runID string) error {
	key := r.runKey(runID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete run trail from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.AuditRepository = (*RedisRunRepository)(nil)
