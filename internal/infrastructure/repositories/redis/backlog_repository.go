package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"djlive/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const backlogKey = "djlive:chat:backlog"

// RedisBacklogRepository stores chat entries in a capped Redis list, newest
// first.
type RedisBacklogRepository struct {
	client *redis.Client
	cap    int64
}

func NewRedisBacklogRepository(client *redis.Client, cap int) ports.BacklogRepository {
	return &RedisBacklogRepository{client: client, cap: int64(cap)}
}

func (r *RedisBacklogRepository) Append(ctx context.Context, entry json.RawMessage) error {
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, backlogKey, []byte(entry))
	pipe.LTrim(ctx, backlogKey, 0, r.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append backlog entry: %w", err)
	}
	return nil
}

func (r *RedisBacklogRepository) Recent(ctx context.Context, limit int) ([]json.RawMessage, error) {
	n := int64(limit)
	if n <= 0 || n > r.cap {
		n = r.cap
	}

	raw, err := r.client.LRange(ctx, backlogKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read backlog: %w", err)
	}

	// List is newest-first; replay order is oldest-first.
	out := make([]json.RawMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		out = append(out, json.RawMessage(raw[i]))
	}
	return out, nil
}
