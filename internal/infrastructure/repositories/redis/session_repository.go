package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const sessionKey = "djlive:session:active"

type RedisSessionRepository struct {
	client *redis.Client
}

func NewRedisSessionRepository(client *redis.Client) ports.SessionRepository {
	return &RedisSessionRepository{client: client}
}

func (r *RedisSessionRepository) Put(ctx context.Context, session *domain.BroadcastSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, sessionKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Get(ctx context.Context) (*domain.BroadcastSession, error) {
	data, err := r.client.Get(ctx, sessionKey).Result()
	if err == redis.Nil {
		return nil, domain.ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.BroadcastSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, sessionKey).Err(); err != nil {
		return fmt.Errorf("failed to clear session in Redis: %w", err)
	}
	return nil
}
