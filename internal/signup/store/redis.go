package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/tumblebus/internal/signup/domain"
)

const keySession = "signup:session:%s"

// Redis stores sessions as JSON strings with a TTL so any replica can serve
// the next request of a wizard.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, id string) (domain.Session, error) {
	raw, err := r.client.Get(ctx, fmt.Sprintf(keySession, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load signup session: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Session{}, fmt.Errorf("decode signup session: %w", err)
	}
	return s, nil
}

func (r *Redis) Save(ctx context.Context, s domain.Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode signup session: %w", err)
	}
	if err := r.client.Set(ctx, fmt.Sprintf(keySession, s.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save signup session: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, fmt.Sprintf(keySession, id)).Err()
}
