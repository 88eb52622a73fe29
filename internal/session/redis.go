package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisStore keeps one key per session; Redis expires idle sessions by itself.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store on client.
func NewRedisStore(client *redis.Client, idleTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: idleTTL}
}

func (s *RedisStore) key(id string) string {
	return redisKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context) (*Session, error) {
	now := time.Now().UTC()
	sess := Session{ID: uuid.NewString(), CreatedAt: now, ExpiresAt: now.Add(s.ttl)}

	if err := s.client.Set(ctx, s.key(sess.ID), now.Unix(), s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Touch(ctx context.Context, id string) (*Session, error) {
	pipe := s.client.TxPipeline()
	get := pipe.Get(ctx, s.key(id))
	pipe.Expire(ctx, s.key(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	created, err := strconv.ParseInt(get.Val(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Unix(created, 0).UTC(),
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// Sweep is a no-op: Redis evicts expired keys.
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
