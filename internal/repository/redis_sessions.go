package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSessionStore struct {
	rds    *redis.Client
	prefix string // e.g. "oob:"
}

func NewRedisSessionStore(rds *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "oob:"
	}
	return &RedisSessionStore{rds: rds, prefix: prefix}
}

var _ SessionStore = (*RedisSessionStore)(nil)

func (s *RedisSessionStore) preKey(id string) string { return s.prefix + "pre:" + id }
func (s *RedisSessionStore) resKey(id string) string { return s.prefix + "res:" + id }

func (s *RedisSessionStore) PutPreconnect(ctx context.Context, id, token string, ttl time.Duration) error {
	return s.rds.Set(ctx, s.preKey(id), token, ttl).Err()
}

func (s *RedisSessionStore) GetPreconnect(ctx context.Context, id string) (string, bool, error) {
	v, err := s.rds.Get(ctx, s.preKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisSessionStore) PutResult(ctx context.Context, id string, data json.RawMessage, ttl time.Duration) error {
	ok, err := s.rds.SetNX(ctx, s.resKey(id), []byte(data), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrResultExists
	}
	return nil
}

func (s *RedisSessionStore) GetResult(ctx context.Context, id string) (json.RawMessage, bool, error) {
	b, err := s.rds.Get(ctx, s.resKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(b), true, nil
}
