package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/librimoms/club-bot/pkg/redis"
)

const (
	tokenKeyPattern   = "session:%d:access_token"
	profileKeyPattern = "session:%d:user"
)

// Store persists the access token and the cached profile blob.
type Store interface {
	Token(ctx context.Context, telegramID int64) (string, error)
	SaveToken(ctx context.Context, telegramID int64, token string, ttl time.Duration) error
	Profile(ctx context.Context, telegramID int64) (*Profile, error)
	SaveProfile(ctx context.Context, telegramID int64, p *Profile, ttl time.Duration) error
	Delete(ctx context.Context, telegramID int64) error
}

// RedisStore keeps sessions in Redis. A missing key yields "" or nil without error.
type RedisStore struct {
	kv redis.KV
}

func NewRedisStore(kv redis.KV) *RedisStore {
	return &RedisStore{kv: kv}
}

func (s *RedisStore) Token(ctx context.Context, telegramID int64) (string, error) {
	token, err := s.kv.GetString(ctx, fmt.Sprintf(tokenKeyPattern, telegramID))
	if redis.IsNil(err) {
		return "", nil
	}
	return token, err
}

func (s *RedisStore) SaveToken(ctx context.Context, telegramID int64, token string, ttl time.Duration) error {
	return s.kv.SetValue(ctx, fmt.Sprintf(tokenKeyPattern, telegramID), token, ttl)
}

func (s *RedisStore) Profile(ctx context.Context, telegramID int64) (*Profile, error) {
	raw, err := s.kv.GetString(ctx, fmt.Sprintf(profileKeyPattern, telegramID))
	if redis.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode cached profile: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) SaveProfile(ctx context.Context, telegramID int64, p *Profile, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return s.kv.SetValue(ctx, fmt.Sprintf(profileKeyPattern, telegramID), raw, ttl)
}

func (s *RedisStore) Delete(ctx context.Context, telegramID int64) error {
	return s.kv.Delete(ctx, fmt.Sprintf(tokenKeyPattern, telegramID), fmt.Sprintf(profileKeyPattern, telegramID))
}
