package push

import (
	"context"
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/librimoms/club-bot/pkg/redis"
)

const (
	subscriptionKeyPattern = "push:sub:%d"
	endpointKeyPattern     = "push:endpoint:%s"
)

var ErrNotSubscribed = errors.New("push subscription not found")

// Record is a stored subscription with its private half.
type Record struct {
	TelegramID int64
	EndpointID string
	Endpoint   string
	Keys       *Keys
}

type storedRecord struct {
	TelegramID int64  `json:"telegram_id"`
	EndpointID string `json:"endpoint_id"`
	Endpoint   string `json:"endpoint"`
	PrivateKey string `json:"private_key"`
	AuthSecret string `json:"auth_secret"`
}

// Store keeps subscription records in Redis without expiry.
type Store struct {
	kv redis.KV
}

func NewStore(kv redis.KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) Save(ctx context.Context, r *Record) error {
	raw, err := json.Marshal(storedRecord{
		TelegramID: r.TelegramID,
		EndpointID: r.EndpointID,
		Endpoint:   r.Endpoint,
		PrivateKey: encodeKey(r.Keys.Private.Bytes()),
		AuthSecret: encodeKey(r.Keys.AuthSecret),
	})
	if err != nil {
		return fmt.Errorf("encode push record: %w", err)
	}

	if err := s.kv.SetValue(ctx, fmt.Sprintf(subscriptionKeyPattern, r.TelegramID), raw, 0); err != nil {
		return err
	}
	return s.kv.SetValue(ctx, fmt.Sprintf(endpointKeyPattern, r.EndpointID), r.TelegramID, 0)
}

// ByTelegramID returns ErrNotSubscribed when there is no record.
func (s *Store) ByTelegramID(ctx context.Context, telegramID int64) (*Record, error) {
	raw, err := s.kv.GetString(ctx, fmt.Sprintf(subscriptionKeyPattern, telegramID))
	if redis.IsNil(err) {
		return nil, ErrNotSubscribed
	}
	if err != nil {
		return nil, err
	}

	var sr storedRecord
	if err := json.Unmarshal([]byte(raw), &sr); err != nil {
		return nil, fmt.Errorf("decode push record: %w", err)
	}

	privRaw, err := DecodeKey(sr.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(privRaw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	secret, err := DecodeKey(sr.AuthSecret)
	if err != nil {
		return nil, fmt.Errorf("decode auth secret: %w", err)
	}

	return &Record{
		TelegramID: sr.TelegramID,
		EndpointID: sr.EndpointID,
		Endpoint:   sr.Endpoint,
		Keys:       &Keys{Private: priv, AuthSecret: secret},
	}, nil
}

func (s *Store) ByEndpointID(ctx context.Context, endpointID string) (*Record, error) {
	raw, err := s.kv.GetString(ctx, fmt.Sprintf(endpointKeyPattern, endpointID))
	if redis.IsNil(err) {
		return nil, ErrNotSubscribed
	}
	if err != nil {
		return nil, err
	}

	telegramID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode endpoint owner: %w", err)
	}
	return s.ByTelegramID(ctx, telegramID)
}

func (s *Store) Delete(ctx context.Context, r *Record) error {
	return s.kv.Delete(ctx,
		fmt.Sprintf(subscriptionKeyPattern, r.TelegramID),
		fmt.Sprintf(endpointKeyPattern, r.EndpointID),
	)
}
