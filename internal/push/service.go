package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/librimoms/club-bot/internal/api"
)

// Backend registers subscriptions with the club API.
type Backend interface {
	PushSubscribe(ctx context.Context, token string, sub api.PushSubscription) error
	PushUnsubscribe(ctx context.Context, token, endpoint string) error
}

// Service subscribes users with an endpoint served by this process.
type Service struct {
	backend   Backend
	store     *Store
	publicURL string
	serverKey []byte
	log       *slog.Logger
}

// NewService validates the VAPID key up front. An empty key disables push.
func NewService(backend Backend, store *Store, publicURL, vapidPublicKey string, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		backend:   backend,
		store:     store,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log,
	}
	if vapidPublicKey != "" {
		key, err := DecodeApplicationServerKey(vapidPublicKey)
		if err != nil {
			return nil, err
		}
		s.serverKey = key
	}
	return s, nil
}

// Enabled reports whether push can be offered at all.
func (s *Service) Enabled() bool {
	return s.serverKey != nil && s.publicURL != ""
}

// Endpoint is the receiver URL for an endpoint id.
func (s *Service) Endpoint(endpointID string) string {
	return fmt.Sprintf("%s/push/receive/%s", s.publicURL, endpointID)
}

func (s *Service) Subscribed(ctx context.Context, telegramID int64) (bool, error) {
	_, err := s.store.ByTelegramID(ctx, telegramID)
	if errors.Is(err, ErrNotSubscribed) {
		return false, nil
	}
	return err == nil, err
}

// Subscribe creates a fresh key pair and registers it. An existing subscription is kept.
func (s *Service) Subscribe(ctx context.Context, token string, telegramID int64) (*Record, error) {
	if !s.Enabled() {
		return nil, errors.New("push is not configured")
	}

	if existing, err := s.store.ByTelegramID(ctx, telegramID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotSubscribed) {
		return nil, err
	}

	keys, err := GenerateKeys()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	rec := &Record{TelegramID: telegramID, EndpointID: id, Endpoint: s.Endpoint(id), Keys: keys}
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save push record: %w", err)
	}

	err = s.backend.PushSubscribe(ctx, token, api.PushSubscription{
		Endpoint: rec.Endpoint,
		Keys:     api.PushKeys{P256dh: keys.P256dh(), Auth: keys.Auth()},
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, rec); delErr != nil {
			s.log.Warn("failed to drop push record", slog.Int64("telegram_id", telegramID), slog.Any("error", delErr))
		}
		return nil, err
	}

	s.log.Info("push subscribed", slog.Int64("telegram_id", telegramID), slog.String("endpoint_id", id))
	return rec, nil
}

// Unsubscribe removes the subscription at the backend and locally.
func (s *Service) Unsubscribe(ctx context.Context, token string, telegramID int64) error {
	rec, err := s.store.ByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}

	if err := s.backend.PushUnsubscribe(ctx, token, rec.Endpoint); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, rec); err != nil {
		return fmt.Errorf("delete push record: %w", err)
	}

	s.log.Info("push unsubscribed", slog.Int64("telegram_id", telegramID))
	return nil
}

// Receive decrypts a delivery for an endpoint and returns its owner and message.
func (s *Service) Receive(ctx context.Context, endpointID string, body []byte) (int64, *Message, error) {
	rec, err := s.store.ByEndpointID(ctx, endpointID)
	if err != nil {
		return 0, nil, err
	}

	plain, err := Decrypt(rec.Keys, body)
	if err != nil {
		return 0, nil, err
	}

	msg, err := ParseMessage(plain)
	if err != nil {
		return 0, nil, err
	}
	return rec.TelegramID, msg, nil
}
