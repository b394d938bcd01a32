package preferences

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"
)

// Service provides business operations over preferences.
type Service struct {
	repo        Repository
	cache       *Cache
	defaultLang string
	log         *slog.Logger
	now         func() time.Time
}

func NewService(repo Repository, cache *Cache, defaultLang string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, cache: cache, defaultLang: defaultLang, log: log, now: time.Now}
}

// GetOrCreate returns the user's preferences, creating defaults on first contact.
func (s *Service) GetOrCreate(ctx context.Context, user *telebot.User, chatID int64) (*Preferences, error) {
	if user == nil {
		return nil, errors.New("telegram user is nil")
	}

	if cached, err := s.cache.Get(ctx, user.ID); err != nil {
		s.log.Warn("preferences cache read failed", slog.Int64("telegram_id", user.ID), slog.Any("error", err))
	} else if cached != nil {
		return cached, nil
	}

	p, err := s.repo.Find(ctx, user.ID)
	if err == nil {
		s.store(ctx, p)
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.logError("get_or_create.find", user.ID, err)
		return nil, fmt.Errorf("get preferences: %w", err)
	}

	lang := user.LanguageCode
	if lang == "" {
		lang = s.defaultLang
	}

	now := s.now().UTC()
	p = &Preferences{
		TelegramID:   user.ID,
		ChatID:       chatID,
		Lang:         lang,
		Digest:       true,
		LastActiveAt: now,
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		s.logError("get_or_create.create", user.ID, err)
		return nil, fmt.Errorf("create preferences: %w", err)
	}

	s.store(ctx, p)
	return p, nil
}

// Update applies fn to the stored preferences and saves them.
func (s *Service) Update(ctx context.Context, telegramID int64, fn func(*Preferences)) (*Preferences, error) {
	p, err := s.repo.Find(ctx, telegramID)
	if err != nil {
		s.logError("update.find", telegramID, err)
		return nil, err
	}

	fn(p)
	if err := s.repo.Update(ctx, p); err != nil {
		s.logError("update", telegramID, err)
		return nil, err
	}

	s.store(ctx, p)
	return p, nil
}

func (s *Service) SetDigest(ctx context.Context, telegramID int64, enabled bool) (*Preferences, error) {
	return s.Update(ctx, telegramID, func(p *Preferences) { p.Digest = enabled })
}

func (s *Service) SetLang(ctx context.Context, telegramID int64, lang string) (*Preferences, error) {
	return s.Update(ctx, telegramID, func(p *Preferences) { p.Lang = lang })
}

func (s *Service) DismissPushPromo(ctx context.Context, telegramID int64) error {
	_, err := s.Update(ctx, telegramID, func(p *Preferences) { p.PushPromoDismissed = true })
	return err
}

// Touch refreshes last activity. Failures are logged only.
func (s *Service) Touch(ctx context.Context, telegramID int64) {
	if err := s.repo.Touch(ctx, telegramID); err != nil {
		s.logError("touch", telegramID, err)
	}
}

func (s *Service) DigestRecipients(ctx context.Context, afterID int64, limit int) ([]Recipient, error) {
	return s.repo.DigestRecipients(ctx, afterID, limit)
}

func (s *Service) SetLastNotified(ctx context.Context, telegramID, notificationID int64) error {
	if err := s.repo.SetLastNotified(ctx, telegramID, notificationID); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, telegramID)
}

func (s *Service) MarkBlocked(ctx context.Context, telegramIDs ...int64) error {
	if err := s.repo.MarkBlocked(ctx, telegramIDs); err != nil {
		return err
	}
	for _, id := range telegramIDs {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logError("mark_blocked.invalidate", id, err)
		}
	}
	return nil
}

func (s *Service) store(ctx context.Context, p *Preferences) {
	if err := s.cache.Set(ctx, p); err != nil {
		s.log.Warn("preferences cache write failed", slog.Int64("telegram_id", p.TelegramID), slog.Any("error", err))
	}
}

func (s *Service) logError(operation string, telegramID int64, err error) {
	s.log.Error("preferences operation failed",
		slog.String("operation", operation),
		slog.Int64("telegram_id", telegramID),
		slog.Any("error", err),
	)
}
