package admin

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
)

// MinSearchLength is the shortest accepted user search query.
const MinSearchLength = 2

type UserBackend interface {
	SearchUsers(ctx context.Context, token, q string) ([]api.UserSummary, error)
	UserDetails(ctx context.Context, token string, telegramID int64) (*api.UserDetails, error)
	Subscriptions(ctx context.Context, token, status string) ([]api.AdminSubscription, error)
	PushSubscribers(ctx context.Context, token string) (*api.PushSubscribers, error)
}

type Users struct {
	backend UserBackend
}

func NewUsers(backend UserBackend) *Users {
	return &Users{backend: backend}
}

func (u *Users) Search(ctx context.Context, token, q string) ([]api.UserSummary, error) {
	q = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(q), "@"))
	if utf8.RuneCountInString(q) < MinSearchLength {
		return nil, apperrors.NewFieldsError(map[string]string{"q": "Введите минимум 2 символа"})
	}
	return u.backend.SearchUsers(ctx, token, q)
}

func (u *Users) Details(ctx context.Context, token string, telegramID int64) (*api.UserDetails, error) {
	return u.backend.UserDetails(ctx, token, telegramID)
}

// Subscriptions lists subscriptions; status is "active", "expired" or empty for all.
func (u *Users) Subscriptions(ctx context.Context, token, status string) ([]api.AdminSubscription, error) {
	switch status {
	case "", "active", "expired":
	default:
		return nil, apperrors.NewValidationError("unknown subscription status " + status)
	}
	return u.backend.Subscriptions(ctx, token, status)
}

// PushSubscribers lists users with an active web push subscription.
func (u *Users) PushSubscribers(ctx context.Context, token string) (*api.PushSubscribers, error) {
	return u.backend.PushSubscribers(ctx, token)
}
