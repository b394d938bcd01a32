// Package handlers processes the bot's background tasks.
package handlers

import (
	"context"

	"github.com/librimoms/club-bot/internal/i18n"
)

// TokenFunc returns the stored access token of a Telegram user, or "" when the user is logged out.
type TokenFunc func(ctx context.Context, telegramID int64) (string, error)

// Notifier delivers a plain text message to a Telegram chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Localizer is satisfied by *i18n.Manager.
type Localizer interface {
	Translator(lang string) i18n.Translator
}
