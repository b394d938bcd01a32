// Package preferences stores per-user bot flags that the club backend does not keep.
package preferences

import "time"

// Preferences are the bot-side flags of one Telegram user.
type Preferences struct {
	TelegramID int64  `json:"telegram_id"`
	ChatID     int64  `json:"chat_id"`
	Lang       string `json:"lang"`
	Digest     bool   `json:"digest"`
	// PushPromoDismissed hides the push subscription offer.
	PushPromoDismissed bool       `json:"push_promo_dismissed"`
	PWAPromptDismissed bool       `json:"pwa_prompt_dismissed"`
	PWAPromptShownAt   *time.Time `json:"pwa_prompt_shown_at,omitempty"`
	// LastNotifiedID is the newest notification already delivered by the digest.
	LastNotifiedID int64      `json:"last_notified_id"`
	BlockedAt      *time.Time `json:"blocked_at,omitempty"`
	LastActiveAt   time.Time  `json:"last_active_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Recipient is a user the notification digest should poll.
type Recipient struct {
	TelegramID     int64
	ChatID         int64
	Lang           string
	LastNotifiedID int64
}
