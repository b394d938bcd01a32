package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hibiken/asynq"
	"gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/jobs"
	"github.com/librimoms/club-bot/internal/notifications"
	"github.com/librimoms/club-bot/internal/preferences"
)

const defaultDigestBatch = 200

// maxDigestLines caps one digest message; the rest is summarised by a counter.
const maxDigestLines = 10

// NotificationSource is served by *api.Client.
type NotificationSource interface {
	Notifications(ctx context.Context, token string) (*api.NotificationList, error)
}

// RecipientStore is served by *preferences.Service.
type RecipientStore interface {
	DigestRecipients(ctx context.Context, afterID int64, limit int) ([]preferences.Recipient, error)
	SetLastNotified(ctx context.Context, telegramID, notificationID int64) error
	MarkBlocked(ctx context.Context, telegramIDs ...int64) error
}

// DigestHandler polls each opted-in user's notifications and sends the unread ones they have not seen yet.
type DigestHandler struct {
	recipients RecipientStore
	source     NotificationSource
	tokenFor   TokenFunc
	inboxes    *notifications.Registry
	notifier   Notifier
	texts      Localizer
	log        *slog.Logger
}

func NewDigestHandler(
	recipients RecipientStore,
	source NotificationSource,
	tokenFor TokenFunc,
	inboxes *notifications.Registry,
	notifier Notifier,
	texts Localizer,
	log *slog.Logger,
) *DigestHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DigestHandler{
		recipients: recipients,
		source:     source,
		tokenFor:   tokenFor,
		inboxes:    inboxes,
		notifier:   notifier,
		texts:      texts,
		log:        log,
	}
}

func (h *DigestHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.DigestPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = defaultDigestBatch
	}

	var (
		visited   int
		delivered int
		blocked   []int64
		cursor    int64
	)
	// BatchSize is the page size; every opted-in user is visited on each run.
	for {
		rcpts, err := h.recipients.DigestRecipients(ctx, cursor, payload.BatchSize)
		if err != nil {
			return err
		}

		for _, r := range rcpts {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			sent, err := h.deliver(ctx, r)
			switch {
			case isUnreachable(err):
				blocked = append(blocked, r.TelegramID)
			case err != nil:
				h.log.WarnContext(ctx, "digest: delivery skipped", slog.Int64("telegram_id", r.TelegramID), slog.Any("error", err))
			case sent:
				delivered++
			}
		}

		visited += len(rcpts)
		if len(rcpts) < payload.BatchSize {
			break
		}
		cursor = rcpts[len(rcpts)-1].TelegramID
	}

	if len(blocked) > 0 {
		if err := h.recipients.MarkBlocked(ctx, blocked...); err != nil {
			h.log.ErrorContext(ctx, "digest: failed to mark blocked users", slog.Any("error", err))
		}
	}

	h.log.InfoContext(ctx, "digest: run complete",
		slog.Int("recipients", visited),
		slog.Int("delivered", delivered),
		slog.Int("blocked", len(blocked)),
	)
	return nil
}

func (h *DigestHandler) deliver(ctx context.Context, r preferences.Recipient) (bool, error) {
	token, err := h.tokenFor(ctx, r.TelegramID)
	if err != nil || token == "" {
		return false, err
	}

	list, err := h.source.Notifications(ctx, token)
	if err != nil {
		if api.IsUnauthorized(err) {
			return false, nil
		}
		return false, err
	}
	if h.inboxes != nil {
		h.inboxes.For(r.TelegramID).Replace(list)
	}

	fresh := Fresh(list, r.LastNotifiedID)
	if len(fresh) == 0 {
		return false, nil
	}

	text := FormatDigest(h.texts.Translator(r.Lang), fresh)
	if err := h.notifier.Notify(ctx, r.ChatID, text); err != nil {
		return false, err
	}

	newest := fresh[len(fresh)-1].ID
	if err := h.recipients.SetLastNotified(ctx, r.TelegramID, newest); err != nil {
		h.log.WarnContext(ctx, "digest: failed to store marker", slog.Int64("telegram_id", r.TelegramID), slog.Any("error", err))
	}
	return true, nil
}

// Fresh returns unread notifications newer than lastID, oldest first.
func Fresh(list *api.NotificationList, lastID int64) []api.Notification {
	if list == nil {
		return nil
	}
	var out []api.Notification
	for _, n := range list.Notifications {
		if !n.IsRead && n.ID > lastID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FormatDigest renders items newest first, at most maxDigestLines of them.
func FormatDigest(tr i18n.Translator, items []api.Notification) string {
	var b strings.Builder
	b.WriteString(tr.Tf("digest.header", len(items)))

	shown := items
	if len(shown) > maxDigestLines {
		shown = shown[len(shown)-maxDigestLines:]
	}
	for i := len(shown) - 1; i >= 0; i-- {
		n := shown[i]
		b.WriteString("\n• ")
		b.WriteString(n.Title)
		if n.Message != "" {
			b.WriteString(": ")
			b.WriteString(n.Message)
		}
	}
	if rest := len(items) - len(shown); rest > 0 {
		b.WriteString("\n")
		b.WriteString(tr.Tf("digest.more", rest))
	}
	return b.String()
}

func isUnreachable(err error) bool {
	return errors.Is(err, telebot.ErrBlockedByUser) ||
		errors.Is(err, telebot.ErrNotStartedByUser) ||
		errors.Is(err, telebot.ErrUserIsDeactivated) ||
		errors.Is(err, telebot.ErrChatNotFound)
}
