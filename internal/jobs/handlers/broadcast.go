package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/librimoms/club-bot/internal/admin"
	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/jobs"
)

// Sender is implemented by *admin.Broadcaster.
type Sender interface {
	Send(ctx context.Context, token string, msg admin.PushMessage) (*api.PushResult, error)
}

// BroadcastHandler delivers a push composed in the admin wizard and reports the result back to the admin.
type BroadcastHandler struct {
	sender   Sender
	tokenFor TokenFunc
	notifier Notifier
	texts    Localizer
	log      *slog.Logger
}

func NewBroadcastHandler(sender Sender, tokenFor TokenFunc, notifier Notifier, texts Localizer, log *slog.Logger) *BroadcastHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BroadcastHandler{sender: sender, tokenFor: tokenFor, notifier: notifier, texts: texts, log: log}
}

func (h *BroadcastHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.BroadcastPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "broadcast: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.log.With(
		slog.Int64("admin_telegram_id", payload.AdminTelegramID),
		slog.Int64("target_telegram_id", payload.TargetTelegramID),
	)
	tr := h.texts.Translator(payload.Lang)

	token, err := h.tokenFor(ctx, payload.AdminTelegramID)
	if err != nil {
		return err
	}
	if token == "" {
		log.WarnContext(ctx, "broadcast: admin session is gone")
		h.report(ctx, payload.AdminChatID, tr.T("errors.session_expired"))
		return fmt.Errorf("admin %d has no session: %w", payload.AdminTelegramID, asynq.SkipRetry)
	}

	msg := admin.PushMessage{
		Title:            payload.Title,
		Body:             payload.Body,
		URL:              payload.URL,
		TargetTelegramID: payload.TargetTelegramID,
	}

	var res *api.PushResult
	err = apperrors.WithRetry(ctx, func() error {
		var sendErr error
		res, sendErr = h.sender.Send(ctx, token, msg)
		return sendErr
	})
	if err != nil {
		log.ErrorContext(ctx, "broadcast: delivery failed", slog.Any("error", err))
		if apperrors.IsRetryable(err) {
			return err
		}
		h.report(ctx, payload.AdminChatID, tr.Tf("push.failed", userMessage(err)))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log.InfoContext(ctx, "broadcast: delivered", slog.Int("sent", res.Sent), slog.Int("failed", res.Failed))
	h.report(ctx, payload.AdminChatID, tr.Tf("push.sent", res.Sent, res.Failed))
	return nil
}

func (h *BroadcastHandler) report(ctx context.Context, chatID int64, text string) {
	if chatID == 0 || h.notifier == nil {
		return
	}
	if err := h.notifier.Notify(ctx, chatID, text); err != nil {
		h.log.WarnContext(ctx, "broadcast: failed to report to admin", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func userMessage(err error) string {
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return err.Error()
}
