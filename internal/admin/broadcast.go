package admin

import (
	"context"
	"log/slog"
	"strings"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/imaging"
)

// PushBackend sends push notifications through the backend.
type PushBackend interface {
	SendBroadcast(ctx context.Context, token string, in api.BroadcastRequest) (*api.PushResult, error)
	SendToUser(ctx context.Context, token string, in api.SendToUserRequest) (*api.PushResult, error)
}

// PushMessage is a composed notification. TargetTelegramID zero means everyone.
type PushMessage struct {
	Title            string
	Body             string
	URL              string
	TargetTelegramID int64
}

func (m PushMessage) Broadcast() bool { return m.TargetTelegramID == 0 }

// Validate checks the fields the wizard collects.
func (m PushMessage) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(m.Title) == "" {
		fields["title"] = "Введите заголовок"
	}
	if strings.TrimSpace(m.Body) == "" {
		fields["body"] = "Введите текст уведомления"
	}
	if m.URL != "" && !imaging.IsExternalURL(m.URL) && !strings.HasPrefix(m.URL, "/") {
		fields["url"] = "Ссылка должна начинаться с http или /"
	}
	if len(fields) > 0 {
		return apperrors.NewFieldsError(fields)
	}
	return nil
}

type Broadcaster struct {
	backend PushBackend
	log     *slog.Logger
}

func NewBroadcaster(backend PushBackend, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{backend: backend, log: log}
}

// Send delivers to all subscribers or to one user, depending on the target.
func (b *Broadcaster) Send(ctx context.Context, token string, msg PushMessage) (*api.PushResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var (
		res *api.PushResult
		err error
	)
	if msg.Broadcast() {
		res, err = b.backend.SendBroadcast(ctx, token, api.BroadcastRequest{
			Title: msg.Title,
			Body:  msg.Body,
			URL:   msg.URL,
		})
	} else {
		res, err = b.backend.SendToUser(ctx, token, api.SendToUserRequest{
			TelegramID: msg.TargetTelegramID,
			Title:      msg.Title,
			Body:       msg.Body,
			URL:        msg.URL,
		})
	}
	if err != nil {
		return nil, err
	}

	b.log.Info("push sent",
		slog.Bool("broadcast", msg.Broadcast()),
		slog.Int64("target_telegram_id", msg.TargetTelegramID),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}
