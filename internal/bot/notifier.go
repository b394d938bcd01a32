package bot

import (
	"context"
	"html"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/bot/keyboard"
	"github.com/librimoms/club-bot/internal/imaging"
	"github.com/librimoms/club-bot/internal/push"
	"github.com/librimoms/club-bot/pkg/metrics"
)

// Notifier sends messages that do not answer an update: job reports, digests, relayed pushes.
type Notifier struct {
	api *telebot.Bot
	kb  *keyboard.Builder
	log *slog.Logger
}

func NewNotifier(api *telebot.Bot, kb *keyboard.Builder, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{api: api, kb: kb, log: log}
}

// Notify sends plain text. Telegram errors are returned unwrapped so callers can detect blocked chats.
func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.api.Send(telebot.ChatID(chatID), text, &telebot.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		metrics.RecordError("notify", "telegram")
		n.log.WarnContext(ctx, "notification not delivered", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
	return err
}

// ForwardPush relays a decrypted web push to the subscriber's private chat.
func (n *Notifier) ForwardPush(ctx context.Context, telegramID int64, msg *push.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := html.EscapeString(msg.Body)
	if msg.Title != "" {
		text = "<b>" + html.EscapeString(msg.Title) + "</b>\n" + text
	}

	opts := &telebot.SendOptions{ParseMode: telebot.ModeHTML}
	if imaging.IsExternalURL(msg.URL) {
		kb := keyboard.NewInlineKeyboard().AddRow(keyboard.LinkButton("↗", msg.URL))
		opts.ReplyMarkup = n.kb.Markup(kb)
	}

	_, err := n.api.Send(telebot.ChatID(telegramID), text, opts)
	if err != nil {
		metrics.RecordError("push_forward", "telegram")
		return err
	}
	n.log.DebugContext(ctx, "push forwarded", slog.Int64("telegram_id", telegramID))
	return nil
}
