package handlers

import (
	"fmt"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	"github.com/librimoms/club-bot/internal/notifications"
)

// Notifications shows the in-app inbox and marks items read.
type Notifications struct {
	backend notifications.Backend
	inboxes *notifications.Registry
	kb      *keyboard.Builder
	log     *slog.Logger
}

func NewNotifications(backend notifications.Backend, inboxes *notifications.Registry, kb *keyboard.Builder, log *slog.Logger) *Notifications {
	if log == nil {
		log = slog.Default()
	}
	return &Notifications{backend: backend, inboxes: inboxes, kb: kb, log: log}
}

// Inbox page layout. Ten entries with their buttons stay well inside the message and keyboard limits.
const (
	notificationsPageSize    = 10
	notificationTitleShown   = 100
	notificationMessageShown = 240
)

// List reloads the inbox from the backend. The cached inbox is shown when the reload fails.
func (h *Notifications) List(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	inbox := h.inboxes.For(sess.TelegramID)

	if err := inbox.Refresh(Context(c), h.backend, sess.Token); err != nil {
		if fatal := fallback(err); fatal != nil {
			return fatal
		}
		h.log.Warn("notifications refresh failed", slog.Int64("telegram_id", sess.TelegramID), slog.Any("error", err))
	}
	return h.render(c, inbox, 1)
}

// Page flips through the cached inbox.
func (h *Notifications) Page(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	return h.render(c, h.inboxes.For(sess.TelegramID), keyboard.ParsePage(Payload(c)))
}

// Read marks one notification read and redraws the page it is on.
func (h *Notifications) Read(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	id, err := payloadID(c)
	if err != nil {
		return err
	}
	inbox := h.inboxes.For(sess.TelegramID)

	if err := inbox.MarkRead(Context(c), h.backend, sess.Token, id); err != nil {
		return err
	}
	return h.render(c, inbox, pageOf(inbox.Items(), id))
}

func (h *Notifications) ReadAll(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	inbox := h.inboxes.For(sess.TelegramID)

	if err := inbox.MarkAllRead(Context(c), h.backend, sess.Token); err != nil {
		return err
	}
	return h.render(c, inbox, 1)
}

func (h *Notifications) render(c telebot.Context, inbox *notifications.Inbox, page int) error {
	tr := Translator(c)
	items := inbox.Items()
	if len(items) == 0 {
		return show(c, tr.T("notifications.empty"), nil)
	}
	chunk, pages := keyboard.Page(items, page, notificationsPageSize)
	page = min(max(page, 1), pages)

	var b strings.Builder
	b.WriteString("<b>" + tr.Tf("notifications.title", inbox.Unread()) + "</b>\n")

	kb := keyboard.NewInlineKeyboard()
	for _, n := range chunk {
		mark := "✓"
		if !n.IsRead {
			mark = "•"
		}
		entry := fmt.Sprintf("\n%s <b>%s</b> <i>%s</i>", mark, esc(clip(n.Title, notificationTitleShown)), n.CreatedAt.Format("02.01 15:04"))
		if n.Message != "" {
			entry += "\n" + esc(clip(n.Message, notificationMessageShown))
		}
		if textLen(b.String())+textLen(entry) > messageLimit {
			break
		}
		b.WriteString(entry)

		var row []keyboard.InlineButton
		if !n.IsRead {
			row = append(row, keyboard.IDButton(tr.Tf("notifications.mark_read", shorten(n.Title, 24)), UniqueNotifRead, n.ID))
		}
		if n.MaterialID != nil {
			row = append(row, keyboard.IDButton(tr.T("notifications.open"), UniqueMaterial, *n.MaterialID))
		}
		if len(row) > 0 {
			kb.AddRow(row...)
		}
	}
	if pages > 1 {
		kb.AddRow(keyboard.PaginationButtons(tr, UniqueNotifPage, page, pages)...)
	}
	if inbox.Unread() > 0 {
		kb.AddRow(keyboard.Button(tr.T("notifications.mark_all"), UniqueNotifAll, ""))
	}
	return show(c, b.String(), h.kb.Markup(kb))
}

// pageOf returns the inbox page holding id, the first page when it is gone.
func pageOf(items []api.Notification, id int64) int {
	for i, n := range items {
		if n.ID == id {
			return i/notificationsPageSize + 1
		}
	}
	return 1
}
