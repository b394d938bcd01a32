package handlers

import (
	"context"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/preferences"
	"github.com/librimoms/club-bot/internal/push"
)

// PreferenceEditor is implemented by *preferences.Service.
type PreferenceEditor interface {
	SetDigest(ctx context.Context, telegramID int64, enabled bool) (*preferences.Preferences, error)
	SetLang(ctx context.Context, telegramID int64, lang string) (*preferences.Preferences, error)
	DismissPushPromo(ctx context.Context, telegramID int64) error
}

// PushSubscriptions is implemented by *push.Service.
type PushSubscriptions interface {
	PushStatus
	Subscribe(ctx context.Context, token string, telegramID int64) (*push.Record, error)
	Unsubscribe(ctx context.Context, token string, telegramID int64) error
}

// RemoteSettings mirrors the choices to the club account. Implemented by *api.Client.
type RemoteSettings interface {
	UpdateSettings(ctx context.Context, token string, in api.Settings) (*api.Settings, error)
}

// Settings manages the digest, the interface language and push delivery.
type Settings struct {
	prefs     PreferenceEditor
	push      PushSubscriptions
	remote    RemoteSettings
	catalog   *i18n.Manager
	languages []string
	kb        *keyboard.Builder
	log       *slog.Logger
}

func NewSettings(prefs PreferenceEditor, push PushSubscriptions, remote RemoteSettings, catalog *i18n.Manager, kb *keyboard.Builder, log *slog.Logger) *Settings {
	if log == nil {
		log = slog.Default()
	}
	var languages []string
	if catalog != nil {
		languages = catalog.Languages()
	}
	return &Settings{prefs: prefs, push: push, remote: remote, catalog: catalog, languages: languages, kb: kb, log: log}
}

func (h *Settings) Show(c telebot.Context) error {
	return h.render(c, Preferences(c))
}

// Digest flips the daily digest subscription.
func (h *Settings) Digest(c telebot.Context) error {
	current := Preferences(c)
	if current == nil {
		return apperrors.NewDatabaseError(nil)
	}

	p, err := h.prefs.SetDigest(Context(c), current.TelegramID, !current.Digest)
	if err != nil {
		return err
	}
	SetPreferences(c, p)
	h.mirror(c, p)
	return h.render(c, p)
}

// Lang switches the interface language. The reply keyboard is resent in the new language.
func (h *Settings) Lang(c telebot.Context) error {
	current := Preferences(c)
	if current == nil {
		return apperrors.NewDatabaseError(nil)
	}

	lang := strings.TrimSpace(Payload(c))
	if !contains(h.languages, lang) {
		return apperrors.NewValidationError("language " + lang)
	}

	p, err := h.prefs.SetLang(Context(c), current.TelegramID, lang)
	if err != nil {
		return err
	}
	SetPreferences(c, p)
	h.mirror(c, p)
	if h.catalog != nil {
		SetTranslator(c, h.catalog.Translator(lang))
	}

	if err := h.render(c, p); err != nil {
		return err
	}
	tr := Translator(c)
	return c.Send(tr.T("settings.lang_changed"), keyboard.MainMenu(tr, IsAdmin(c)))
}

// PushOn registers this bot as the user's web push receiver.
func (h *Settings) PushOn(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	tr := Translator(c)
	if h.push == nil || !h.push.Enabled() {
		return ack(c, tr.T("push.unavailable"))
	}

	if _, err := h.push.Subscribe(Context(c), sess.Token, sess.TelegramID); err != nil {
		return apperrors.NewExternalAPIError("push", err)
	}
	h.log.Info("push subscription created", slog.Int64("telegram_id", sess.TelegramID))
	_ = ack(c, tr.T("push.subscribed"))
	return h.render(c, Preferences(c))
}

func (h *Settings) PushOff(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	tr := Translator(c)
	if h.push == nil {
		return ack(c, tr.T("push.unavailable"))
	}

	if err := h.push.Unsubscribe(Context(c), sess.Token, sess.TelegramID); err != nil && !apperrors.Is(err, push.ErrNotSubscribed) {
		return apperrors.NewExternalAPIError("push", err)
	}
	_ = ack(c, tr.T("push.unsubscribed"))
	return h.render(c, Preferences(c))
}

// PushDismiss hides the push offer under the library feed.
func (h *Settings) PushDismiss(c telebot.Context) error {
	id := senderID(c)
	if err := h.prefs.DismissPushPromo(Context(c), id); err != nil {
		return err
	}
	if p := Preferences(c); p != nil {
		p.PushPromoDismissed = true
	}
	if c.Callback() != nil {
		_ = c.Edit(&telebot.ReplyMarkup{})
	}
	return ack(c, Translator(c).T("push.promo_hidden"))
}

// mirror copies the local choice to the account. The local value stays authoritative for the bot.
func (h *Settings) mirror(c telebot.Context, p *preferences.Preferences) {
	if h.remote == nil {
		return
	}
	sess, err := Session(c)
	if err != nil {
		return
	}
	in := api.Settings{NotificationsEnabled: p.Digest, Language: p.Lang}
	if _, err := h.remote.UpdateSettings(Context(c), sess.Token, in); err != nil {
		h.log.Warn("account settings not updated", slog.Int64("telegram_id", p.TelegramID), slog.Any("error", err))
	}
}

func (h *Settings) render(c telebot.Context, p *preferences.Preferences) error {
	tr := Translator(c)
	if p == nil {
		return show(c, tr.T("settings.unavailable"), nil)
	}

	var b strings.Builder
	b.WriteString("<b>" + tr.T("settings.title") + "</b>\n\n")
	b.WriteString(tr.Tf("settings.digest", tr.T(boolLabel(p.Digest, "settings.on", "settings.off"))))
	b.WriteString("\n" + tr.Tf("settings.lang", tr.T("lang."+p.Lang)))

	kb := keyboard.NewInlineKeyboard()
	kb.AddRow(keyboard.Button(tr.T(boolLabel(p.Digest, "settings.digest_disable", "settings.digest_enable")), UniqueDigest, ""))

	var langs []keyboard.InlineButton
	for _, lang := range h.languages {
		if lang == p.Lang {
			continue
		}
		langs = append(langs, keyboard.Button(tr.T("lang."+lang), UniqueLang, lang))
	}
	if len(langs) > 0 {
		kb.AddRow(langs...)
	}

	if h.push != nil && h.push.Enabled() {
		subscribed, err := h.push.Subscribed(Context(c), p.TelegramID)
		if err != nil {
			h.log.Warn("push status unavailable", slog.Int64("telegram_id", p.TelegramID), slog.Any("error", err))
		} else {
			b.WriteString("\n" + tr.Tf("settings.push", tr.T(boolLabel(subscribed, "settings.on", "settings.off"))))
			if subscribed {
				kb.AddRow(keyboard.Button(tr.T("settings.push_disable"), UniquePushOff, ""))
			} else {
				kb.AddRow(keyboard.Button(tr.T("settings.push_enable"), UniquePushOn, ""))
			}
		}
	}

	return show(c, b.String(), h.kb.Markup(kb))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
