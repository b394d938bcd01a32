package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/preferences"
	"github.com/librimoms/club-bot/internal/session"
)

// Keys under which the middlewares store per-update values in telebot.Context.
const (
	keyContext     = "request_ctx"
	keySession     = "session"
	keySessionErr  = "session_err"
	keyPreferences = "preferences"
	keyTranslator  = "translator"
	keyPayload     = "payload"
	keyAdmin       = "is_admin"
)

// WithContext attaches the request context to an update.
func WithContext(c telebot.Context, ctx context.Context) {
	c.Set(keyContext, ctx)
}

// Context returns the request context of an update, or Background when none was attached.
func Context(c telebot.Context) context.Context {
	if c != nil {
		if ctx, ok := c.Get(keyContext).(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// SetSession stores the outcome of the login step.
func SetSession(c telebot.Context, sess *session.Session, err error) {
	c.Set(keySession, sess)
	if err != nil {
		c.Set(keySessionErr, err)
	}
}

// Session returns the authenticated session of the sender.
// The error is an auth error when the user could not be logged in.
func Session(c telebot.Context) (*session.Session, error) {
	if c == nil {
		return nil, apperrors.NewAuthError(nil)
	}
	if err, ok := c.Get(keySessionErr).(error); ok && err != nil {
		return nil, err
	}
	sess, _ := c.Get(keySession).(*session.Session)
	if !sess.Authenticated() {
		return nil, apperrors.NewAuthError(nil)
	}
	return sess, nil
}

func SetPreferences(c telebot.Context, p *preferences.Preferences) {
	c.Set(keyPreferences, p)
}

// Preferences may return nil when the preference store was unavailable.
func Preferences(c telebot.Context) *preferences.Preferences {
	if c == nil {
		return nil
	}
	p, _ := c.Get(keyPreferences).(*preferences.Preferences)
	return p
}

func SetTranslator(c telebot.Context, tr i18n.Translator) {
	c.Set(keyTranslator, tr)
}

// Translator never returns nil.
func Translator(c telebot.Context) i18n.Translator {
	if c != nil {
		if tr, ok := c.Get(keyTranslator).(i18n.Translator); ok && tr != nil {
			return tr
		}
	}
	return i18n.Identity()
}

// SetPayload stores command arguments or the data part of a callback.
func SetPayload(c telebot.Context, payload string) {
	c.Set(keyPayload, payload)
}

func Payload(c telebot.Context) string {
	if c == nil {
		return ""
	}
	p, _ := c.Get(keyPayload).(string)
	return p
}

func SetAdmin(c telebot.Context, admin bool) {
	c.Set(keyAdmin, admin)
}

// IsAdmin reports whether the sender may use the admin commands.
func IsAdmin(c telebot.Context) bool {
	if c == nil {
		return false
	}
	admin, _ := c.Get(keyAdmin).(bool)
	return admin
}

func senderID(c telebot.Context) int64 {
	if c == nil || c.Sender() == nil {
		return 0
	}
	return c.Sender().ID
}
