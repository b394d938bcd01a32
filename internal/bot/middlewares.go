package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/bot/handlers"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/preferences"
	"github.com/librimoms/club-bot/internal/session"
	"github.com/librimoms/club-bot/pkg/logger"
	"github.com/librimoms/club-bot/pkg/metrics"
)

// updateTimeout bounds the work done for a single update.
const updateTimeout = time.Minute

// UpdateFilter drops updates Telegram delivers twice. *idempotency.UpdateFilter implements it.
type UpdateFilter interface {
	First(ctx context.Context, updateID int) (bool, error)
}

// UpdateLimiter is implemented by *ratelimit.Guard.
type UpdateLimiter interface {
	AllowUpdate(ctx context.Context, userID int64) error
}

// PreferenceStore is implemented by *preferences.Service.
type PreferenceStore interface {
	GetOrCreate(ctx context.Context, user *telebot.User, chatID int64) (*preferences.Preferences, error)
	Touch(ctx context.Context, telegramID int64)
}

// SessionProvider is implemented by *session.Manager.
type SessionProvider interface {
	Ensure(ctx context.Context, u session.TelegramUser) (*session.Session, error)
	Invalidate(ctx context.Context, telegramID int64)
}

// RecoveryMiddleware catches panics, reports them via the centralized handler, and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *apperrors.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))

					userMsg := handlers.Translator(c).T("errors.generic")
					if errHandler != nil {
						appErr := apperrors.NewDatabaseError(fmt.Errorf("panic recovered: %v", r))
						if msg, _ := errHandler.Handle(handlers.Context(c), appErr); msg != "" {
							userMsg = msg
						}
					}

					if sendErr := c.Send(userMsg); sendErr != nil {
						log.Error("failed to notify user about panic", slog.Any("error", sendErr))
					}

					err = nil
				}
			}()

			return next(c)
		}
	}
}

// ContextMiddleware attaches a bounded request context carrying a correlation id.
func ContextMiddleware() handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
			defer cancel()

			ctx = logger.WithCorrelationID(ctx, uuid.NewString())
			handlers.WithContext(c, ctx)
			return next(c)
		}
	}
}

// DedupeMiddleware skips updates that were already processed. A failing filter lets the update through.
func DedupeMiddleware(filter UpdateFilter, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if filter == nil {
			return next
		}

		return func(c telebot.Context) error {
			updateID := c.Update().ID
			if updateID == 0 {
				return next(c)
			}

			first, err := filter.First(handlers.Context(c), updateID)
			if err != nil {
				log.Warn("update dedupe unavailable", slog.Int("update_id", updateID), slog.Any("error", err))
				return next(c)
			}
			if !first {
				log.Info("duplicate update skipped", slog.Int("update_id", updateID))
				return nil
			}
			return next(c)
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming updates.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			start := time.Now()
			ctx := handlers.Context(c)
			userID := int64(0)
			if c.Sender() != nil {
				userID = c.Sender().ID
			}

			attrs := []any{
				slog.Int64("user_id", userID),
				slog.String("action", actionName(c)),
				slog.String("correlation_id", logger.CorrelationIDFromContext(ctx)),
			}

			log.DebugContext(ctx, "handling update", attrs...)
			err := next(c)
			log.InfoContext(ctx, "handled update", append(attrs,
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)...)

			return err
		}
	}
}

// MetricsMiddleware measures execution time and status for bot handlers, reporting them to Prometheus.
func MetricsMiddleware(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordCommand(actionName(c), status, time.Since(start))

		return err
	}
}

// actionName keeps metric labels bounded: callback payloads and command arguments are dropped.
func actionName(c telebot.Context) string {
	if cb := c.Callback(); cb != nil && cb.Data != "" {
		if unique, _, err := keyboard.DecodeCallback(cb.Data); err == nil {
			return "cb:" + unique
		}
		return "cb:unknown"
	}

	if cmd, _, ok := parseCommand(strings.TrimSpace(c.Text())); ok {
		return cmd
	}
	if m := c.Message(); m != nil && m.Photo != nil {
		return "photo"
	}
	if c.Text() != "" {
		return "text"
	}

	return "unknown"
}

// ErrorHandlingMiddleware centralizes error reporting and user messaging for handler failures.
// Auth errors drop the stored session; subscription errors come with a payment button.
func ErrorHandlingMiddleware(errHandler *apperrors.Handler, sessions SessionProvider, kb *keyboard.Builder, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			ctx := handlers.Context(c)
			tr := handlers.Translator(c)

			userMsg := tr.T("errors.generic")
			if errHandler != nil {
				if msg, _ := errHandler.Handle(ctx, err); msg != "" {
					userMsg = msg
				}
			}
			userMsg = localizeError(tr, err, userMsg)

			var markup *telebot.ReplyMarkup
			switch {
			case apperrors.HasCode(err, apperrors.CodeAuth):
				if sessions != nil && c.Sender() != nil {
					sessions.Invalidate(ctx, c.Sender().ID)
				}
			case apperrors.HasCode(err, apperrors.CodeSubscription):
				if kb != nil {
					markup = kb.Markup(keyboard.NewInlineKeyboard().AddRow(
						keyboard.Button(tr.T("profile.subscribe"), handlers.UniquePlans, ""),
					))
				}
			}

			if c.Callback() != nil && markup == nil {
				_ = c.Respond(&telebot.CallbackResponse{Text: truncate(userMsg, 190), ShowAlert: true})
				return nil
			}

			opts := []any{}
			if markup != nil {
				opts = append(opts, markup)
			}
			if sendErr := c.Send(userMsg, opts...); sendErr != nil {
				log.Warn("failed to deliver error message", slog.Any("error", sendErr))
			}
			return nil
		}
	}
}

// localizeError swaps the Russian user message for a catalog entry in other languages
// and appends per-field validation messages.
func localizeError(tr i18n.Translator, err error, msg string) string {
	var appErr *apperrors.AppError
	if !apperrors.As(err, &appErr) || appErr == nil {
		return msg
	}

	if tr.Lang() != "" && tr.Lang() != "ru" {
		key := "errors." + strings.ToLower(appErr.Code)
		if translated := tr.T(key); translated != key {
			msg = translated
		}
	}

	if len(appErr.Fields) == 0 {
		return msg
	}

	names := make([]string, 0, len(appErr.Fields))
	for name := range appErr.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(msg)
	for _, name := range names {
		fmt.Fprintf(&b, "\n• %s: %s", name, appErr.Fields[name])
	}
	return b.String()
}

// RateLimitMiddleware enforces per-user rate limits for incoming Telegram updates.
func RateLimitMiddleware(limiter UpdateLimiter) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if limiter == nil {
			return next
		}

		return func(c telebot.Context) error {
			if c.Sender() == nil {
				return next(c)
			}
			if err := limiter.AllowUpdate(handlers.Context(c), c.Sender().ID); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// LocaleMiddleware loads the sender's preferences and picks their translator.
// The preference store is optional for the update: on failure the Telegram language is used.
func LocaleMiddleware(prefs PreferenceStore, catalog *i18n.Manager, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			sender := c.Sender()
			if sender == nil {
				handlers.SetTranslator(c, catalog.Translator(""))
				return next(c)
			}

			lang := sender.LanguageCode
			if prefs != nil {
				ctx := handlers.Context(c)
				chatID := sender.ID
				if chat := c.Chat(); chat != nil {
					chatID = chat.ID
				}

				p, err := prefs.GetOrCreate(ctx, sender, chatID)
				if err != nil {
					log.Warn("preferences unavailable", slog.Int64("telegram_id", sender.ID), slog.Any("error", err))
				} else {
					handlers.SetPreferences(c, p)
					if p.Lang != "" {
						lang = p.Lang
					}
					prefs.Touch(ctx, sender.ID)
				}
			}

			handlers.SetTranslator(c, catalog.Translator(lang))
			return next(c)
		}
	}
}

// AuthMiddleware logs the sender into the club backend and decides admin access.
// A failed login does not stop the update; handlers that need a token get the error from handlers.Session.
func AuthMiddleware(sessions SessionProvider, isAdmin func(int64) bool, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			sender := c.Sender()
			if sender == nil || sessions == nil {
				return next(c)
			}

			sess, err := sessions.Ensure(handlers.Context(c), session.TelegramUser{
				ID:        sender.ID,
				FirstName: sender.FirstName,
				LastName:  sender.LastName,
				Username:  sender.Username,
			})
			if err != nil {
				log.Warn("login failed", slog.Int64("telegram_id", sender.ID), slog.Any("error", err))
			}
			handlers.SetSession(c, sess, err)

			admin := isAdmin != nil && isAdmin(sender.ID)
			if sess != nil && sess.Profile != nil && sess.Profile.IsAdmin {
				admin = true
			}
			handlers.SetAdmin(c, admin)

			return next(c)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
