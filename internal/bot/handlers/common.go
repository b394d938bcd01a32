package handlers

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf16"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/session"
)

// Telegram counts these limits in UTF-16 code units after entity parsing.
const (
	captionLimit = 1024
	messageLimit = 4096
)

// Commands.
const (
	CommandStart         = "/start"
	CommandHelp          = "/help"
	CommandMenu          = "/menu"
	CommandCancel        = "/cancel"
	CommandLibrary       = "/library"
	CommandSearch        = "/search"
	CommandFavorites     = "/favorites"
	CommandHistory       = "/history"
	CommandRecommend     = "/recommend"
	CommandStats         = "/stats"
	CommandNotifications = "/notifications"
	CommandProfile       = "/profile"
	CommandSubscribe     = "/subscribe"
	CommandPayments      = "/payments"
	CommandSettings      = "/settings"
	CommandAdmin         = "/admin"
	CommandNewMaterial   = "/newmaterial"
	CommandEdit          = "/edit"
	CommandPush          = "/push"
	CommandCategories    = "/categories"
	CommandWithdrawals   = "/withdrawals"
	CommandUsers         = "/users"
	CommandSubscriptions = "/subscriptions"
	CommandActivity      = "/activity"
)

// Callback uniques. The payload after the separator is handler specific.
const (
	UniqueFeedMore    = "feed_more"
	UniqueMaterial    = "mat"
	UniqueFavorite    = "fav"
	UniqueCategories  = "cats"
	UniqueCategory    = "cat"
	UniqueHistoryPage = "hist"
	UniquePlans       = "plans"
	UniquePay         = "pay"
	UniqueRenew       = "renew"
	UniqueNotifRead   = "ntf_read"
	UniqueNotifAll    = "ntf_all"
	UniqueNotifPage   = "ntf_page"
	UniqueDigest      = "set_digest"
	UniqueLang        = "set_lang"
	UniquePushOn      = "push_on"
	UniquePushOff     = "push_off"
	UniquePushDismiss = "push_dismiss"

	UniqueAdminMenu        = "adm"
	UniqueMaterialNew      = "adm_mat_new"
	UniqueMaterialEdit     = "adm_mat_edit"
	UniqueMaterialDelete   = "adm_mat_del"
	UniqueMaterialField    = "adm_fld"
	UniqueMaterialCategory = "adm_cat_tgl"
	UniqueMaterialPublish  = "adm_pub"
	UniqueMaterialFeature  = "adm_feat"
	UniqueMaterialSave     = "adm_save"
	UniqueMaterialClose    = "adm_close"
	UniqueMaterialDiscard  = "adm_discard"
	UniqueMaterialKeep     = "adm_keep"
	UniquePushStart        = "adm_push"
	UniquePushTarget       = "adm_push_target"
	UniquePushSend         = "adm_push_send"
	UniqueCategoryList     = "adm_cats"
	UniqueCategoryNew      = "adm_cat_new"
	UniqueCategoryRename   = "adm_cat_ren"
	UniqueCategoryDelete   = "adm_cat_del"
	UniqueWithdrawals      = "adm_wd"
	UniqueWithdrawApprove  = "adm_wd_ok"
	UniqueWithdrawReject   = "adm_wd_no"
	UniqueUsers            = "adm_users"
	UniqueUser             = "adm_user"
	UniqueSubscriptions    = "adm_subs"
	UniquePushSubscribers  = "adm_push_subs"
	UniqueActivity         = "adm_feed"
)

// send replies with optional markup. A nil markup is not passed to telebot.
func send(c telebot.Context, text string, markup *telebot.ReplyMarkup, opts ...any) error {
	if markup != nil {
		opts = append(opts, markup)
	}
	return c.Send(text, opts...)
}

// show edits the message under a pressed button, or sends a new one for text input.
func show(c telebot.Context, text string, markup *telebot.ReplyMarkup) error {
	opts := []any{telebot.ModeHTML}
	if markup != nil {
		opts = append(opts, markup)
	}
	if c.Callback() != nil {
		_ = c.Respond()
		return c.Edit(text, opts...)
	}
	return c.Send(text, opts...)
}

// ack answers a callback with a short toast.
func ack(c telebot.Context, text string) error {
	if c.Callback() == nil {
		if text == "" {
			return nil
		}
		return c.Send(text)
	}
	return c.Respond(&telebot.CallbackResponse{Text: text})
}

// token returns the bearer token of the sender or an auth error.
func token(c telebot.Context) (string, error) {
	sess, err := Session(c)
	if err != nil {
		return "", err
	}
	return sess.Token, nil
}

// member returns the session of a user with an active subscription. Admins always pass.
func member(c telebot.Context) (*session.Session, error) {
	sess, err := Session(c)
	if err != nil {
		return nil, err
	}
	if !sess.HasSubscription() && !IsAdmin(c) {
		return nil, apperrors.NewSubscriptionError()
	}
	return sess, nil
}

// payloadID parses the numeric payload of a callback or command.
func payloadID(c telebot.Context) (int64, error) {
	raw := strings.TrimSpace(Payload(c))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError(fmt.Sprintf("id %q", raw))
	}
	return id, nil
}

// esc escapes user and backend text for HTML parse mode.
func esc(s string) string {
	return html.EscapeString(s)
}

// textLen measures s the way Telegram does. Markup is counted too, so the result is an upper bound.
func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// clip cuts s to at most n UTF-16 code units, ellipsis included.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if textLen(s) <= n {
		return s
	}
	used := 0
	for i, r := range s {
		w := utf16.RuneLen(r)
		if used+w > n-1 {
			return s[:i] + "…"
		}
		used += w
	}
	return s
}

func boolLabel(value bool, trueLabel, falseLabel string) string {
	if value {
		return trueLabel
	}
	return falseLabel
}

// TokenSource resolves stored tokens for work that runs outside an update.
type TokenSource interface {
	Token(ctx context.Context, telegramID int64) (string, error)
}
