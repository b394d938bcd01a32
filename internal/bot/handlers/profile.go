package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/idempotency"
	"github.com/librimoms/club-bot/internal/ratelimit"
	"github.com/librimoms/club-bot/internal/session"
)

// paymentWindow is how long a repeated press on the same plan returns the first confirmation link.
const paymentWindow = 10 * time.Minute

// AccountBackend is the subset of *api.Client used by the profile screens.
type AccountBackend interface {
	Loyalty(ctx context.Context, token string) (*api.Loyalty, error)
	Referral(ctx context.Context, token string) (*api.Referral, error)
	Payments(ctx context.Context, token string) ([]api.Payment, error)
	CreatePayment(ctx context.Context, token string, in api.CreatePaymentRequest) (*api.CreatePaymentResponse, error)
	CancelAutorenewal(ctx context.Context, token string) error
	EnableAutorenewal(ctx context.Context, token string) error
}

// ProfileRefresher is implemented by *session.Manager.
type ProfileRefresher interface {
	Refresh(ctx context.Context, sess *session.Session) (*session.Profile, error)
}

type Profile struct {
	backend   AccountBackend
	sessions  ProfileRefresher
	payments  *idempotency.Manager
	limits    ActionLimiter
	plans     []string
	returnURL string
	kb        *keyboard.Builder
	log       *slog.Logger
}

func NewProfile(backend AccountBackend, sessions ProfileRefresher, payments *idempotency.Manager, limits ActionLimiter, plans []string, returnURL string, kb *keyboard.Builder, log *slog.Logger) *Profile {
	if log == nil {
		log = slog.Default()
	}
	return &Profile{
		backend:   backend,
		sessions:  sessions,
		payments:  payments,
		limits:    limits,
		plans:     plans,
		returnURL: returnURL,
		kb:        kb,
		log:       log,
	}
}

// Show renders the subscription, loyalty and referral summary.
func (h *Profile) Show(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	ctx := Context(c)
	tr := Translator(c)

	profile, err := h.sessions.Refresh(ctx, sess)
	if err != nil {
		return err
	}

	var b strings.Builder
	name := profile.FirstName
	if profile.Username != "" {
		name += " (@" + profile.Username + ")"
	}
	b.WriteString("<b>" + esc(name) + "</b>\n\n")

	if profile.SubscriptionActive {
		until := ""
		if profile.SubscriptionExpires != nil {
			until = profile.SubscriptionExpires.Format("02.01.2006")
		}
		b.WriteString(tr.Tf("profile.subscription_active", esc(planName(tr, profile.SubscriptionPlan)), until, profile.SubscriptionDaysLeft))
		b.WriteString("\n" + tr.T(boolLabel(profile.AutoRenewal, "profile.autorenew_on", "profile.autorenew_off")))
	} else {
		b.WriteString(tr.T("profile.subscription_inactive"))
	}
	b.WriteString("\n" + tr.Tf("profile.activity", profile.MaterialsViewed, profile.Favorites))

	if loyalty, err := h.backend.Loyalty(ctx, sess.Token); err != nil {
		h.log.Warn("loyalty unavailable", slog.Int64("telegram_id", sess.TelegramID), slog.Any("error", err))
	} else {
		b.WriteString("\n\n" + tr.Tf("profile.loyalty", esc(loyalty.Level), loyalty.Points, loyalty.Progress))
		if loyalty.NextLevel != "" {
			b.WriteString("\n" + tr.Tf("profile.loyalty_next", esc(loyalty.NextLevel)))
		}
		for _, benefit := range loyalty.Benefits {
			b.WriteString("\n• " + esc(benefit))
		}
	}

	if ref, err := h.backend.Referral(ctx, sess.Token); err != nil {
		h.log.Warn("referral unavailable", slog.Int64("telegram_id", sess.TelegramID), slog.Any("error", err))
	} else if ref.Link != "" {
		b.WriteString("\n\n" + tr.Tf("profile.referral", esc(ref.Link), ref.InvitedCount, ref.Balance))
	}

	kb := keyboard.NewInlineKeyboard()
	if profile.SubscriptionActive {
		if profile.AutoRenewal {
			kb.AddRow(keyboard.Button(tr.T("profile.autorenew_disable"), UniqueRenew, "off"))
		} else {
			kb.AddRow(keyboard.Button(tr.T("profile.autorenew_enable"), UniqueRenew, "on"))
		}
	} else {
		kb.AddRow(keyboard.Button(tr.T("profile.subscribe"), UniquePlans, ""))
	}
	return show(c, b.String(), h.kb.Markup(kb))
}

// Plans lists the purchasable plans.
func (h *Profile) Plans(c telebot.Context) error {
	if _, err := Session(c); err != nil {
		return err
	}
	tr := Translator(c)

	kb := keyboard.NewInlineKeyboard()
	for _, plan := range h.plans {
		kb.AddRow(keyboard.Button(planName(tr, plan), UniquePay, plan))
	}
	kb.AddRow(keyboard.CancelButton(tr))
	return show(c, tr.T("plans.title"), h.kb.Markup(kb))
}

// Pay creates a YooKassa payment and sends the confirmation link.
// Repeated presses within paymentWindow reuse the first payment.
func (h *Profile) Pay(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	ctx := Context(c)
	tr := Translator(c)

	plan := strings.TrimSpace(Payload(c))
	if !h.offered(plan) {
		return apperrors.NewValidationError(fmt.Sprintf("unknown plan %q", plan))
	}
	if h.limits != nil {
		if err := h.limits.AllowAction(ctx, sess.TelegramID, ratelimit.ActionPayment); err != nil {
			return err
		}
	}

	create := func(ctx context.Context) (*api.CreatePaymentResponse, error) {
		return h.backend.CreatePayment(ctx, sess.Token, api.CreatePaymentRequest{
			Plan:        plan,
			AutoRenewal: true,
			ReturnURL:   h.returnURL,
		})
	}

	var resp *api.CreatePaymentResponse
	if h.payments != nil {
		var cached bool
		resp, cached, err = idempotency.Do(ctx, h.payments, idempotency.Key("payment", sess.TelegramID, plan), paymentWindow, create)
		if apperrors.Is(err, idempotency.ErrRequestInProgress) {
			return ack(c, tr.T("plans.in_progress"))
		}
		if cached {
			h.log.Info("payment link reused", slog.Int64("telegram_id", sess.TelegramID), slog.String("plan", plan))
		}
	} else {
		resp, err = create(ctx)
	}
	if err != nil {
		return err
	}

	h.log.Info("payment created", slog.Int64("telegram_id", sess.TelegramID), slog.String("plan", plan), slog.String("payment_id", resp.PaymentID))
	kb := keyboard.NewInlineKeyboard().AddRow(keyboard.LinkButton(tr.T("plans.pay"), resp.ConfirmationURL))
	return show(c, tr.Tf("plans.created", esc(planName(tr, plan))), h.kb.Markup(kb))
}

// Renew switches auto-renewal on or off and shows the refreshed profile.
func (h *Profile) Renew(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	ctx := Context(c)
	tr := Translator(c)

	switch Payload(c) {
	case "on":
		err = h.backend.EnableAutorenewal(ctx, sess.Token)
	case "off":
		err = h.backend.CancelAutorenewal(ctx, sess.Token)
	default:
		return apperrors.NewValidationError("renew " + Payload(c))
	}
	if err != nil {
		return err
	}

	_ = ack(c, tr.T(boolLabel(Payload(c) == "on", "profile.autorenew_on", "profile.autorenew_off")))
	return h.Show(c)
}

// History lists past payments.
func (h *Profile) History(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	items, err := h.backend.Payments(Context(c), sess.Token)
	if err != nil {
		if fatal := fallback(err); fatal != nil {
			return fatal
		}
	}
	if len(items) == 0 {
		return show(c, tr.T("payments.empty"), nil)
	}

	var b strings.Builder
	b.WriteString("<b>" + tr.T("payments.title") + "</b>\n")
	for _, p := range items {
		fmt.Fprintf(&b, "\n%s  %.2f %s  %s", p.CreatedAt.Format("02.01.2006"), p.Amount, esc(p.Currency), esc(paymentStatus(tr, p.Status)))
		if p.Description != "" {
			b.WriteString("\n<i>" + esc(p.Description) + "</i>")
		}
	}
	return show(c, b.String(), nil)
}

func (h *Profile) offered(plan string) bool {
	for _, p := range h.plans {
		if p == plan {
			return true
		}
	}
	return false
}

// planName falls back to the raw plan id when the catalog has no label.
func planName(tr i18n.Translator, plan string) string {
	if plan == "" {
		return ""
	}
	key := "plans." + plan
	if label := tr.T(key); label != key {
		return label
	}
	return plan
}

func paymentStatus(tr i18n.Translator, status string) string {
	key := "payments.status_" + status
	if label := tr.T(key); label != key {
		return label
	}
	return status
}
