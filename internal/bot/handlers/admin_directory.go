package handlers

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/admin"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/state"
)

// subscriptionStatuses are the filters of the subscription list. Empty means all.
var subscriptionStatuses = []string{"active", "expired", ""}

// subscriptionsShown keeps the list within one Telegram message.
const subscriptionsShown = 50

// Directory covers categories, withdrawals, users and subscriptions.
type Directory struct {
	fsm         state.StateMachine
	categories  *admin.Categories
	withdrawals *admin.Withdrawals
	users       *admin.Users
	kb          *keyboard.Builder
	log         *slog.Logger
}

func NewDirectory(fsm state.StateMachine, categories *admin.Categories, withdrawals *admin.Withdrawals, users *admin.Users, kb *keyboard.Builder, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{fsm: fsm, categories: categories, withdrawals: withdrawals, users: users, kb: kb, log: log}
}

// Categories lists categories with rename and delete buttons.
func (h *Directory) Categories(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	items, err := h.categories.Load(Context(c), tok)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("<b>" + tr.T("admin.categories.title") + "</b>\n")
	kb := keyboard.NewInlineKeyboard()
	for _, cat := range items {
		fmt.Fprintf(&b, "\n%s (%d)", esc(cat.Name), cat.MaterialsCount)
		kb.AddRow(
			keyboard.IDButton("✏️ "+shorten(cat.Name, 24), UniqueCategoryRename, cat.ID),
			keyboard.IDButton("🗑", UniqueCategoryDelete, cat.ID),
		)
	}
	if len(items) == 0 {
		b.WriteString("\n" + tr.T("admin.categories.empty"))
	}
	kb.AddRow(keyboard.Button(tr.T("admin.categories.new"), UniqueCategoryNew, ""))
	return show(c, b.String(), h.kb.Markup(kb))
}

// NewCategory asks for the name of a new category.
func (h *Directory) NewCategory(c telebot.Context) error {
	return h.askName(c, 0, "admin.categories.prompt_new")
}

func (h *Directory) RenameCategory(c telebot.Context) error {
	id, err := payloadID(c)
	if err != nil {
		return err
	}
	return h.askName(c, id, "admin.categories.prompt_rename")
}

func (h *Directory) askName(c telebot.Context, categoryID int64, prompt string) error {
	if err := h.fsm.SetState(Context(c), senderID(c), state.StateCategoryName, map[string]interface{}{state.ContextCategoryID: categoryID}); err != nil {
		return err
	}
	tr := Translator(c)
	return show(c, tr.T(prompt), h.kb.Cancel(tr))
}

// CategoryName receives the name typed after NewCategory or RenameCategory.
func (h *Directory) CategoryName(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	ctx := Context(c)
	id := senderID(c)
	tr := Translator(c)

	st, err := h.fsm.Current(ctx, id)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(c.Text())
	if categoryID := st.Int64(state.ContextCategoryID); categoryID != 0 {
		if _, err := h.categories.Rename(ctx, tok, categoryID, name); err != nil {
			return err
		}
	} else if _, err := h.categories.Create(ctx, tok, name); err != nil {
		return err
	}

	if err := h.fsm.ClearState(ctx, id); err != nil {
		h.log.Warn("category state not cleared", slog.Int64("telegram_id", id), slog.Any("error", err))
	}
	if err := c.Send(tr.Tf("admin.categories.saved", esc(name)), telebot.ModeHTML); err != nil {
		return err
	}
	return h.Categories(c)
}

// DeleteCategory asks for confirmation, then deletes. The confirming press carries "<id>:yes".
func (h *Directory) DeleteCategory(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	id, confirmed, err := confirmPayload(Payload(c))
	if err != nil {
		return err
	}
	tr := Translator(c)

	if !confirmed {
		yes := keyboard.Button(tr.T("admin.categories.delete_yes"), UniqueCategoryDelete, strconv.FormatInt(id, 10)+":yes")
		return show(c, tr.T("admin.categories.confirm_delete"), h.kb.Confirm(tr, yes))
	}

	if err := h.categories.Delete(Context(c), tok, id); err != nil {
		return err
	}
	_ = ack(c, tr.T("admin.categories.deleted"))
	return h.Categories(c)
}

// Withdrawals lists pending payout requests.
func (h *Directory) Withdrawals(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	items, err := h.withdrawals.Pending(Context(c), tok)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return show(c, tr.T("admin.withdrawals.empty"), nil)
	}

	var b strings.Builder
	b.WriteString("<b>" + tr.Tf("admin.withdrawals.title", len(items)) + "</b>\n")
	kb := keyboard.NewInlineKeyboard()
	for _, w := range items {
		who := w.Username
		if who == "" {
			who = strconv.FormatInt(w.TelegramID, 10)
		} else {
			who = "@" + who
		}
		fmt.Fprintf(&b, "\n#%d %s · %.2f · %s\n<i>%s</i>", w.ID, esc(who), w.Amount, esc(w.Method), esc(w.Details))
		kb.AddRow(
			keyboard.IDButton(tr.Tf("admin.withdrawals.approve", w.ID), UniqueWithdrawApprove, w.ID),
			keyboard.IDButton(tr.Tf("admin.withdrawals.reject", w.ID), UniqueWithdrawReject, w.ID),
		)
	}
	return show(c, b.String(), h.kb.Markup(kb))
}

func (h *Directory) ApproveWithdrawal(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	id, err := payloadID(c)
	if err != nil {
		return err
	}

	if err := h.withdrawals.Approve(Context(c), tok, id); err != nil {
		return err
	}
	_ = ack(c, Translator(c).Tf("admin.withdrawals.approved", id))
	return h.Withdrawals(c)
}

// RejectWithdrawal asks for the reason that is sent to the user.
func (h *Directory) RejectWithdrawal(c telebot.Context) error {
	id, err := payloadID(c)
	if err != nil {
		return err
	}
	if err := h.fsm.SetState(Context(c), senderID(c), state.StateWithdrawalReject, map[string]interface{}{state.ContextWithdrawalID: id}); err != nil {
		return err
	}
	tr := Translator(c)
	return show(c, tr.Tf("admin.withdrawals.prompt_reason", id), h.kb.Cancel(tr))
}

func (h *Directory) RejectReason(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	ctx := Context(c)
	id := senderID(c)
	tr := Translator(c)

	st, err := h.fsm.Current(ctx, id)
	if err != nil {
		return err
	}
	withdrawalID := st.Int64(state.ContextWithdrawalID)
	if withdrawalID == 0 {
		return apperrors.NewStateError("no withdrawal selected")
	}

	if err := h.withdrawals.Reject(ctx, tok, withdrawalID, c.Text()); err != nil {
		return err
	}
	if err := h.fsm.ClearState(ctx, id); err != nil {
		h.log.Warn("withdrawal state not cleared", slog.Int64("telegram_id", id), slog.Any("error", err))
	}
	if err := c.Send(tr.Tf("admin.withdrawals.rejected", withdrawalID)); err != nil {
		return err
	}
	return h.Withdrawals(c)
}

// Users searches right away for "/users <query>", otherwise it asks for the query.
func (h *Directory) Users(c telebot.Context) error {
	if q := strings.TrimSpace(Payload(c)); q != "" && c.Callback() == nil {
		return h.search(c, q)
	}
	if err := h.fsm.SetState(Context(c), senderID(c), state.StateUserSearch, nil); err != nil {
		return err
	}
	tr := Translator(c)
	return show(c, tr.T("admin.users.prompt"), h.kb.Cancel(tr))
}

// UserQuery receives the query typed after Users. A too short query keeps the prompt open.
func (h *Directory) UserQuery(c telebot.Context) error {
	if err := h.search(c, c.Text()); err != nil {
		return err
	}
	if err := h.fsm.ClearState(Context(c), senderID(c)); err != nil {
		h.log.Warn("user search state not cleared", slog.Int64("telegram_id", senderID(c)), slog.Any("error", err))
	}
	return nil
}

func (h *Directory) search(c telebot.Context, q string) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	found, err := h.users.Search(Context(c), tok, q)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return c.Send(tr.T("admin.users.none"))
	}

	kb := keyboard.NewInlineKeyboard()
	for _, u := range found {
		label := u.FirstName
		if u.Username != "" {
			label += " @" + u.Username
		}
		if u.HasSubscription {
			label += " ✓"
		}
		kb.AddRow(keyboard.IDButton(shorten(label, 40), UniqueUser, u.TelegramID))
	}
	return send(c, tr.Tf("admin.users.found", len(found)), h.kb.Markup(kb))
}

// User shows the details of one user.
func (h *Directory) User(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	telegramID, err := payloadID(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	d, err := h.users.Details(Context(c), tok, telegramID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>", esc(d.User.FirstName))
	if d.User.Username != "" {
		b.WriteString(" @" + esc(d.User.Username))
	}
	fmt.Fprintf(&b, "\nID: <code>%d</code>", d.User.TelegramID)
	if sub := d.Subscription; sub != nil && sub.IsActive {
		b.WriteString("\n" + tr.Tf("admin.users.subscription", esc(planName(tr, sub.Plan)), sub.DaysLeft))
	} else {
		b.WriteString("\n" + tr.T("admin.users.no_subscription"))
	}
	b.WriteString("\n" + tr.Tf("admin.users.push", len(d.Subscriptions)))
	if d.LastActiveAt != nil {
		b.WriteString("\n" + tr.Tf("admin.users.last_active", d.LastActiveAt.Format("02.01.2006 15:04")))
	}
	return show(c, b.String(), nil)
}

// Subscriptions lists subscriptions filtered by the status in the payload.
func (h *Directory) Subscriptions(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	tr := Translator(c)
	status := strings.TrimSpace(Payload(c))

	items, err := h.users.Subscriptions(Context(c), tok, status)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("<b>" + tr.Tf("admin.subscriptions.title", len(items)) + "</b>\n")
	shown := items
	if len(shown) > subscriptionsShown {
		shown = shown[:subscriptionsShown]
	}
	for _, s := range shown {
		until := ""
		if s.ExpiresAt != nil {
			until = s.ExpiresAt.Format("02.01.2006")
		}
		renew := ""
		if s.AutoRenewal {
			renew = " ↻"
		}
		fmt.Fprintf(&b, "\n%s · %s · %s %s%s", esc(s.Username), esc(planName(tr, s.Plan)), esc(s.Status), until, renew)
	}

	kb := keyboard.NewInlineKeyboard()
	var filters []keyboard.InlineButton
	for _, st := range subscriptionStatuses {
		label := tr.T("admin.subscriptions.filter_" + boolLabel(st == "", "all", st))
		if st == status {
			label = "• " + label
		}
		filters = append(filters, keyboard.Button(label, UniqueSubscriptions, st))
	}
	kb.AddRow(filters...)
	return show(c, b.String(), h.kb.Markup(kb))
}

// PushSubscribers lists users reachable by web push. Each opens the user card.
func (h *Directory) PushSubscribers(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	subs, err := h.users.PushSubscribers(Context(c), tok)
	if err != nil {
		return err
	}

	kb := keyboard.NewInlineKeyboard()
	shown := subs.Users
	if len(shown) > subscriptionsShown {
		shown = shown[:subscriptionsShown]
	}
	for _, u := range shown {
		label := u.FirstName
		if u.Username != "" {
			label += " @" + u.Username
		}
		kb.AddRow(keyboard.IDButton(shorten(label, 40), UniqueUser, u.TelegramID))
	}
	return show(c, tr.Tf("admin.users.push_subscribers", subs.Total), h.kb.Markup(kb))
}
