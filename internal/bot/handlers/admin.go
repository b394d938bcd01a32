package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/activity"
	"github.com/librimoms/club-bot/internal/admin"
	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/presence"
)

const adminActionsShown = 10

// ChatNotifier delivers plain messages outside of an update.
type ChatNotifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// AdminOnly hides admin handlers from everyone else.
func AdminOnly(next Handler) Handler {
	return func(c telebot.Context) error {
		if !IsAdmin(c) {
			if c.Callback() != nil {
				return c.Respond(&telebot.CallbackResponse{Text: Translator(c).T("admin.forbidden"), ShowAlert: true})
			}
			return c.Send(Translator(c).T("admin.forbidden"))
		}
		return next(c)
	}
}

// DashboardBackend is the part of *api.Client behind the overview and the live feed.
type DashboardBackend interface {
	admin.DashboardBackend
	activity.Source
}

// Dashboard renders the admin overview and relays live activity into the chat.
type Dashboard struct {
	backend       DashboardBackend
	presence      Presence
	notifier      ChatNotifier
	activityLimit int
	adminLimit    int
	kb            *keyboard.Builder
	log           *slog.Logger

	mu       sync.Mutex
	trackers map[int64]*liveFeed
}

type liveFeed struct {
	tracker *activity.Tracker
	client  *presence.Client
	detach  func()
}

func NewDashboard(backend DashboardBackend, presence Presence, notifier ChatNotifier, activityLimit, adminLimit int, kb *keyboard.Builder, log *slog.Logger) *Dashboard {
	if log == nil {
		log = slog.Default()
	}
	return &Dashboard{
		backend:       backend,
		presence:      presence,
		notifier:      notifier,
		activityLimit: activityLimit,
		adminLimit:    adminLimit,
		kb:            kb,
		log:           log,
		trackers:      make(map[int64]*liveFeed),
	}
}

// Show loads every dashboard section. Failed sections are listed instead of failing the screen.
func (h *Dashboard) Show(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	tr := Translator(c)
	d := admin.LoadDashboard(Context(c), h.backend, tok, h.log)

	var b strings.Builder
	b.WriteString("<b>" + tr.T("admin.title") + "</b>\n\n")
	b.WriteString(tr.Tf("admin.stats", d.Stats.TotalUsers, d.Stats.NewUsersToday, d.Stats.ActiveSubscriptions, d.Stats.TotalMaterials, d.Stats.RevenueMonth))
	b.WriteString("\n\n" + tr.Tf("admin.bot_stats", d.Bot.ActiveToday, d.Bot.ActiveWeek, d.Bot.BlockedBot, d.Bot.MessagesToday))
	b.WriteString("\n\n" + tr.Tf("admin.push_stats", d.Push.Subscribed, d.Push.TotalUsers, d.Analytics.Sent, d.Analytics.Delivered, d.Analytics.Clicked))
	if len(d.Failed) > 0 {
		b.WriteString("\n\n<i>" + tr.Tf("admin.sections_failed", strings.Join(d.Failed, ", ")) + "</i>")
	}

	return show(c, b.String(), h.kb.Markup(adminMenu(tr, d.PendingWithdrawals)))
}

func adminMenu(tr i18n.Translator, pendingWithdrawals int) *keyboard.InlineKeyboardBuilder {
	withdrawals := tr.T("admin.menu.withdrawals")
	if pendingWithdrawals > 0 {
		withdrawals = fmt.Sprintf("%s (%d)", withdrawals, pendingWithdrawals)
	}
	return keyboard.NewInlineKeyboard().
		AddRow(
			keyboard.Button(tr.T("admin.menu.new_material"), UniqueMaterialNew, ""),
			keyboard.Button(tr.T("admin.menu.categories"), UniqueCategoryList, ""),
		).
		AddRow(
			keyboard.Button(tr.T("admin.menu.push"), UniquePushStart, ""),
			keyboard.Button(withdrawals, UniqueWithdrawals, ""),
		).
		AddRow(
			keyboard.Button(tr.T("admin.menu.users"), UniqueUsers, ""),
			keyboard.Button(tr.T("admin.menu.subscriptions"), UniqueSubscriptions, ""),
		).
		AddRow(
			keyboard.Button(tr.T("admin.menu.push_subscribers"), UniquePushSubscribers, ""),
			keyboard.Button(tr.T("admin.menu.activity"), UniqueActivity, ""),
		)
}

// Activity shows the recent feed and starts relaying new events. The "off" payload stops the relay.
func (h *Dashboard) Activity(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	id := senderID(c)
	tr := Translator(c)

	if Payload(c) == "off" {
		h.Stop(id)
		return show(c, tr.T("admin.activity.stopped"), nil)
	}

	feed := h.start(Context(c), c, id)
	feed.tracker.Load(Context(c), h.backend, tok)

	var b strings.Builder
	b.WriteString("<b>" + tr.T("admin.activity.title") + "</b>\n")
	items := feed.tracker.Activity.Items()
	if len(items) == 0 {
		b.WriteString("\n" + tr.T("admin.activity.empty"))
	}
	for _, a := range items {
		b.WriteString("\n" + activityLine(a, esc))
	}
	if actions := feed.tracker.AdminActions.Items(); len(actions) > 0 {
		b.WriteString("\n\n<b>" + tr.T("admin.activity.admin_title") + "</b>\n")
		if len(actions) > adminActionsShown {
			actions = actions[:adminActionsShown]
		}
		for _, a := range actions {
			b.WriteString("\n" + adminActionLine(a, esc))
		}
	}

	kb := keyboard.NewInlineKeyboard().AddRow(keyboard.Button(tr.T("admin.activity.stop"), UniqueActivity, "off"))
	return show(c, b.String(), h.kb.Markup(kb))
}

// start returns the admin's live feed and makes sure it is subscribed to a running
// admin page client. A library view or a dropped connection replaces that client,
// so the feed is attached again when its client is gone.
func (h *Dashboard) start(ctx context.Context, c telebot.Context, telegramID int64) *liveFeed {
	h.mu.Lock()
	defer h.mu.Unlock()

	if feed, ok := h.trackers[telegramID]; ok {
		if !h.bound(feed, telegramID) {
			feed.detach()
			h.attach(ctx, telegramID, feed)
		}
		return feed
	}

	chatID := telegramID
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	tr := Translator(c)

	feed := &liveFeed{tracker: activity.NewTracker(h.activityLimit, h.adminLimit, h.log), detach: func() {}}
	feed.tracker.OnActivity = func(a api.Activity) {
		h.relay(chatID, tr.T("admin.activity.new")+"\n"+activityLine(a, plain))
	}
	feed.tracker.OnAdminAction = func(a api.AdminAction) {
		h.relay(chatID, tr.T("admin.activity.new_admin")+"\n"+adminActionLine(a, plain))
	}

	h.attach(ctx, telegramID, feed)
	h.trackers[telegramID] = feed
	return feed
}

// bound reports whether the feed still listens to the admin's running client.
func (h *Dashboard) bound(feed *liveFeed, telegramID int64) bool {
	if h.presence == nil {
		return true
	}
	cur, ok := h.presence.Get(telegramID)
	return ok && cur == feed.client && cur.Page() == presence.PageAdmin
}

func (h *Dashboard) attach(ctx context.Context, telegramID int64, feed *liveFeed) {
	feed.client = nil
	feed.detach = func() {}
	if h.presence == nil {
		return
	}

	var subscribed bool
	client := h.presence.Attach(ctx, telegramID, presence.PageAdmin, func(client *presence.Client) {
		feed.detach = feed.tracker.Attach(client)
		subscribed = true
	})
	// An admin client that was already running comes back without setup.
	if client != nil && !subscribed {
		feed.detach = feed.tracker.Attach(client)
	}
	feed.client = client
}

// Stop detaches the live feed of an admin. It is also the FlowResetter hook.
func (h *Dashboard) Stop(telegramID int64) {
	h.mu.Lock()
	feed, ok := h.trackers[telegramID]
	delete(h.trackers, telegramID)
	h.mu.Unlock()

	if !ok {
		return
	}
	feed.detach()
	if h.presence != nil {
		h.presence.Detach(telegramID)
	}
}

func (h *Dashboard) relay(chatID int64, text string) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Notify(context.Background(), chatID, text); err != nil {
		h.log.Warn("activity relay failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

// plain leaves text as is for messages sent without a parse mode.
func plain(s string) string { return s }

func activityLine(a api.Activity, quote func(string) string) string {
	line := a.CreatedAt.Format("15:04") + " " + quote(a.UserName)
	switch {
	case a.Message != "":
		line += ": " + quote(a.Message)
	case a.MaterialTitle != "":
		line += " · " + quote(a.Type) + " · " + quote(a.MaterialTitle)
	default:
		line += " · " + quote(a.Type)
	}
	return line
}

func adminActionLine(a api.AdminAction, quote func(string) string) string {
	line := fmt.Sprintf("%s %s · %s", a.CreatedAt.Format("02.01 15:04"), quote(a.AdminName), quote(a.Action))
	if a.TargetType != "" {
		line += fmt.Sprintf(" %s #%d", quote(a.TargetType), a.TargetID)
	}
	if a.Details != "" {
		line += " · " + quote(a.Details)
	}
	return line
}
