package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/imaging"
	"github.com/librimoms/club-bot/internal/library"
	"github.com/librimoms/club-bot/internal/presence"
	"github.com/librimoms/club-bot/internal/ratelimit"
)

const historyPageSize = 10

// Card field caps keep a material card within one message.
const (
	cardTitleShown       = 256
	cardCategoriesShown  = 256
	cardDescriptionShown = 3200
)

// ActionLimiter is implemented by *ratelimit.Guard.
type ActionLimiter interface {
	AllowAction(ctx context.Context, userID int64, action string) error
}

// PushStatus tells whether the push offer should be shown. *push.Service implements it.
type PushStatus interface {
	Enabled() bool
	Subscribed(ctx context.Context, telegramID int64) (bool, error)
}

// Presence is implemented by *presence.Manager.
type Presence interface {
	Attach(ctx context.Context, telegramID int64, page presence.Page, setup func(*presence.Client)) *presence.Client
	Get(telegramID int64) (*presence.Client, bool)
	Detach(telegramID int64)
}

// Library serves the member side: feed, materials, favorites, history and stats.
type Library struct {
	svc      *library.Service
	presence Presence
	push     PushStatus
	limits   ActionLimiter
	kb       *keyboard.Builder
	log      *slog.Logger
}

func NewLibrary(svc *library.Service, presence Presence, push PushStatus, limits ActionLimiter, kb *keyboard.Builder, log *slog.Logger) *Library {
	if log == nil {
		log = slog.Default()
	}
	return &Library{svc: svc, presence: presence, push: push, limits: limits, kb: kb, log: log}
}

// Feed shows the first page of the library, optionally filtered by /search arguments.
func (h *Library) Feed(c telebot.Context) error {
	return h.feed(c, 0, "")
}

func (h *Library) Search(c telebot.Context) error {
	query := strings.TrimSpace(Payload(c))
	if query == "" {
		return c.Send(Translator(c).T("library.search_usage"))
	}
	return h.feed(c, 0, query)
}

// Category filters the feed by the category in the payload. Zero clears the filter.
func (h *Library) Category(c telebot.Context) error {
	id, err := payloadID(c)
	if err != nil {
		id = 0
	}
	return h.feed(c, id, "")
}

func (h *Library) feed(c telebot.Context, categoryID int64, search string) error {
	sess, err := member(c)
	if err != nil {
		return err
	}
	ctx := Context(c)
	tr := Translator(c)

	pager, err := h.svc.Feed(ctx, sess.Token, sess.TelegramID, categoryID, search)
	if err != nil {
		if fatal := fallback(err); fatal != nil {
			return fatal
		}
	}

	header := tr.T("library.title")
	if search != "" {
		header = tr.Tf("library.search_title", esc(search))
	}
	if online := h.online(ctx, sess.TelegramID); online > 0 {
		header += "\n" + tr.Tf("library.online", online)
	}

	items := pager.Items()
	if len(items) == 0 {
		text := header + "\n\n" + tr.T("library.empty")
		if err != nil {
			text = header + "\n\n" + tr.T("library.unavailable")
		}
		return show(c, text, h.kb.Markup(keyboard.NewInlineKeyboard().AddRow(
			keyboard.Button(tr.T("library.categories"), UniqueCategories, ""),
		)))
	}

	text, kb := materialList(tr, header, items, h.svc.FavoriteSet(sess.TelegramID))
	text += "\n\n" + tr.Tf("library.shown", len(items), pager.Total())

	nav := []keyboard.InlineButton{keyboard.Button(tr.T("library.categories"), UniqueCategories, "")}
	if pager.HasMore() {
		nav = append(nav, keyboard.Button(tr.T("library.more"), UniqueFeedMore, ""))
	}
	kb.AddRow(nav...)
	h.pushPromo(ctx, c, tr, kb)

	return show(c, text, h.kb.Markup(kb))
}

// More appends the next page and sends only the new items.
func (h *Library) More(c telebot.Context) error {
	sess, err := member(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	pager, added, err := h.svc.More(Context(c), sess.Token, sess.TelegramID)
	if err != nil {
		if fatal := fallback(err); fatal != nil {
			return fatal
		}
		return ack(c, tr.T("library.unavailable"))
	}
	_ = c.Respond()
	if added == 0 {
		return c.Send(tr.T("library.end"))
	}

	items := pager.Items()
	text, kb := materialList(tr, tr.Tf("library.shown", len(items), pager.Total()), items[len(items)-added:], h.svc.FavoriteSet(sess.TelegramID))
	if pager.HasMore() {
		kb.AddRow(keyboard.Button(tr.T("library.more"), UniqueFeedMore, ""))
	}
	return send(c, text, h.kb.Markup(kb), telebot.ModeHTML)
}

// Categories lists filters for the feed.
func (h *Library) Categories(c telebot.Context) error {
	sess, err := member(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	cats, err := h.svc.Categories(Context(c), sess.Token)
	if err != nil {
		if fatal := fallback(err); fatal != nil {
			return fatal
		}
	}

	kb := keyboard.NewInlineKeyboard().AddRow(keyboard.IDButton(tr.T("library.all_categories"), UniqueCategory, 0))
	for _, cat := range cats {
		label := cat.Name
		if cat.Icon != "" {
			label = cat.Icon + " " + label
		}
		if cat.MaterialsCount > 0 {
			label = fmt.Sprintf("%s (%d)", label, cat.MaterialsCount)
		}
		kb.AddRow(keyboard.IDButton(label, UniqueCategory, cat.ID))
	}
	return show(c, tr.T("library.choose_category"), h.kb.Markup(kb))
}

// Open shows one material and records the view.
func (h *Library) Open(c telebot.Context) error {
	sess, err := member(c)
	if err != nil {
		return err
	}
	id, err := payloadID(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	m, err := h.svc.Open(Context(c), sess.Token, sess.TelegramID, id)
	if err != nil {
		if api.IsNotFound(err) {
			return apperrors.NewNotFoundError("material")
		}
		return err
	}
	if c.Callback() != nil {
		_ = c.Respond()
	}

	favs := h.svc.FavoriteSet(sess.TelegramID)
	text := materialCard(tr, m, favs.Count(m.ID))
	markup := h.kb.Markup(h.cardKeyboard(tr, m, favs.Has(m.ID)))

	if cover := m.Cover(); imaging.IsExternalURL(cover) {
		if textLen(text) <= captionLimit {
			opts := []any{telebot.ModeHTML}
			if markup != nil {
				opts = append(opts, markup)
			}
			return c.Send(&telebot.Photo{File: telebot.FromURL(cover), Caption: text}, opts...)
		}
		// Too long for a caption: the card follows the photo as its own message.
		if err := c.Send(&telebot.Photo{File: telebot.FromURL(cover)}); err != nil {
			return err
		}
	}
	return send(c, text, markup, telebot.ModeHTML)
}

func (h *Library) cardKeyboard(tr i18n.Translator, m *api.Material, favorite bool) *keyboard.InlineKeyboardBuilder {
	kb := keyboard.NewInlineKeyboard()
	if m.ExternalURL != "" {
		kb.AddRow(keyboard.LinkButton(tr.T("material.open"), m.ExternalURL))
	}
	favLabel := boolLabel(favorite, tr.T("material.unfavorite"), tr.T("material.favorite"))
	kb.AddRow(keyboard.IDButton(favLabel, UniqueFavorite, m.ID))
	return kb
}

// Favorite toggles membership optimistically and updates the card keyboard.
func (h *Library) Favorite(c telebot.Context) error {
	sess, err := member(c)
	if err != nil {
		return err
	}
	id, err := payloadID(c)
	if err != nil {
		return err
	}
	ctx := Context(c)
	tr := Translator(c)

	if h.limits != nil {
		if err := h.limits.AllowAction(ctx, sess.TelegramID, ratelimit.ActionFavorite); err != nil {
			return err
		}
	}

	isFavorite, count, err := h.svc.ToggleFavorite(ctx, sess.Token, sess.TelegramID, id)
	if err != nil {
		return err
	}

	m := &api.Material{ID: id}
	if cur, ok := h.svc.Pager(sess.TelegramID).Find(id); ok {
		m = &cur
	}
	if c.Callback() != nil {
		if markup := h.kb.Markup(h.cardKeyboard(tr, m, isFavorite)); markup != nil {
			if err := c.Edit(markup); err != nil {
				h.log.Debug("favorite keyboard not updated", slog.Any("error", err))
			}
		}
	}
	return ack(c, boolLabel(isFavorite, tr.Tf("material.favorited", count), tr.Tf("material.unfavorited", count)))
}

func (h *Library) Favorites(c telebot.Context) error {
	sess, err := member(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	items, err := h.svc.Favorites(Context(c), sess.Token, sess.TelegramID)
	if err != nil {
		if fatal := fallback(err); fatal != nil {
			return fatal
		}
	}
	if len(items) == 0 {
		return show(c, tr.T("favorites.empty"), nil)
	}

	text, kb := materialList(tr, tr.Tf("favorites.title", len(items)), items, h.svc.FavoriteSet(sess.TelegramID))
	return show(c, text, h.kb.Markup(kb))
}

// History pages through viewed materials, newest first.
func (h *Library) History(c telebot.Context) error {
	sess, err := member(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	entries, err := h.svc.History(Context(c), sess.Token)
	if err != nil {
		if fatal := fallback(err); fatal != nil {
			return fatal
		}
	}
	if len(entries) == 0 {
		return show(c, tr.T("history.empty"), nil)
	}

	page := 1
	if c.Callback() != nil {
		page = keyboard.ParsePage(Payload(c))
	}
	chunk, pages := keyboard.Page(entries, page, historyPageSize)

	var b strings.Builder
	b.WriteString("<b>" + tr.T("history.title") + "</b>\n")
	kb := keyboard.NewInlineKeyboard()
	for _, e := range chunk {
		fmt.Fprintf(&b, "\n%s  %s", e.ViewedAt.Format("02.01 15:04"), esc(e.Material.Title))
		kb.AddRow(keyboard.IDButton(shorten(e.Material.Title, 40), UniqueMaterial, e.Material.ID))
	}
	if pages > 1 {
		kb.AddRow(keyboard.PaginationButtons(tr, UniqueHistoryPage, page, pages)...)
	}
	return show(c, b.String(), h.kb.Markup(kb))
}

func (h *Library) Recommendations(c telebot.Context) error {
	sess, err := member(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	items, err := h.svc.Recommendations(Context(c), sess.Token, sess.TelegramID)
	if err != nil {
		if fatal := fallback(err); fatal != nil {
			return fatal
		}
	}
	if len(items) == 0 {
		return show(c, tr.T("recommend.empty"), nil)
	}

	text, kb := materialList(tr, tr.T("recommend.title"), items, h.svc.FavoriteSet(sess.TelegramID))
	return show(c, text, h.kb.Markup(kb))
}

func (h *Library) Stats(c telebot.Context) error {
	sess, err := Session(c)
	if err != nil {
		return err
	}
	tr := Translator(c)

	stats, err := h.svc.Stats(Context(c), sess.Token)
	if err != nil {
		if fatal := fallback(err); fatal != nil {
			return fatal
		}
		stats = &api.UserStats{}
	}
	return show(c, tr.Tf("stats.text", stats.MaterialsViewed, stats.FavoritesCount, stats.DaysInClub, stats.Streak), nil)
}

// online returns the library roster size, starting the presence client on first use.
func (h *Library) online(ctx context.Context, telegramID int64) int {
	if h.presence == nil {
		return 0
	}
	client := h.presence.Attach(ctx, telegramID, presence.PageLibrary, nil)
	if client == nil {
		return 0
	}
	return len(client.Online())
}

// pushPromo offers push delivery until the user subscribes or dismisses the offer.
func (h *Library) pushPromo(ctx context.Context, c telebot.Context, tr i18n.Translator, kb *keyboard.InlineKeyboardBuilder) {
	if h.push == nil || !h.push.Enabled() {
		return
	}
	if p := Preferences(c); p == nil || p.PushPromoDismissed {
		return
	}
	subscribed, err := h.push.Subscribed(ctx, senderID(c))
	if err != nil || subscribed {
		return
	}
	kb.AddRow(
		keyboard.Button(tr.T("push.promo"), UniquePushOn, ""),
		keyboard.Button(tr.T("push.promo_dismiss"), UniquePushDismiss, ""),
	)
}

func materialList(tr i18n.Translator, header string, items []api.Material, favs *library.Favorites) (string, *keyboard.InlineKeyboardBuilder) {
	var b strings.Builder
	b.WriteString("<b>" + header + "</b>\n")

	kb := keyboard.NewInlineKeyboard()
	for i, m := range items {
		mark := ""
		if favs != nil && favs.Has(m.ID) {
			mark = " ❤️"
		}
		if m.IsFeatured {
			mark += " ⭐"
		}
		fmt.Fprintf(&b, "\n%d. %s%s", i+1, esc(m.Title), mark)
		kb.AddRow(keyboard.IDButton(shorten(m.Title, 40), UniqueMaterial, m.ID))
	}
	return b.String(), kb
}

func materialCard(tr i18n.Translator, m *api.Material, favorites int) string {
	var b strings.Builder
	b.WriteString("<b>" + esc(clip(m.Title, cardTitleShown)) + "</b>")
	if names := m.CategoryNames(); len(names) > 0 {
		b.WriteString("\n<i>" + esc(clip(strings.Join(names, ", "), cardCategoriesShown)) + "</i>")
	}
	if m.Description != "" {
		b.WriteString("\n\n" + esc(clip(m.Description, cardDescriptionShown)))
	}
	if m.Format != "" {
		b.WriteString("\n\n" + tr.Tf("material.format", esc(m.Format)))
	}
	b.WriteString("\n" + tr.Tf("material.counters", m.Views, favorites))
	return b.String()
}

// fallback keeps list screens alive on transient failures. Auth and subscription errors still surface.
func fallback(err error) error {
	if apperrors.HasCode(err, apperrors.CodeAuth) || apperrors.HasCode(err, apperrors.CodeSubscription) {
		return err
	}
	return nil
}

func shorten(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
