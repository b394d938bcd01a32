package keyboard

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/i18n"
)

// Menu keys double as the reply button texts after translation.
const (
	MenuLibrary       = "menu.library"
	MenuFavorites     = "menu.favorites"
	MenuNotifications = "menu.notifications"
	MenuProfile       = "menu.profile"
	MenuSettings      = "menu.settings"
	MenuHelp          = "menu.help"
	MenuAdmin         = "menu.admin"
)

// MenuKeys lists every reply button, admin last.
var MenuKeys = []string{MenuLibrary, MenuFavorites, MenuNotifications, MenuProfile, MenuSettings, MenuHelp, MenuAdmin}

// MainMenu builds a localized reply keyboard for the bot main menu.
func MainMenu(t i18n.Translator, admin bool) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}

	lookup := func(key string) string {
		if t == nil {
			return key
		}
		return t.T(key)
	}

	rows := []telebot.Row{
		markup.Row(markup.Text(lookup(MenuLibrary)), markup.Text(lookup(MenuFavorites))),
		markup.Row(markup.Text(lookup(MenuNotifications)), markup.Text(lookup(MenuProfile))),
		markup.Row(markup.Text(lookup(MenuSettings)), markup.Text(lookup(MenuHelp))),
	}
	if admin {
		rows = append(rows, markup.Row(markup.Text(lookup(MenuAdmin))))
	}
	markup.Reply(rows...)

	return markup
}
