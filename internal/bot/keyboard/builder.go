package keyboard

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/i18n"
)

// Callback names shared by several screens.
const (
	UniqueCancel = "cancel"
	UniqueMenu   = "menu"
)

// Builder renders inline keyboards and logs the ones that cannot be encoded.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{log: log}
}

// Markup builds kb. A keyboard that fails to encode is dropped and nil is returned.
func (b *Builder) Markup(kb *InlineKeyboardBuilder) *telebot.ReplyMarkup {
	if kb == nil || kb.Rows() == 0 {
		return nil
	}
	markup, err := kb.Build()
	if err != nil {
		b.log.Error("failed to build inline keyboard", slog.Any("error", err))
		return nil
	}
	return markup
}

// Confirm builds a yes/no pair. The no button cancels the current flow.
func (b *Builder) Confirm(t i18n.Translator, yes InlineButton) *telebot.ReplyMarkup {
	return b.Markup(NewInlineKeyboard().AddRow(yes, CancelButton(t)))
}

// Cancel builds a single cancel button.
func (b *Builder) Cancel(t i18n.Translator) *telebot.ReplyMarkup {
	return b.Markup(NewInlineKeyboard().AddRow(CancelButton(t)))
}

func CancelButton(t i18n.Translator) InlineButton {
	return Button(translated(t, "common.cancel", "Cancel ❌"), UniqueCancel, "")
}
