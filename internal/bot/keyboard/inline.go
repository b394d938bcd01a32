package keyboard

import (
	"fmt"
	"strconv"

	telebot "gopkg.in/telebot.v3"
)

// InlineButton represents a lightweight inline keyboard button definition used by the builder.
type InlineButton struct {
	Text   string
	Unique string // Identifier that differentiates callback handlers.
	Data   string // Payload that will be encoded into callback data.
	// URL makes a link button; Unique and Data are ignored.
	URL string
}

// Button is a callback button.
func Button(text, unique, data string) InlineButton {
	return InlineButton{Text: text, Unique: unique, Data: data}
}

// IDButton is a callback button whose payload is a numeric id.
func IDButton(text, unique string, id int64) InlineButton {
	return InlineButton{Text: text, Unique: unique, Data: strconv.FormatInt(id, 10)}
}

// LinkButton opens url.
func LinkButton(text, url string) InlineButton {
	return InlineButton{Text: text, URL: url}
}

// InlineKeyboardBuilder accumulates rows of InlineButton definitions before rendering telebot markup.
type InlineKeyboardBuilder struct {
	rows [][]InlineButton
}

// NewInlineKeyboard creates a builder instance backed by inline reply markup.
func NewInlineKeyboard() *InlineKeyboardBuilder {
	return &InlineKeyboardBuilder{rows: make([][]InlineButton, 0)}
}

// AddRow appends a new row made of custom InlineButton definitions.
func (b *InlineKeyboardBuilder) AddRow(buttons ...InlineButton) *InlineKeyboardBuilder {
	if len(buttons) == 0 {
		return b
	}

	row := make([]InlineButton, len(buttons))
	copy(row, buttons)
	b.rows = append(b.rows, row)
	return b
}

// AddColumn puts every button on its own row.
func (b *InlineKeyboardBuilder) AddColumn(buttons ...InlineButton) *InlineKeyboardBuilder {
	for _, btn := range buttons {
		b.AddRow(btn)
	}
	return b
}

// Rows reports how many rows were added.
func (b *InlineKeyboardBuilder) Rows() int {
	return len(b.rows)
}

// Build renders the markup. Callback data goes into Data only, so every press reaches the OnCallback route.
func (b *InlineKeyboardBuilder) Build() (*telebot.ReplyMarkup, error) {
	inlineKeyboard := make([][]telebot.InlineButton, len(b.rows))
	for i, row := range b.rows {
		inlineKeyboard[i] = make([]telebot.InlineButton, len(row))
		for j, btn := range row {
			if btn.URL != "" {
				inlineKeyboard[i][j] = telebot.InlineButton{Text: btn.Text, URL: btn.URL}
				continue
			}

			data, err := EncodeCallback(btn.Unique, btn.Data)
			if err != nil {
				return nil, fmt.Errorf("button %q: %w", btn.Text, err)
			}
			inlineKeyboard[i][j] = telebot.InlineButton{Text: btn.Text, Data: data}
		}
	}

	return &telebot.ReplyMarkup{InlineKeyboard: inlineKeyboard}, nil
}
