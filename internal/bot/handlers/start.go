package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/bot/keyboard"
	"github.com/librimoms/club-bot/internal/state"
)

// Start greets the user and shows the main menu. Any unfinished flow is dropped.
type Start struct {
	fsm state.StateMachine
	log *slog.Logger
}

func NewStart(fsm state.StateMachine, log *slog.Logger) *Start {
	if log == nil {
		log = slog.Default()
	}
	return &Start{fsm: fsm, log: log}
}

func (h *Start) Start(c telebot.Context) error {
	tr := Translator(c)
	userID := senderID(c)

	if err := h.fsm.ClearState(Context(c), userID); err != nil {
		h.log.Warn("failed to reset state on start", slog.Int64("telegram_id", userID), slog.Any("error", err))
	}

	name := ""
	if c.Sender() != nil {
		name = c.Sender().FirstName
	}
	text := tr.Tf("start.welcome", esc(name))

	if sess, err := Session(c); err == nil && sess.Profile != nil {
		if sess.HasSubscription() {
			text += "\n\n" + tr.Tf("start.subscription_active", sess.Profile.SubscriptionDaysLeft)
		} else {
			text += "\n\n" + tr.T("start.subscription_inactive")
		}
	} else if err != nil {
		text += "\n\n" + tr.T("start.offline")
	}

	return c.Send(text, telebot.ModeHTML, keyboard.MainMenu(tr, IsAdmin(c)))
}

func (h *Start) Help(c telebot.Context) error {
	tr := Translator(c)
	text := tr.T("help.member")
	if IsAdmin(c) {
		text += "\n\n" + tr.T("help.admin")
	}
	return c.Send(text, telebot.ModeHTML, keyboard.MainMenu(tr, IsAdmin(c)))
}

// Menu handles the inline "back to menu" button.
func (h *Start) Menu(c telebot.Context) error {
	tr := Translator(c)
	if c.Callback() != nil {
		_ = c.Respond()
	}
	return c.Send(tr.T("start.menu"), keyboard.MainMenu(tr, IsAdmin(c)))
}

// Fallback answers text that no command, button or flow claimed.
func (h *Start) Fallback(c telebot.Context) error {
	tr := Translator(c)
	return c.Send(tr.T("start.unknown"), keyboard.MainMenu(tr, IsAdmin(c)))
}
