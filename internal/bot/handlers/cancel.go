package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/bot/keyboard"
	"github.com/librimoms/club-bot/internal/state"
)

// FlowResetter drops in-memory drafts tied to a flow, e.g. an open material form.
type FlowResetter interface {
	Reset(telegramID int64)
}

// DraftGuard protects unsaved drafts. Cancelling while Dirty hands over to Close, which asks before discarding.
type DraftGuard interface {
	Dirty(telegramID int64) bool
	Close(c telebot.Context) error
}

// NewCancelHandler resets user state and returns the user to the main menu.
func NewCancelHandler(fsm state.StateMachine, resetters []FlowResetter, guard DraftGuard, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		if c == nil || c.Sender() == nil {
			log.Warn("cancel handler invoked without sender context")
			return nil
		}

		userID := c.Sender().ID
		tr := Translator(c)

		if guard != nil && guard.Dirty(userID) {
			return guard.Close(c)
		}

		if err := fsm.ClearState(Context(c), userID); err != nil {
			log.Error("failed to clear user state", slog.Int64("user_id", userID), slog.Any("error", err))
			return err
		}
		for _, r := range resetters {
			r.Reset(userID)
		}

		if c.Callback() != nil {
			_ = c.Respond(&telebot.CallbackResponse{Text: tr.T("common.cancelled")})
		}

		if err := c.Send(tr.T("common.cancelled"), keyboard.MainMenu(tr, IsAdmin(c))); err != nil {
			log.Error("failed to notify user about cancellation", slog.Int64("user_id", userID), slog.Any("error", err))
			return err
		}

		return nil
	}
}
