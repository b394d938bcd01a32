package bot

import (
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/bot/handlers"
	"github.com/librimoms/club-bot/internal/state"
)

// Dispatcher routes free-form input to the handler of the user's current state.
type Dispatcher struct {
	fsm           state.StateMachine
	stateHandlers map[state.State]handlers.Handler
	log           *slog.Logger
	mu            sync.RWMutex
}

// NewDispatcher creates a Dispatcher with an empty handlers registry.
func NewDispatcher(fsm state.StateMachine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		fsm:           fsm,
		stateHandlers: make(map[state.State]handlers.Handler),
		log:           log,
	}
}

// RegisterStateHandler registers a handler for the provided states.
func (d *Dispatcher) RegisterStateHandler(h handlers.Handler, states ...state.State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range states {
		d.stateHandlers[s] = h
	}
}

// Dispatch runs the handler of the current state and reports whether one existed.
func (d *Dispatcher) Dispatch(c telebot.Context) (bool, error) {
	if c == nil || c.Sender() == nil {
		d.log.Warn("cannot dispatch without sender information")
		return false, nil
	}

	userID := c.Sender().ID
	userState, err := d.fsm.Current(handlers.Context(c), userID)
	if err != nil {
		return false, err
	}

	handler := d.getHandler(userState.CurrentState)
	if handler == nil {
		d.log.Debug("no handler registered for state", slog.String("state", string(userState.CurrentState)), slog.Int64("user_id", userID))
		return false, nil
	}

	return true, handler(c)
}

func (d *Dispatcher) getHandler(s state.State) handlers.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stateHandlers[s]
}
