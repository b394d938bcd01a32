package bot

import (
	"log/slog"
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/bot/handlers"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
)

// Router dispatches commands, callbacks, menu buttons and state-aware updates.
type Router struct {
	mu             sync.RWMutex
	commands       map[string]handlers.Handler
	callbacks      map[string]handlers.CallbackHandler
	texts          map[string]handlers.Handler
	dispatcher     *Dispatcher
	defaultHandler handlers.Handler
	middlewares    []handlers.Middleware
	log            *slog.Logger
}

// NewRouter builds a Router with empty registries.
func NewRouter(dispatcher *Dispatcher, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		commands:    make(map[string]handlers.Handler),
		callbacks:   make(map[string]handlers.CallbackHandler),
		texts:       make(map[string]handlers.Handler),
		dispatcher:  dispatcher,
		middlewares: make([]handlers.Middleware, 0),
		log:         log,
	}
}

// RegisterCommand registers a handler for a bot command such as "/start".
func (r *Router) RegisterCommand(cmd string, h handlers.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd)] = h
}

// RegisterCallback registers a handler for the unique part of callback data.
func (r *Router) RegisterCallback(unique string, h handlers.CallbackHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[unique] = h
}

// RegisterText registers a handler for exact message texts, e.g. every translation of a menu button.
func (r *Router) RegisterText(h handlers.Handler, texts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, text := range texts {
		if text = strings.TrimSpace(text); text != "" {
			r.texts[text] = h
		}
	}
}

// Use appends a middleware to the chain.
func (r *Router) Use(mw handlers.Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw)
}

// SetDefault sets the fallback handler for unmatched commands or states.
func (r *Router) SetDefault(h handlers.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = h
}

// Route runs the middleware chain once per update and then directs it to a handler.
func (r *Router) Route(c telebot.Context) error {
	if c == nil {
		return nil
	}
	return r.applyMiddlewares(r.route)(c)
}

func (r *Router) route(c telebot.Context) error {
	if callback := c.Callback(); callback != nil {
		return r.handleCallback(c, callback.Data)
	}
	return r.handleMessage(c)
}

func (r *Router) handleCallback(c telebot.Context, data string) error {
	unique, payload, err := keyboard.DecodeCallback(data)
	if err != nil {
		r.log.Warn("malformed callback data", slog.String("data", data), slog.Any("error", err))
		return c.Respond()
	}

	handler := r.getCallbackHandler(unique)
	if handler == nil {
		r.log.Info("no callback handler found", slog.String("unique", unique))
		return c.Respond()
	}

	handlers.SetPayload(c, payload)
	return handler(c)
}

func (r *Router) handleMessage(c telebot.Context) error {
	text := strings.TrimSpace(c.Text())

	if cmd, args, ok := parseCommand(text); ok {
		if handler := r.getCommandHandler(cmd); handler != nil {
			handlers.SetPayload(c, args)
			return handler(c)
		}
	}

	if handler := r.getTextHandler(text); handler != nil {
		return handler(c)
	}

	if r.dispatcher != nil {
		handled, err := r.dispatcher.Dispatch(c)
		if err != nil || handled {
			return err
		}
	}

	if handler := r.getDefaultHandler(); handler != nil {
		return handler(c)
	}

	return nil
}

// parseCommand splits "/cmd@bot args" into "/cmd" and "args".
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	cmd, args, _ = strings.Cut(text, " ")
	if at := strings.IndexByte(cmd, '@'); at != -1 {
		cmd = cmd[:at]
	}
	if cmd == "/" {
		return "", "", false
	}
	return strings.ToLower(cmd), strings.TrimSpace(args), true
}

func (r *Router) getCallbackHandler(unique string) handlers.CallbackHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbacks[unique]
}

func (r *Router) getCommandHandler(cmd string) handlers.Handler {
	r.mu.RLock()
	handler := r.commands[cmd]
	r.mu.RUnlock()
	return handler
}

func (r *Router) getTextHandler(text string) handlers.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.texts[text]
}

func (r *Router) getDefaultHandler() handlers.Handler {
	r.mu.RLock()
	handler := r.defaultHandler
	r.mu.RUnlock()
	return handler
}

// applyMiddlewares wraps the handler with all registered middlewares.
func (r *Router) applyMiddlewares(h handlers.Handler) handlers.Handler {
	return handlers.Chain(h, r.middlewaresSnapshot()...)
}

func (r *Router) middlewaresSnapshot() []handlers.Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.middlewares) == 0 {
		return nil
	}

	snapshot := make([]handlers.Middleware, len(r.middlewares))
	copy(snapshot, r.middlewares)
	return snapshot
}
