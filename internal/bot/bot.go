package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/admin"
	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/bot/handlers"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/idempotency"
	"github.com/librimoms/club-bot/internal/library"
	"github.com/librimoms/club-bot/internal/notifications"
	"github.com/librimoms/club-bot/internal/preferences"
	"github.com/librimoms/club-bot/internal/session"
	"github.com/librimoms/club-bot/internal/state"
	"github.com/librimoms/club-bot/internal/storage"
	"github.com/librimoms/club-bot/pkg/config"
)

// Limiter is implemented by *ratelimit.Guard.
type Limiter interface {
	UpdateLimiter
	handlers.ActionLimiter
}

// Services are the application dependencies behind the handlers.
// Optional ones (Push, Presence, Queue, Updates) stay nil when disabled.
type Services struct {
	API         *api.Client
	Sessions    *session.Manager
	Preferences *preferences.Service
	Library     *library.Service
	Inboxes     *notifications.Registry
	Broadcaster *admin.Broadcaster
	Covers      storage.CoverStore
	Payments    *idempotency.Manager
	FSM         state.StateMachine
	Catalog     *i18n.Manager
	Limits      Limiter
	Updates     UpdateFilter
	Push        handlers.PushSubscriptions
	Presence    handlers.Presence
	Queue       handlers.TaskQueue
}

// Bot wraps telebot.Bot with the router and the handlers of the club bot.
type Bot struct {
	telebot    *telebot.Bot
	webhook    *telebot.Webhook
	log        *slog.Logger
	cfg        *config.Config
	svc        Services
	router     *Router
	dispatcher *Dispatcher
	keyboard   *keyboard.Builder
	errHandler *apperrors.Handler
	notifier   *Notifier
}

// New builds a telegram bot instance configured according to the application settings.
func New(cfg *config.Config, svc Services, log *slog.Logger) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	settings := telebot.Settings{
		Token: cfg.Bot.Token,
		OnError: func(err error, c telebot.Context) {
			log.Error("telebot error", slog.Any("error", err))
		},
	}

	var webhook *telebot.Webhook
	if cfg.Bot.Mode == "webhook" {
		// An empty Listen leaves serving to the HTTP server, see Webhook().
		webhook = &telebot.Webhook{
			Listen:   cfg.Bot.WebhookListen,
			Endpoint: &telebot.WebhookEndpoint{PublicURL: cfg.Bot.WebhookURL},
		}
		settings.Poller = webhook
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout:        cfg.Bot.Timeout,
			AllowedUpdates: []string{"message", "callback_query"},
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	kb := keyboard.NewBuilder(log)
	dispatcher := NewDispatcher(svc.FSM, log)

	b := &Bot{
		telebot:    tb,
		webhook:    webhook,
		log:        log,
		cfg:        cfg,
		svc:        svc,
		router:     NewRouter(dispatcher, log),
		dispatcher: dispatcher,
		keyboard:   kb,
		errHandler: apperrors.NewHandler(log, cfg.Sentry.Enabled),
		notifier:   NewNotifier(tb, kb, log),
	}

	b.setupMiddlewares()
	b.setupHandlers()
	b.registerTelebotHandlers()

	return b, nil
}

// Start runs the telegram bot event loop. It blocks until Stop.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.log.Info("telegram bot started", slog.String("mode", b.cfg.Bot.Mode), slog.String("username", b.telebot.Me.Username))
		b.telebot.Start()
	}
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop(ctx context.Context) error {
	if b.telebot == nil {
		return nil
	}

	b.log.Info("stopping telegram bot...")

	done := make(chan struct{})
	go func() {
		b.telebot.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// Notifier sends messages outside of an update. Background jobs and the push receiver use it.
func (b *Bot) Notifier() *Notifier {
	return b.notifier
}

// Webhook returns the handler for Telegram updates when the HTTP server serves the webhook.
func (b *Bot) Webhook() http.Handler {
	if b.webhook == nil || b.webhook.Listen != "" {
		return nil
	}
	return b.webhook
}

// Router exposes the update router, mostly for tests.
func (b *Bot) Router() *Router {
	return b.router
}

func (b *Bot) setupMiddlewares() {
	b.router.Use(RecoveryMiddleware(b.log, b.errHandler))
	b.router.Use(ContextMiddleware())
	if b.svc.Updates != nil {
		b.router.Use(DedupeMiddleware(b.svc.Updates, b.log))
	}
	// The translator is picked first so every error below is shown in the user's language.
	b.router.Use(LocaleMiddleware(b.preferenceStore(), b.svc.Catalog, b.log))
	b.router.Use(ErrorHandlingMiddleware(b.errHandler, b.sessionProvider(), b.keyboard, b.log))
	b.router.Use(LoggingMiddleware(b.log))
	b.router.Use(MetricsMiddleware)
	if b.svc.Limits != nil {
		b.router.Use(RateLimitMiddleware(b.svc.Limits))
	}
	b.router.Use(AuthMiddleware(b.sessionProvider(), b.cfg.IsAdmin, b.log))
}

// preferenceStore avoids handing a typed nil to the middleware.
func (b *Bot) preferenceStore() PreferenceStore {
	if b.svc.Preferences == nil {
		return nil
	}
	return b.svc.Preferences
}

func (b *Bot) sessionProvider() SessionProvider {
	if b.svc.Sessions == nil {
		return nil
	}
	return b.svc.Sessions
}

func (b *Bot) setupHandlers() {
	svc := b.svc
	kb := b.keyboard
	log := b.log
	r := b.router

	var limits handlers.ActionLimiter
	if svc.Limits != nil {
		limits = svc.Limits
	}
	var pushStatus handlers.PushStatus
	if svc.Push != nil {
		pushStatus = svc.Push
	}

	categories := admin.NewCategories(svc.API)
	editor := handlers.NewMaterialEditor(svc.FSM, admin.NewMaterials(svc.API, svc.Covers, log), categories, b.telebot, kb, log)
	dashboard := handlers.NewDashboard(svc.API, svc.Presence, b.notifier, b.cfg.Library.ActivityLimit, b.cfg.Library.AdminActionLimit, kb, log)

	start := handlers.NewStart(svc.FSM, log)
	lib := handlers.NewLibrary(svc.Library, svc.Presence, pushStatus, limits, kb, log)
	profile := handlers.NewProfile(svc.API, svc.Sessions, svc.Payments, limits, b.cfg.Payments.Plans, b.cfg.Payments.ReturnURL, kb, log)
	inbox := handlers.NewNotifications(svc.API, svc.Inboxes, kb, log)
	var remote handlers.RemoteSettings
	if svc.API != nil {
		remote = svc.API
	}
	settings := handlers.NewSettings(svc.Preferences, svc.Push, remote, svc.Catalog, kb, log)
	var sender handlers.PushSender
	if svc.Broadcaster != nil {
		sender = svc.Broadcaster
	}
	pushWizard := handlers.NewPushWizard(svc.FSM, svc.Queue, sender, limits, kb, log)
	dir := handlers.NewDirectory(svc.FSM, categories, admin.NewWithdrawals(svc.API), admin.NewUsers(svc.API), kb, log)
	cancel := handlers.NewCancelHandler(svc.FSM, []handlers.FlowResetter{editor, resetFunc(dashboard.Stop)}, editor, log)

	// Member commands.
	r.RegisterCommand(handlers.CommandStart, start.Start)
	r.RegisterCommand(handlers.CommandHelp, start.Help)
	r.RegisterCommand(handlers.CommandMenu, start.Menu)
	r.RegisterCommand(handlers.CommandCancel, cancel)
	r.RegisterCommand(handlers.CommandLibrary, lib.Feed)
	r.RegisterCommand(handlers.CommandSearch, lib.Search)
	r.RegisterCommand(handlers.CommandFavorites, lib.Favorites)
	r.RegisterCommand(handlers.CommandHistory, lib.History)
	r.RegisterCommand(handlers.CommandRecommend, lib.Recommendations)
	r.RegisterCommand(handlers.CommandStats, lib.Stats)
	r.RegisterCommand(handlers.CommandNotifications, inbox.List)
	r.RegisterCommand(handlers.CommandProfile, profile.Show)
	r.RegisterCommand(handlers.CommandSubscribe, profile.Plans)
	r.RegisterCommand(handlers.CommandPayments, profile.History)
	r.RegisterCommand(handlers.CommandSettings, settings.Show)

	// Admin commands.
	r.RegisterCommand(handlers.CommandAdmin, handlers.AdminOnly(dashboard.Show))
	r.RegisterCommand(handlers.CommandNewMaterial, handlers.AdminOnly(editor.New))
	r.RegisterCommand(handlers.CommandEdit, handlers.AdminOnly(editor.Edit))
	r.RegisterCommand(handlers.CommandPush, handlers.AdminOnly(pushWizard.Start))
	r.RegisterCommand(handlers.CommandCategories, handlers.AdminOnly(dir.Categories))
	r.RegisterCommand(handlers.CommandWithdrawals, handlers.AdminOnly(dir.Withdrawals))
	r.RegisterCommand(handlers.CommandUsers, handlers.AdminOnly(dir.Users))
	r.RegisterCommand(handlers.CommandSubscriptions, handlers.AdminOnly(dir.Subscriptions))
	r.RegisterCommand(handlers.CommandActivity, handlers.AdminOnly(dashboard.Activity))

	// Member callbacks.
	r.RegisterCallback(keyboard.UniqueCancel, handlers.CallbackHandler(cancel))
	r.RegisterCallback(keyboard.UniqueMenu, start.Menu)
	r.RegisterCallback(handlers.UniqueFeedMore, lib.More)
	r.RegisterCallback(handlers.UniqueMaterial, lib.Open)
	r.RegisterCallback(handlers.UniqueFavorite, lib.Favorite)
	r.RegisterCallback(handlers.UniqueCategories, lib.Categories)
	r.RegisterCallback(handlers.UniqueCategory, lib.Category)
	r.RegisterCallback(handlers.UniqueHistoryPage, lib.History)
	r.RegisterCallback(handlers.UniquePlans, profile.Plans)
	r.RegisterCallback(handlers.UniquePay, profile.Pay)
	r.RegisterCallback(handlers.UniqueRenew, profile.Renew)
	r.RegisterCallback(handlers.UniqueNotifRead, inbox.Read)
	r.RegisterCallback(handlers.UniqueNotifAll, inbox.ReadAll)
	r.RegisterCallback(handlers.UniqueNotifPage, inbox.Page)
	r.RegisterCallback(handlers.UniqueDigest, settings.Digest)
	r.RegisterCallback(handlers.UniqueLang, settings.Lang)
	r.RegisterCallback(handlers.UniquePushOn, settings.PushOn)
	r.RegisterCallback(handlers.UniquePushOff, settings.PushOff)
	r.RegisterCallback(handlers.UniquePushDismiss, settings.PushDismiss)

	// Admin callbacks.
	adminCallbacks := map[string]handlers.Handler{
		handlers.UniqueAdminMenu:        dashboard.Show,
		handlers.UniqueActivity:         dashboard.Activity,
		handlers.UniqueMaterialNew:      editor.New,
		handlers.UniqueMaterialEdit:     editor.Edit,
		handlers.UniqueMaterialDelete:   editor.Delete,
		handlers.UniqueMaterialField:    editor.Field,
		handlers.UniqueMaterialCategory: editor.ToggleCategory,
		handlers.UniqueMaterialPublish:  editor.TogglePublished,
		handlers.UniqueMaterialFeature:  editor.ToggleFeatured,
		handlers.UniqueMaterialSave:     editor.Save,
		handlers.UniqueMaterialClose:    editor.Close,
		handlers.UniqueMaterialDiscard:  editor.Discard,
		handlers.UniqueMaterialKeep:     editor.Keep,
		handlers.UniquePushStart:        pushWizard.Start,
		handlers.UniquePushTarget:       pushWizard.Target,
		handlers.UniquePushSend:         pushWizard.Send,
		handlers.UniqueCategoryList:     dir.Categories,
		handlers.UniqueCategoryNew:      dir.NewCategory,
		handlers.UniqueCategoryRename:   dir.RenameCategory,
		handlers.UniqueCategoryDelete:   dir.DeleteCategory,
		handlers.UniqueWithdrawals:      dir.Withdrawals,
		handlers.UniqueWithdrawApprove:  dir.ApproveWithdrawal,
		handlers.UniqueWithdrawReject:   dir.RejectWithdrawal,
		handlers.UniqueUsers:            dir.Users,
		handlers.UniqueUser:             dir.User,
		handlers.UniqueSubscriptions:    dir.Subscriptions,
		handlers.UniquePushSubscribers:  dir.PushSubscribers,
	}
	for unique, h := range adminCallbacks {
		r.RegisterCallback(unique, handlers.CallbackHandler(handlers.AdminOnly(h)))
	}

	// Reply keyboard buttons, in every loaded language.
	menu := map[string]handlers.Handler{
		keyboard.MenuLibrary:       lib.Feed,
		keyboard.MenuFavorites:     lib.Favorites,
		keyboard.MenuNotifications: inbox.List,
		keyboard.MenuProfile:       profile.Show,
		keyboard.MenuSettings:      settings.Show,
		keyboard.MenuHelp:          start.Help,
		keyboard.MenuAdmin:         handlers.AdminOnly(dashboard.Show),
	}
	for _, key := range keyboard.MenuKeys {
		r.RegisterText(menu[key], menuTexts(svc.Catalog, key)...)
	}

	// Free-form input of multi-step flows.
	b.dispatcher.RegisterStateHandler(handlers.AdminOnly(editor.Input), state.StateMaterialField)
	b.dispatcher.RegisterStateHandler(handlers.AdminOnly(pushWizard.Input),
		state.StatePushTitle, state.StatePushBody, state.StatePushURL, state.StatePushTarget)
	b.dispatcher.RegisterStateHandler(handlers.AdminOnly(dir.CategoryName), state.StateCategoryName)
	b.dispatcher.RegisterStateHandler(handlers.AdminOnly(dir.UserQuery), state.StateUserSearch)
	b.dispatcher.RegisterStateHandler(handlers.AdminOnly(dir.RejectReason), state.StateWithdrawalReject)

	r.SetDefault(start.Fallback)
}

func (b *Bot) registerTelebotHandlers() {
	if b.telebot == nil || b.router == nil {
		return
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)
	// Covers are uploaded as photos while a material field is open.
	b.telebot.Handle(telebot.OnPhoto, b.router.Route)
}

// menuTexts returns the translations of a menu key across the catalog.
func menuTexts(catalog *i18n.Manager, key string) []string {
	if catalog == nil {
		return []string{key}
	}
	langs := catalog.Languages()
	texts := make([]string, 0, len(langs))
	for _, lang := range langs {
		texts = append(texts, catalog.Translator(lang).T(key))
	}
	return texts
}

// resetFunc adapts a plain func to handlers.FlowResetter.
type resetFunc func(telegramID int64)

func (f resetFunc) Reset(telegramID int64) { f(telegramID) }
