package convo

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"nomadly/internal/chain"
	"nomadly/internal/fx"
	"nomadly/internal/mail"
	"nomadly/internal/metrics"
	"nomadly/internal/order"
	"nomadly/internal/provision"
	"nomadly/internal/registrar"
	"nomadly/internal/repo"
	"nomadly/internal/router"
	"nomadly/internal/watch"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers replies and notifications to users.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendResult(ctx context.Context, chatID int64, res router.Result) error
	AnswerCallback(callbackID string)
}

// EngineConfig tunes the conversation engine.
type EngineConfig struct {
	PublicBaseURL string
	WatchTTL      time.Duration
}

// Engine is the conversational layer: it mounts the dispatch table on the
// router, turns Telegram updates into routed events and reacts to payment
// watch outcomes.
type Engine struct {
	orders      *order.Engine
	watcher     *watch.Daemon
	chain       *chain.Client
	fx          *fx.Client
	registrar   *registrar.Client
	provisioner *provision.Provisioner
	store       repo.Store
	routes      *router.Router
	sender      Sender
	mailer      *mail.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cfg         EngineConfig
}

// New creates the conversation engine and registers its routes. Call
// routes.Validate afterwards to seal the dispatch table.
func New(
	orders *order.Engine,
	watcher *watch.Daemon,
	chainClient *chain.Client,
	fxClient *fx.Client,
	registrarClient *registrar.Client,
	provisioner *provision.Provisioner,
	store repo.Store,
	routes *router.Router,
	sender Sender,
	mailer *mail.Client,
	metricRegistry *metrics.Metrics,
	logger *slog.Logger,
	cfg EngineConfig,
) *Engine {
	if cfg.WatchTTL <= 0 {
		cfg.WatchTTL = 24 * time.Hour
	}
	e := &Engine{
		orders:      orders,
		watcher:     watcher,
		chain:       chainClient,
		fx:          fxClient,
		registrar:   registrarClient,
		provisioner: provisioner,
		store:       store,
		routes:      routes,
		sender:      sender,
		mailer:      mailer,
		metrics:     metricRegistry,
		logger:      logger.With("component", "convo"),
		cfg:         cfg,
	}
	e.registerRoutes()
	return e
}

func (e *Engine) registerRoutes() {
	e.routes.Handle("menu.main", e.handleMainMenu)
	e.routes.Handle("domain.register.search", e.handleDomainSearch)
	e.routes.Handle("domain.register.dns_", e.handleDNSChoice)
	e.routes.Handle("domain.register.email_enter", e.handleEmailEnter)
	e.routes.Handle("domain.register.email_skip", e.handleEmailSkip)
	e.routes.Handle("domain.register.cancel", e.handleCancel)
	e.routes.Handle("payment.method.select_", e.handlePaymentMethod)
	e.routes.Handle("payment.crypto.select_", e.handleCryptoSelect)
	e.routes.Handle("payment.crypto.switch_", e.handleCryptoSwitch)
	e.routes.Handle("wallet.fund.start", e.handleWalletFund)
	e.routes.Handle("wallet.fund.amount_", e.handleWalletAmount)
	e.routes.Handle("wallet.fund.custom", e.handleWalletCustom)
	e.routes.Handle("wallet.fund.coin_", e.handleWalletCoin)

	e.routes.Capture(stateAwaitingDomain, e.captureDomain)
	e.routes.Capture(stateAwaitingNameservers, e.captureNameservers)
	e.routes.Capture(stateAwaitingEmail, e.captureEmail)
	e.routes.Capture(stateAwaitingDeposit, e.captureDepositAmount)
}

// ProcessUpdate handles one Telegram update. Satisfies tg.UpdateProcessor.
func (e *Engine) ProcessUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		e.processCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		e.processMessage(ctx, update.Message)
	}
}

func (e *Engine) processCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	e.sender.AnswerCallback(cb.ID)
	if cb.From == nil || cb.Message == nil {
		return
	}

	evt := router.Event{
		UserID:   cb.From.ID,
		ChatID:   cb.Message.Chat.ID,
		Username: cb.From.UserName,
		Action:   cb.Data,
	}
	e.upsertUser(ctx, evt)

	res, err := e.routes.Route(ctx, evt)
	e.deliver(ctx, evt.ChatID, res, err)
}

func (e *Engine) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	evt := router.Event{
		UserID:   msg.From.ID,
		ChatID:   msg.Chat.ID,
		Username: msg.From.UserName,
		Text:     strings.TrimSpace(msg.Text),
	}
	e.upsertUser(ctx, evt)

	if msg.IsCommand() {
		e.processCommand(ctx, evt, msg.Command())
		return
	}

	res, err := e.routes.RouteText(ctx, evt)
	if errors.Is(err, router.ErrUnknownAction) {
		// no capture state waiting for input; show the menu instead
		res, err = e.handleMainMenu(ctx, evt)
	}
	e.deliver(ctx, evt.ChatID, res, err)
}

func (e *Engine) processCommand(ctx context.Context, evt router.Event, command string) {
	switch command {
	case "start", "menu":
		res, err := e.handleMainMenu(ctx, evt)
		e.deliver(ctx, evt.ChatID, res, err)
	case "cancel":
		res, err := e.handleCancel(ctx, evt)
		e.deliver(ctx, evt.ChatID, res, err)
	default:
		e.deliver(ctx, evt.ChatID, router.Result{Reply: "Unknown command. Use /start for the menu."}, nil)
	}
}

// deliver sends either the handler result or a friendly error message. Errors
// never surface to the user as raw internals.
func (e *Engine) deliver(ctx context.Context, chatID int64, res router.Result, err error) {
	if err != nil {
		res = router.Result{Reply: friendlyReply(err)}
	}
	if res.Reply == "" {
		return
	}
	if sendErr := e.sender.SendResult(ctx, chatID, res); sendErr != nil {
		e.logger.Error("failed sending reply", "chat_id", chatID, "error", sendErr)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo_send").Inc()
		}
	}
}

func (e *Engine) upsertUser(ctx context.Context, evt router.Event) {
	var username *string
	if evt.Username != "" {
		username = &evt.Username
	}
	if _, err := e.store.UpsertUserByTelegram(ctx, evt.UserID, username); err != nil {
		e.logger.Warn("failed upserting user", "user_id", evt.UserID, "error", err)
	}
}

// friendlyReply maps the error taxonomy to plain-language user messages.
func friendlyReply(err error) string {
	var vErr *order.ValidationError
	switch {
	case errors.As(err, &vErr):
		return "That " + vErr.Field + " doesn't look right: " + vErr.Reason + ". Please try again."
	case errors.Is(err, order.ErrDuplicateOrder):
		return "You already have an open order for this domain. Finish or cancel it first."
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrOrderClosed):
		return "That step isn't available right now. Use /start to continue from the menu."
	case errors.Is(err, router.ErrUnknownAction):
		return "Sorry, I didn't understand that. Please try again."
	default:
		return "Something went wrong on our side. Please try again in a moment."
	}
}
