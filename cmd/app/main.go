package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nomadly/internal/cache"
	"nomadly/internal/chain"
	"nomadly/internal/config"
	"nomadly/internal/convo"
	"nomadly/internal/dnsapi"
	"nomadly/internal/fx"
	"nomadly/internal/httpserver"
	"nomadly/internal/logging"
	"nomadly/internal/mail"
	"nomadly/internal/metrics"
	"nomadly/internal/order"
	"nomadly/internal/provision"
	"nomadly/internal/registrar"
	"nomadly/internal/repo"
	"nomadly/internal/router"
	"nomadly/internal/tg"
	"nomadly/internal/watch"
	"nomadly/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting nomadly", "env", cfg.AppEnv)

	if cfg.PublicBaseURL != "" {
		webhookURL := strings.TrimRight(cfg.PublicBaseURL, "/") + "/webhook/blockbee"
		logger.Info("public base url configured", "base_url", cfg.PublicBaseURL, "webhook_url", webhookURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	registrarClient := registrar.New(registrar.Config{
		BaseURL:  cfg.RegistrarBaseURL,
		Username: cfg.RegistrarUsername,
		Password: cfg.RegistrarPassword,
	}, logger, metricRegistry)

	dnsClient := dnsapi.New(dnsapi.Config{
		BaseURL:  cfg.DNSBaseURL,
		APIToken: cfg.DNSAPIToken,
	}, logger)

	chainClient, err := chain.New(chain.Config{
		BaseURL:    cfg.ChainBaseURL,
		APIKey:     cfg.ChainAPIKey,
		Simulation: cfg.ChainSimulation,
	}, logger, metricRegistry)
	if err != nil {
		return fmt.Errorf("init chain client: %w", err)
	}

	fxClient := fx.New(fx.Config{
		BaseURL: cfg.FxBaseURL,
		APIKey:  cfg.FxAPIKey,
	}, logger, redisClient)

	mailClient := mail.New(mail.Config{
		BaseURL:    cfg.MailBaseURL,
		APIKey:     cfg.MailAPIKey,
		Sender:     cfg.MailSender,
		SenderName: cfg.MailSenderID,
		Enabled:    cfg.MailEnabled,
	}, logger)

	tgClient, err := tg.New(tg.Config{
		Token:   cfg.TelegramToken,
		Metrics: metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init telegram client: %w", err)
	}

	orderEngine := order.New(repository, metricRegistry, logger, order.EngineConfig{
		OrderTTL: cfg.WatchTTL,
	})

	daemon := watch.New(chainClient, repository, metricRegistry, logger, watch.Config{
		CheckInterval: cfg.CheckInterval,
		SweepInterval: cfg.SweepInterval,
	})
	orderEngine.SetWatchReleaser(daemon)

	if err := daemon.Restore(ctx); err != nil {
		return fmt.Errorf("restore payment watches: %w", err)
	}

	provisioner := provision.New(registrarClient, dnsClient, orderEngine, logger, provision.Config{
		DefaultARecord: cfg.DNSDefaultARecord,
	})

	states := router.NewRedisStateStore(redisClient, cfg.StateTTL)
	routes := router.New(states, metricRegistry, logger)

	convoEngine := convo.New(orderEngine, daemon, chainClient, fxClient, registrarClient,
		provisioner, repository, routes, tgClient, mailClient, metricRegistry, logger,
		convo.EngineConfig{
			PublicBaseURL: cfg.PublicBaseURL,
			WatchTTL:      cfg.WatchTTL,
		})
	if err := routes.Validate(); err != nil {
		return fmt.Errorf("validate dispatch table: %w", err)
	}
	tgClient.SetUpdateProcessor(convoEngine)
	daemon.SetHandler(convoEngine)

	go func() {
		if err := tgClient.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("telegram client stopped", "error", err)
			stop()
		}
	}()

	go func() {
		if err := daemon.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("payment watch daemon stopped", "error", err)
			stop()
		}
	}()

	// periodic close of orders whose TTL passed without payment, plus the
	// user-state sweep (a no-op on Redis, which expires keys natively)
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := orderEngine.SweepExpired(ctx); err != nil {
					logger.Warn("order sweep failed", "error", err)
				} else if n > 0 {
					logger.Info("expired stale orders", "count", n)
				}
				if _, err := states.Sweep(ctx, time.Now()); err != nil {
					logger.Warn("state sweep failed", "error", err)
				}
			}
		}
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, daemon, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
