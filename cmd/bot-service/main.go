package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"helpdesk-bot/internal/activity"
	"helpdesk-bot/internal/broadcast"
	"helpdesk-bot/internal/config"
	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/gates/yookassa"
	"helpdesk-bot/internal/healthcheck"
	"helpdesk-bot/internal/ledger"
	"helpdesk-bot/internal/payments"
	"helpdesk-bot/internal/scheduler"
	"helpdesk-bot/internal/server"
	"helpdesk-bot/internal/support"
	"helpdesk-bot/internal/telegram"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Настраиваем структурированное логирование
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.SlogLevel(),
		AddSource: true,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting bot-service", "version", "1.0.0", "pid", os.Getpid())
	slog.Info("Configuration loaded",
		"db_dsn", cfg.DBDsn,
		"http_addr", cfg.HTTPAddr,
		"admins", len(cfg.Admins),
		"support_group", cfg.SupportGroupID,
		"payments_enabled", cfg.PaymentsEnabled(),
		"has_redis", cfg.Redis.Addr != "",
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Инициализируем репозиторий
	repo, err := db.NewRepository(cfg.DBDsn)
	if err != nil {
		slog.Error("Failed to initialize database repository", "error", err, "dsn", cfg.DBDsn)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.AutoMigrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database migrations completed successfully")

	client, err := telegram.NewClient(cfg.BotToken)
	if err != nil {
		slog.Error("Failed to create Telegram client", "error", err)
		os.Exit(1)
	}

	tracker, err := activity.NewTracker(ctx, cfg.Redis)
	if err != nil {
		// Счетчик активности не критичен: продолжаем без него
		slog.Warn("Redis unavailable, activity tracking disabled", "error", err)
		tracker, _ = activity.NewTracker(ctx, config.RedisConfig{})
	}
	defer tracker.Close()

	subscriptions := ledger.New(repo)
	registry := support.NewRegistry(repo, client, cfg.SupportGroupID)
	bridge := support.NewBridge(registry, client, cfg.SupportGroupID, cfg.AdminErrorChatID)

	dispatcher := broadcast.NewDispatcher(repo, client, cfg.Broadcast)
	defer func() {
		slog.Info("Stopping broadcast dispatcher")
		dispatcher.Stop()
	}()
	if resumed, err := dispatcher.Resume(ctx); err != nil {
		slog.Error("Failed to resume broadcasts", "error", err)
	} else if resumed > 0 {
		slog.Info("Interrupted broadcasts resumed", "count", resumed)
	}

	notifyOperator := func(text string) {
		if cfg.AdminErrorChatID == 0 {
			return
		}
		sendCtx, sendCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer sendCancel()
		if err := client.SendText(sendCtx, cfg.AdminErrorChatID, 0, text, nil); err != nil {
			slog.Warn("Failed to notify operator chat", "error", err)
		}
	}

	deps := telegram.Deps{
		Repo:       repo,
		Ledger:     subscriptions,
		Bridge:     bridge,
		Dispatcher: dispatcher,
		Activity:   tracker,
	}

	var webhook http.Handler
	if cfg.PaymentsEnabled() {
		deps.Payments = yookassa.NewClient(yookassa.Config{
			ShopID:    cfg.Yookassa.ShopID,
			SecretKey: cfg.Yookassa.SecretKey,
			APIURL:    cfg.Yookassa.APIURL,
			ReturnURL: cfg.Yookassa.ReturnURL,
		})
		webhook = payments.NewHandler(logger, subscriptions, repo, client, payments.Notify{
			SupportGroupID:   cfg.SupportGroupID,
			SubscribeTopicID: cfg.SubscribeTopicID,
			AlertChatID:      cfg.AdminErrorChatID,
		})
	} else {
		slog.Warn("YooKassa credentials are not configured, payments disabled")
	}

	telegramService := telegram.New(cfg, client, deps)

	// Создаем HTTP сервер
	httpServer := server.NewServer(cfg.HTTPAddr, webhook)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
	defer func() {
		slog.Info("Stopping HTTP server")
		if err := httpServer.Stop(); err != nil {
			slog.Error("Failed to stop HTTP server", "error", err)
		}
	}()

	// Создаем планировщик
	sched := scheduler.NewScheduler(repo, registry, tracker, client, cfg.Admins)
	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		slog.Warn("Continuing without scheduler")
	} else {
		defer func() {
			slog.Info("Stopping scheduler")
			sched.Stop()
		}()
	}

	checker := healthcheck.NewChecker(notifyOperator,
		healthcheck.Probe{Name: "database", Check: repo.Ping},
		healthcheck.Probe{Name: "redis", Check: tracker.Ping},
	)
	if err := checker.RunStartupCheck(ctx); err != nil {
		slog.Warn("Startup check reported problems", "error", err)
	}
	go checker.RunPeriodic(ctx, 5*time.Minute)

	// Запускаем Telegram бота
	slog.Info("Starting Telegram bot...")
	if err := telegramService.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Telegram bot failed", "error", err)
	}

	slog.Info("Bot service shutdown completed")
}
