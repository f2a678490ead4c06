package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"alpha_executor/internal/bots"
	"alpha_executor/internal/config"
	"alpha_executor/internal/executor"
	"alpha_executor/internal/logger"
	"alpha_executor/internal/market/alpaca"
	"alpha_executor/internal/notifications"
	"alpha_executor/internal/reconcile"
	"alpha_executor/internal/storage"
	"alpha_executor/internal/telegram"
	"alpha_executor/internal/webhook"
)

const VersionFile = "version.latest"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "alpha_executor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	version := readVersion()
	log := logger.Setup(cfg.Log())
	defer logger.Sync()

	for _, w := range cfg.Warnings {
		log.Warn("config fallback", zap.String("detail", w))
	}
	for _, line := range cfg.Describe() {
		log.Info("config", zap.String("setting", line))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Dependencies
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := alpaca.NewProvider(cfg.Broker(), log)
	if err != nil {
		return err
	}

	var sink notifications.Sink
	var chat *telegram.Client
	if cfg.TelegramEnabled() {
		if chat, err = telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID, log); err != nil {
			log.Warn("telegram unavailable, notifications go to the log", zap.Error(err))
			chat = nil
		} else {
			sink = notifications.TelegramSink{Sender: chat}
		}
	}
	notifier := notifications.New(sink, log)

	engine, err := executor.New(cfg.Engine(), executor.Deps{
		Gateway:  provider,
		Trades:   store,
		Bots:     store,
		Risk:     store,
		Notifier: notifier,
		Log:      log,
	})
	if err != nil {
		return err
	}

	var registry *bots.Registry
	if _, statErr := os.Stat(cfg.BotsFile); errors.Is(statErr, os.ErrNotExist) {
		log.Warn("bot definitions file not found, using stored bots only", zap.String("file", cfg.BotsFile))
	} else if registry, err = bots.NewRegistry(ctx, cfg.BotsFile, store, log); err != nil {
		return err
	}

	server, err := webhook.NewServer(webhook.Config{
		Addr:        cfg.WebhookAddr,
		Secret:      cfg.WebhookSecret,
		MaxParallel: cfg.WebhookMaxParallel,
	}, engine, store, log)
	if err != nil {
		return err
	}

	reconciler, err := reconcile.New(reconcile.Config{
		Interval:    cfg.ReconcileInterval,
		Grace:       cfg.ReconcileGrace,
		Concurrency: cfg.ReconcileConcurrency,
	}, store, engine, log)
	if err != nil {
		return err
	}

	// 3. Announce
	start := map[string]any{"version": version, "mode": strings.ToUpper(cfg.TradingMode)}
	if acct, err := provider.GetAccount(ctx); err != nil {
		log.Warn("account unavailable at startup", zap.Error(err))
	} else {
		start["equity"] = acct.Equity.StringFixed(2)
	}
	notifier.Notify(notifications.EventSystemStart, start)
	log.Info("alpha executor initialized", zap.String("version", version), zap.String("mode", cfg.TradingMode))

	// 4. Run until a signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	if chat != nil {
		g.Go(func() error { return chat.Listen(gctx, telegram.Commands(store)) })
	}
	if registry != nil {
		registry.Watch(gctx)
	}
	err = g.Wait()

	log.Info("shutting down")
	notifier.Notify(notifications.EventSystemStop, nil)
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if werr := notifier.Wait(waitCtx); werr != nil {
		log.Warn("notifications still in flight at exit", zap.Error(werr))
	}
	return err
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}
