package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skoret/assistant-bot/internal/access"
	"github.com/skoret/assistant-bot/internal/billing"
	"github.com/skoret/assistant-bot/internal/config"
	"github.com/skoret/assistant-bot/internal/finance"
	"github.com/skoret/assistant-bot/internal/httpserver"
	"github.com/skoret/assistant-bot/internal/lib/sl"
	"github.com/skoret/assistant-bot/internal/metrics"
	"github.com/skoret/assistant-bot/internal/reminder"
	"github.com/skoret/assistant-bot/internal/scheduler"
	"github.com/skoret/assistant-bot/internal/storage"
	"github.com/skoret/assistant-bot/internal/telegram"
	"github.com/skoret/assistant-bot/internal/todo"
	"github.com/skoret/assistant-bot/internal/yookassa"
)

// notificationRate caps provider notifications per second on the HTTP endpoint.
const notificationRate = 20

func main() {
	cfg := config.MustLoad()

	log := sl.SetupLogger(cfg.Env)
	log.Info("starting assistant bot", slog.String("env", cfg.Env))

	if err := run(cfg, log); err != nil {
		log.Error("bot stopped with error", sl.Err(err))
		os.Exit(1)
	}
	log.Info("bot stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewRepository(cfg.DatabaseDSN)
	if err != nil {
		return errors.Wrap(err, "failed to create repository")
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	clock := clockwork.NewRealClock()
	loc := cfg.Location()

	api, err := telegram.NewAPI(cfg.TelegramToken, log)
	if err != nil {
		return err
	}
	sender := telegram.NewSender(api, cfg.TelegramRateLimit, log)

	accessService := access.NewService(repo, cfg.Admin.ID, m)

	var provider billing.Provider
	if cfg.YooKassa.Enabled() {
		provider = yookassa.NewClient(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey)
	} else {
		log.Warn("yookassa credentials are not set, payments are disabled")
	}
	billingService := billing.NewService(repo, provider, accessService, sender, clock, log, m, billing.Options{
		Price:     cfg.PriceDecimal(),
		Period:    cfg.Subscription.Period,
		ReturnURL: cfg.YooKassa.ReturnURL,
	})

	var syncer scheduler.PaymentSyncer
	if billingService.Enabled() {
		syncer = billingService
	}
	schedulerService := scheduler.NewService(repo, sender, syncer, clock, log, m, scheduler.Options{
		SweepInterval:       cfg.Scheduler.SweepInterval,
		PaymentSyncInterval: cfg.Scheduler.PaymentSyncInterval,
		ExpiryCheckInterval: cfg.Scheduler.ExpiryCheckInterval,
		ExpiryNotice:        cfg.Scheduler.ExpiryNotice,
		FailureAlert:        cfg.Scheduler.FailureAlert,
		Location:            loc,
	})
	if err := schedulerService.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start scheduler")
	}
	defer func() {
		if err := schedulerService.Stop(); err != nil {
			log.Error("failed to stop scheduler", sl.Err(err))
		}
	}()

	bot := telegram.NewBot(api, sender, repo, telegram.Services{
		Access:    accessService,
		Billing:   billingService,
		Reminders: reminder.NewService(repo, clock, loc, m),
		Todos:     todo.NewService(repo, clock, loc),
		Finance:   finance.NewService(repo, clock, loc),
	}, clock, log, telegram.Options{
		AdminUsernames: cfg.Admin.Usernames,
		TrialDuration:  cfg.Subscription.TrialDuration,
		Location:       loc,
	})

	server := httpserver.New(log, billingService, repo, reg, httpserver.Options{
		Address:          cfg.HTTPServer.Address,
		Timeout:          cfg.HTTPServer.Timeout,
		IdleTimeout:      cfg.HTTPServer.IdleTimeout,
		NotificationRate: notificationRate,
	})

	errCh := make(chan error, 2)
	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			errCh <- errors.Wrap(err, "http server")
		}
	}()
	go func() {
		defer wg.Done()
		if err := bot.Run(ctx); err != nil {
			errCh <- errors.Wrap(err, "telegram bot")
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("graceful shutdown", sl.Err(ctx.Err()))
	case runErr = <-errCh:
		stop()
	}
	wg.Wait()
	return runErr
}
