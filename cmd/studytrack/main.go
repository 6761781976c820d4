package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kerhoff/studytrack/internal/api"
	"github.com/Kerhoff/studytrack/internal/config"
	"github.com/Kerhoff/studytrack/internal/metrics"
	"github.com/Kerhoff/studytrack/internal/notify"
	"github.com/Kerhoff/studytrack/internal/repository/postgres"
	"github.com/Kerhoff/studytrack/internal/scheduler"
	"github.com/Kerhoff/studytrack/internal/service"
	"github.com/Kerhoff/studytrack/internal/telegram"
	"github.com/Kerhoff/studytrack/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.New(cfg.LogLevel, cfg.LogFormat)
	l.Info("Starting studytrack...")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database
	db, err := config.NewDatabase(ctx, cfg.DatabaseURL, l)
	if err != nil {
		l.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(cfg.MigrationsPath); err != nil {
		l.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	userRepo := postgres.NewUserRepository(db.DB)
	eventRepo := postgres.NewEventRepository(db.DB)
	ledger := postgres.NewReminderLedger(db.DB)

	// Email delivery
	var transport notify.Transport
	if cfg.SendGridAPIKey != "" {
		transport = notify.NewSendGridTransport(cfg.SendGridAPIKey, cfg.MailFrom)
	} else {
		l.Warn("SENDGRID_API_KEY not set, notifications are logged instead of sent")
		transport = notify.NewConsoleTransport(l)
	}
	dispatcher := notify.NewEmailDispatcher(transport, notify.Options{
		AppName:     cfg.MailFrom.Name,
		FrontendURL: cfg.FrontendURL,
	})

	m := metrics.New()

	deps := scheduler.Deps{
		Users:      userRepo,
		Events:     eventRepo,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Metrics:    m,
		Logger:     l,
	}

	// Optional ops alerts
	if cfg.AlertsEnabled() {
		alerter, err := telegram.NewAlerter(cfg.TelegramToken, cfg.TelegramAlertChatID, l)
		if err != nil {
			l.Errorf("Telegram alerts disabled: %v", err)
		} else {
			deps.Alerter = alerter
		}
	}

	engine := scheduler.New(scheduler.Config{
		ReminderSpec: cfg.ReminderCron,
		DigestSpec:   cfg.DigestCron,
		Location:     cfg.Location,
		Workers:      cfg.SweepWorkers,
		SweepTimeout: cfg.SweepTimeout,
		Dedup:        cfg.ReminderDedup,
	}, deps)
	if err := engine.Initialize(ctx); err != nil {
		l.Fatalf("Failed to start scheduler: %v", err)
	}

	svc := service.New(l, userRepo, eventRepo)

	// HTTP API
	apiServer := api.NewServer(svc, engine, db.Healthy, l)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Infof("HTTP server listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Errorf("HTTP server error: %v", err)
			cancel()
		}
	}()

	// Metrics
	metricsServer := &http.Server{
		Addr:              ":" + cfg.PrometheusPort,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Infof("Metrics listening on :%s", cfg.PrometheusPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Errorf("Metrics server error: %v", err)
		}
	}()

	l.Info("studytrack started successfully")

	<-ctx.Done()
	l.Info("Received shutdown signal...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	l.Info("Shutting down HTTP servers...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Errorf("HTTP shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		l.Errorf("Metrics shutdown error: %v", err)
	}

	l.Info("Stopping scheduler...")
	engine.Stop()

	l.Info("studytrack stopped")
}
