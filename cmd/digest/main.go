package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event_digest_service/internal/app"
	"event_digest_service/internal/domain/delivery"
	"event_digest_service/internal/infra/config"
	idb "event_digest_service/internal/infra/database"
	infradelivery "event_digest_service/internal/infra/delivery"
	"event_digest_service/internal/infra/httpapi"
	"event_digest_service/internal/infra/logger"
	"event_digest_service/internal/infra/scheduler"

	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Event Digest Service starting...")

	mainLogger := log.New(os.Stdout, "MAIN: ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		mainLogger.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)

	mainLogger.Printf("INFO: Configuration loaded. LogLevel: %s, Environment: %s, DeliveryDriver: %s", cfg.LogLevel, cfg.Environment, cfg.DeliveryDriver)

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.Fatalf("FATAL: Could not connect to database: %v", err)
	}
	defer db.Close()
	mainLogger.Println("INFO: Database connection established successfully.")

	// Initialize Repositories
	profileRepo := idb.NewPostgresProfileRepository(db)
	eventRepo := idb.NewPostgresEventRepository(db)
	runLedger := idb.NewPostgresRunRepository(db)
	notifRepo := idb.NewPostgresNotificationRepository(db)
	directory := idb.NewPostgresUserDirectory(db)
	mainLogger.Println("INFO: Repositories initialized.")

	// Initialize the outbound delivery binding
	var sender delivery.Sender
	switch cfg.DeliveryDriver {
	case "smtp":
		sender = infradelivery.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, directory)
		mainLogger.Println("INFO: SMTP delivery sender initialized.")
	default:
		pref := telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		}
		bot, err := telebot.NewBot(pref)
		if err != nil {
			mainLogger.Fatalf("FATAL: Could not create Telegram bot: %v", err)
		}
		sender = infradelivery.NewTelegramSender(bot, directory)
		mainLogger.Println("INFO: Telegram delivery sender initialized.")
	}

	// Initialize core services
	matcherCfg := app.DefaultMatcherConfig()
	matcherCfg.TopK = cfg.MatchTopK
	matcher := app.NewMatcher(matcherCfg)

	dispatcherLogger := log.New(os.Stdout, "DISPATCH: ", log.LstdFlags|log.Lshortfile)
	dispatcher := app.NewDispatcher(notifRepo, sender, dispatcherLogger)

	serviceLogger := log.New(os.Stdout, "DIGEST_SVC: ", log.LstdFlags|log.Lshortfile)
	digestService := app.NewDigestService(profileRepo, eventRepo, runLedger, dispatcher, matcher, serviceLogger, app.DigestServiceConfig{
		LookaheadDays:   cfg.LookaheadDays,
		MatchWorkers:    cfg.MatchWorkers,
		DispatchWorkers: cfg.DispatchWorkers,
		StaleReserveAge: cfg.StaleReserveAge,
	})
	adminService := app.NewAdminService(profileRepo, eventRepo, runLedger, dispatcher, matcher, serviceLogger, cfg.LookaheadDays)
	mainLogger.Println("INFO: Digest and admin services initialized.")

	// Initialize DigestScheduler (in-process cron trigger)
	schedulerLogger := log.New(os.Stdout, "SCHEDULER: ", log.LstdFlags|log.Lshortfile)
	digestScheduler := scheduler.NewDigestScheduler(
		digestService,
		schedulerLogger,
		cfg.CronSpecDaily,
		cfg.CronSpecWeekly,
		cfg.RunTimeout,
	)
	digestScheduler.Start() // Start the cron jobs

	// Initialize HTTP trigger surface
	handler := httpapi.NewHandler(digestService, adminService, db, logger.Log.WithField("component", "httpapi"))
	router := httpapi.NewRouter(httpapi.RouterDeps{
		Handler:       handler,
		CronAuthToken: cfg.CronAuthToken,
		Logger:        logger.Log.WithField("component", "http"),
	})
	server := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.Printf("INFO: HTTP trigger server listening on %s", cfg.HTTPListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLogger.Fatalf("FATAL: HTTP server failed: %v", err)
		}
	}()

	mainLogger.Println("INFO: Application setup complete. Scheduler and HTTP triggers are running...")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received

	mainLogger.Println("INFO: Shutting down application...")
	digestScheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.Printf("ERROR: HTTP server shutdown: %v", err)
	}
	// db.Close() is handled by defer
	mainLogger.Println("INFO: Application shut down gracefully.")
}
