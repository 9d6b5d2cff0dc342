package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedcourier/feedcourier/app/api"
	"github.com/feedcourier/feedcourier/app/blackout"
	"github.com/feedcourier/feedcourier/app/cfg"
	"github.com/feedcourier/feedcourier/app/config"
	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/dedup"
	"github.com/feedcourier/feedcourier/app/delivery"
	"github.com/feedcourier/feedcourier/app/fanout"
	"github.com/feedcourier/feedcourier/app/fetch"
	"github.com/feedcourier/feedcourier/app/ingest"
	"github.com/feedcourier/feedcourier/app/lock"
	"github.com/feedcourier/feedcourier/app/tasks"
	"github.com/feedcourier/feedcourier/app/watchdog"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Feed Courier", "version", appCfg.Version, "instance_id", appCfg.InstanceID)

	db, err := database.NewConnection(appCfg.DBHost, appCfg.DBPort, appCfg.DBUser,
		appCfg.DBPassword, appCfg.DBName)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "migration_version", version, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	itemRepo := database.NewItemRepository(db)
	schedRepo := database.NewScheduleRepository(db)
	deliveryRepo := database.NewDeliveryRepository(db)
	settingsRepo := database.NewSettingsRepository(db)
	lockRepo := database.NewLockRepository(db)

	loader := config.NewLoader(appCfg.FeedsDir)
	if err := loader.Run(); err != nil {
		slog.Error("Failed to load feed configurations", "error", err)
		os.Exit(1)
	}
	slog.Info("Feed configurations loaded", "count", loader.GetConfigCount())

	registerConfigs(loader, feedRepo, schedRepo)

	httpClient := &http.Client{Timeout: 60 * time.Second}
	fetcher := fetch.NewHTTPFetcher(httpClient, appCfg.UserAgent)
	dedupEngine := dedup.NewEngine(itemRepo)
	builder := fanout.NewBuilder(schedRepo, deliveryRepo)
	pipeline := ingest.NewPipeline(feedRepo, itemRepo, dedupEngine, settingsRepo)
	service := ingest.NewService(feedRepo, fetcher, pipeline, builder)

	lockImpl := lock.Probe(context.Background(), db, lockRepo, appCfg.InstanceID)
	lockManager := lock.NewManager(lockImpl)

	cacheHours, err := settingsRepo.GetInt(database.SettingBlackoutCacheHours, int(blackout.DefaultCacheTTL/time.Hour))
	if err != nil {
		cacheHours = int(blackout.DefaultCacheTTL / time.Hour)
	}
	gate := blackout.NewGate(blackout.NewDailySource(time.Now), time.Duration(cacheHours)*time.Hour, time.Now)

	transport := buildTransport(appCfg, httpClient)
	slog.Info("Outbound transport configured", "transport", transport.Status())

	worker := delivery.NewWorker(schedRepo, deliveryRepo, itemRepo, settingsRepo,
		transport, gate, lockManager)

	wd := watchdog.NewWatchdog(deliveryRepo, itemRepo, settingsRepo)

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval_seconds", appCfg.SchedulerInterval)
	scheduler := tasks.NewScheduler(feedRepo, schedRepo, service, worker, wd)
	scheduler.Start()
	defer scheduler.Stop()

	apiHandler := api.NewHandler(loader, feedRepo, schedRepo, deliveryRepo, service, worker, scheduler)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer
	slog.Info("Shutdown complete")
}

// registerConfigs mirrors the YAML feed and schedule definitions into the
// database so the poll and delivery cycles can pick them up
func registerConfigs(loader *config.Loader, feedRepo database.FeedRepository,
	schedRepo database.ScheduleRepository) {
	registered := 0
	for name, feedConfig := range loader.GetConfigs() {
		feedID, err := feedRepo.UpsertFeed(name, feedConfig.URL,
			feedConfig.Settings.RefreshInterval, feedConfig.Settings.Timeout,
			feedConfig.Settings.Enabled)
		if err != nil {
			slog.Warn("Failed to register feed", "feed", name, "error", err)
			continue
		}
		registered++

		for _, scheduleConfig := range feedConfig.Schedules {
			_, err := schedRepo.UpsertSchedule(database.Schedule{
				FeedID:          feedID,
				Name:            scheduleConfig.Name,
				Mode:            scheduleConfig.Mode,
				IntervalMinutes: scheduleConfig.IntervalMinutes,
				FixedTimes:      scheduleConfig.FixedTimes,
				Targets:         scheduleConfig.Targets,
				Enabled:         scheduleConfig.IsEnabled(),
				RequireApproval: scheduleConfig.RequireApproval,
			})
			if err != nil {
				slog.Warn("Failed to register schedule", "feed", name, "schedule", scheduleConfig.Name, "error", err)
			}
		}
	}
	slog.Info("Feeds registered", "count", registered)
}

func buildTransport(appCfg *cfg.Cfg, httpClient *http.Client) delivery.Transport {
	switch appCfg.Transport {
	case "webhook":
		if appCfg.WebhookURL == "" {
			slog.Warn("Webhook transport selected without WEBHOOK_URL, falling back to console")
			return delivery.NewConsoleTransport()
		}
		return delivery.NewWebhookTransport(httpClient, appCfg.WebhookURL)
	default:
		return delivery.NewConsoleTransport()
	}
}
