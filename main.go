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

	"skland-checkin-bot/bot"
	"skland-checkin-bot/checkin"
	"skland-checkin-bot/command"
	"skland-checkin-bot/config"
	"skland-checkin-bot/credential"
	"skland-checkin-bot/logger"
	"skland-checkin-bot/metrics"
	"skland-checkin-bot/registry"
	"skland-checkin-bot/skland"
	"skland-checkin-bot/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("bot exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	games, err := credential.ParseGames(cfg.Games)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := storage.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return err
	}
	reg := registry.New(storage.NewGormStore(db))

	var recorder metrics.Recorder = metrics.Nop{}
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		recorder = metrics.NewCollector(promReg)
		metricsServer = metrics.NewServer(cfg.MetricsAddr, promReg)
	}

	client := skland.NewClient(
		skland.WithRateLimit(cfg.RequestsPerSecond, cfg.MaxConcurrency),
		skland.WithDeviceID(uuid.NewString()),
	)
	exchanger := credential.NewExchanger(client, log.With(slog.String("component", "credential")), credential.Options{
		Games:       games,
		SessionTTL:  cfg.SessionTTL,
		CallTimeout: cfg.CallTimeout,
		Metrics:     recorder,
	})
	executor := checkin.NewExecutor(client, exchanger, log.With(slog.String("component", "checkin")), checkin.ExecutorOptions{
		CallTimeout: cfg.CallTimeout,
		Metrics:     recorder,
	})
	aggregator := checkin.NewAggregator(reg, exchanger, executor, log.With(slog.String("component", "aggregator")), checkin.AggregatorOptions{
		Concurrency: cfg.MaxConcurrency,
		Metrics:     recorder,
	})
	surface := command.NewSurface(reg, aggregator, log.With(slog.String("component", "command")))

	b, err := bot.NewBot(cfg.BotToken, surface, log.With(slog.String("component", "bot")))
	if err != nil {
		return err
	}

	// Scheduler
	c := cron.New(cron.WithLocation(loc))
	if cfg.AutoSignEnabled {
		if _, err := c.AddFunc(cfg.AutoSignSpec(), b.AutoSign); err != nil {
			return err
		}
		log.Info("auto sign scheduled", slog.String("spec", cfg.AutoSignSpec()), slog.String("timezone", loc.String()))
	}
	c.Start()

	if metricsServer != nil {
		go func() {
			log.Info("metrics server listening", slog.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		b.Stop()
	}()

	log.Info("bot started", slog.Any("games", games), slog.Bool("auto_sign", cfg.AutoSignEnabled))
	b.Start()

	<-c.Stop().Done()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", slog.String("error", err.Error()))
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	log.Info("bot stopped")
	return nil
}
