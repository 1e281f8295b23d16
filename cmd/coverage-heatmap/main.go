package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/coverage-heatmap/internal/api/http"
	"github.com/i474232898/coverage-heatmap/internal/config"
	"github.com/i474232898/coverage-heatmap/internal/coverage"
	"github.com/i474232898/coverage-heatmap/internal/coverage/feeds"
	"github.com/i474232898/coverage-heatmap/internal/logging"
	"github.com/i474232898/coverage-heatmap/internal/metrics"
	"github.com/i474232898/coverage-heatmap/internal/scheduler"
	"github.com/i474232898/coverage-heatmap/internal/store"
)

const appName = "coverage-heatmap"

func main() {
	configPath := flag.String("config", "", "path to settings file (default: search for settings.yaml)")
	flag.Parse()

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.Log.Format, appName)
	slog.SetDefault(log)

	m := metrics.New()

	registry, err := coverage.NewRegistry(cfg.Domains)
	if err != nil {
		log.Error("invalid domain configuration", slog.Any("err", err))
		os.Exit(1)
	}

	// Reports are always kept in memory; intervals follow store.backend.
	memStore := store.NewMemoryStore(cfg.Store.MaxReports, cfg.Store.MaxReportAge)
	var intervals coverage.IntervalStore = memStore
	if cfg.Store.Backend == "sqlite" {
		sqliteStore, err := store.OpenSQLite(cfg.Store.SQLitePath, log)
		if err != nil {
			log.Error("failed to open sqlite store", slog.String("path", cfg.Store.SQLitePath), slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := sqliteStore.Close(); err != nil {
				log.Error("close sqlite store", slog.Any("err", err))
			}
		}()
		intervals = sqliteStore
	}

	service := coverage.NewService(registry, intervals, memStore, coverage.Options{
		DefaultStart: cfg.ReportStart,
		DefaultEnd:   cfg.ReportEnd,
		Workers:      cfg.Report.Workers,
		MaxSpan:      cfg.Report.MaxIntervalSpan,
	}, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduler that periodically refreshes every domain and period.
	domainNames := make([]string, 0, len(registry.Domains()))
	for _, d := range registry.Domains() {
		domainNames = append(domainNames, d.Name)
	}
	sched := scheduler.New(domainNames, cfg.Periods, cfg.Scheduler.Interval, service, log)
	if err := sched.Start(); err != nil {
		log.Error("failed to start scheduler", slog.Any("err", err))
		os.Exit(1)
	}
	defer sched.Stop()

	// Optional submission feed.
	var feedWG sync.WaitGroup
	if cfg.Kafka.Enabled() {
		consumer, err := feeds.NewConsumer(feeds.ConsumerConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			GroupID:     cfg.Kafka.GroupID,
			PollTimeout: cfg.Kafka.PollTimeout,
		}, service, registry, m, log)
		if err != nil {
			log.Error("failed to create submission consumer", slog.Any("err", err))
			os.Exit(1)
		}
		feedWG.Add(1)
		go func() {
			defer feedWG.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("submission feed stopped", slog.Any("err", err))
			}
			if err := consumer.Close(); err != nil {
				log.Error("close submission consumer", slog.Any("err", err))
			}
		}()
	} else {
		log.Info("kafka brokers not configured; submission feed disabled")
	}

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(httpapi.Metrics(m))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": appName,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	httpapi.RegisterRoutes(app, service)

	go func() {
		log.Info("http server listening", slog.String("port", cfg.Server.Port))
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Error("fiber server stopped", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", slog.Any("err", err))
	}
	feedWG.Wait()
}
