package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/climate-region-aggregation/internal/api/http"
	"github.com/i474232898/climate-region-aggregation/internal/climate"
	"github.com/i474232898/climate-region-aggregation/internal/climate/classifiers"
	"github.com/i474232898/climate-region-aggregation/internal/config"
	"github.com/i474232898/climate-region-aggregation/internal/dataset"
	"github.com/i474232898/climate-region-aggregation/internal/log"
	"github.com/i474232898/climate-region-aggregation/internal/scheduler"
	"github.com/i474232898/climate-region-aggregation/internal/store"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := log.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("failed to initialise logging: %v", err)
	}
	defer log.Sync()

	classifier, err := newClassifier(cfg)
	if err != nil {
		log.Fatalf("failed to set up region classifier: %v", err)
	}
	log.Infow("region classifier ready", "classifier", classifier.Name())

	// In-memory store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	// Core service orchestrating loader, classifier and store.
	service := climate.NewService(memStore, classifier, dataset.NewNetCDFLoader(), cfg.Datasets)

	// Scheduler that periodically recomputes and stores regional means.
	names := make([]string, 0, len(cfg.Datasets))
	for _, ds := range cfg.Datasets {
		names = append(names, ds.Name)
	}
	sched := scheduler.New(names, cfg.RecomputeInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "climate-region-aggregation",
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024 * 1024,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":     "ok",
			"service":    "climate-region-aggregation",
			"classifier": classifier.Name(),
			"stored":     memStore.Datasets(),
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		log.Infow("listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorf("error during shutdown: %v", err)
	}
}

// newClassifier prefers a remote mask service when one is configured and
// otherwise classifies locally against the configured or embedded region set.
func newClassifier(cfg *config.AppConfig) (climate.Classifier, error) {
	if cfg.ClassifierURL != "" {
		// Shared HTTP client for outbound classifier calls.
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		return classifiers.NewRemoteClassifier(httpClient, cfg.ClassifierURL), nil
	}

	var (
		set *classifiers.RegionSet
		err error
	)
	if cfg.RegionSetFile != "" {
		set, err = classifiers.LoadRegionSet(cfg.RegionSetFile)
	} else {
		set, err = classifiers.AR6Land()
	}
	if err != nil {
		return nil, err
	}
	return classifiers.NewPolygonClassifier(set), nil
}
