package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rewired-gh/coefwatch/internal/config"
	"github.com/rewired-gh/coefwatch/internal/feed"
	"github.com/rewired-gh/coefwatch/internal/logger"
	"github.com/rewired-gh/coefwatch/internal/metrics"
	"github.com/rewired-gh/coefwatch/internal/models"
	"github.com/rewired-gh/coefwatch/internal/monitor"
	"github.com/rewired-gh/coefwatch/internal/storage"
	"github.com/rewired-gh/coefwatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

// logAlerter writes alerts to the log when Telegram is disabled.
type logAlerter struct{}

func (logAlerter) Deliver(_ context.Context, subscriberID int64, p models.AlertPayload) error {
	logger.Info("Alert for subscriber %d: median %.2f [%.2f, %.2f], confidence %d%%",
		subscriberID, p.Forecast.Median, p.Forecast.Lower, p.Forecast.Upper, p.Forecast.Confidence)
	return nil
}

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize feed client
	feedClient := feed.NewClient(feed.ClientConfig{
		URL:            cfg.Feed.URL,
		ValuePath:      cfg.Feed.ValuePath,
		RoundIDPath:    cfg.Feed.RoundIDPath,
		Headers:        cfg.Feed.Headers,
		Timeout:        cfg.Feed.Timeout,
		MaxRetries:     cfg.Feed.MaxRetries,
		RetryDelayBase: cfg.Feed.RetryDelayBase,
		MaxConcurrent:  cfg.Feed.MaxConcurrent,
	})

	var observers []monitor.Observer

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Enabled {
		observers = append(observers, metrics.New(reg))
	}

	// Initialize storage
	var store *storage.Store
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
		observers = append(observers, store)
		logger.Info("Subscriber storage opened at %s", cfg.Storage.DBPath)
	}

	// Initialize Telegram client
	var alerter monitor.Alerter = logAlerter{}
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.MaxRetries,
			cfg.Telegram.RetryDelayBase, cfg.Monitor.PollInterval)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		alerter = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram disabled, alerts go to the log")
	}

	scheduler := monitor.New(monitor.Config{
		Interval:        cfg.Monitor.PollInterval,
		Threshold:       cfg.Monitor.Threshold,
		HistoryCapacity: cfg.Forecast.HistorySize,
		EnsembleSize:    cfg.Forecast.EnsembleSize,
		Seed:            cfg.Forecast.Seed,
	}, feedClient, alerter, observers...)

	if store != nil {
		restoreSubscribers(store, scheduler, cfg.Monitor.ResumeOnStart)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Metrics listening on %s", cfg.Metrics.Address)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
	}

	// Start Telegram command listener
	if telegramClient != nil {
		bot := telegram.NewBot(telegramClient, scheduler, cfg.Telegram.RequestTimeout)
		go bot.ListenForCommands(ctx)
	}

	logger.Info("Service started (interval: %v, threshold: %d, history: %d, ensemble: %d)",
		cfg.Monitor.PollInterval, cfg.Monitor.Threshold, cfg.Forecast.HistorySize, cfg.Forecast.EnsembleSize)

	<-ctx.Done()
	logger.Info("Shutdown signal received, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Monitor.ShutdownTimeout)
	defer cancel()

	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Scheduler did not stop cleanly: %v", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server did not stop cleanly: %v", err)
		}
	}

	logger.Info("Service stopped")
}

// restoreSubscribers seeds accuracy from storage and restarts loops that were
// running at the last shutdown.
func restoreSubscribers(store *storage.Store, scheduler *monitor.Scheduler, resume bool) {
	subs, err := store.LoadAll()
	if err != nil {
		logger.Error("Failed to load subscribers: %v", err)
		return
	}

	resumed := 0
	for _, sub := range subs {
		if err := scheduler.RestoreAccuracy(sub.ID, sub.Accuracy); err != nil {
			logger.Warn("Failed to restore accuracy for subscriber %d: %v", sub.ID, err)
			continue
		}
		if !resume || !sub.Monitoring {
			continue
		}
		if err := scheduler.Start(sub.ID); err != nil {
			logger.Warn("Failed to resume monitoring for subscriber %d: %v", sub.ID, err)
			continue
		}
		resumed++
	}
	logger.Info("Restored %d subscribers, resumed %d monitoring loops", len(subs), resumed)
}
