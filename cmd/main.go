package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"health-service/internal/api"
	"health-service/internal/config"
	"health-service/internal/configstore"
	"health-service/internal/db"
	"health-service/internal/engine"
	"health-service/internal/escalation"
	"health-service/internal/history"
	"health-service/internal/kafka"
	"health-service/internal/logging"
	"health-service/internal/models"
	"health-service/internal/notification"
	"health-service/internal/pipeline"
	"health-service/internal/providers"
	"health-service/internal/rules"
	"health-service/internal/sla"
)

// configSource serves environment trees and rules.
type configSource interface {
	engine.TreeSource
	rules.Source
}

// historyStore reads and writes state transition history.
type historyStore interface {
	engine.HistoryWriter
	sla.HistoryReader
	escalation.HistoryReader
}

func main() {
	// Load config
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores
	var (
		database *db.DB
		cache    *db.RedisCache
		source   configSource
		store    historyStore
		recorder pipeline.TransitionRecorder
	)
	if cfg.DB.DSN != "" {
		database, err = db.New(cfg.DB.DSN)
		if err != nil {
			logger.WithError(err).Fatal("Database connection failed")
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("Database migration failed")
		}
		source, store, recorder = database, database, database
	} else {
		logger.Warn("DB_DSN not set, state history is kept in memory")
		store = history.NewMemoryStore()
	}

	var fileStore *configstore.Store
	if cfg.ConfigFile != "" {
		fileStore, err = configstore.Load(cfg.ConfigFile, logger)
		if err != nil {
			logger.WithError(err).Fatal("Config file load failed")
		}
		source = fileStore
	}

	slaOpts := sla.Options{
		Thresholds: sla.Thresholds{Warning: cfg.SLA.WarningThreshold, Error: cfg.SLA.ErrorThreshold},
	}
	if slaOpts.NoData, err = sla.ParseNoDataPolicy(cfg.SLA.NoDataPolicy); err != nil {
		logger.WithError(err).Fatal("Invalid SLA configuration")
	}
	if cfg.Redis.URL != "" {
		cache, err = db.NewRedisCache(cfg.Redis.URL, cfg.Redis.SLACacheTTL)
		if err != nil {
			logger.WithError(err).Fatal("Redis connection failed")
		}
		defer cache.Close()
		slaOpts.Cache = cache
	}

	// Rules
	ruleCache := rules.NewCache(source, logger)
	if err := ruleCache.Refresh(ctx); err != nil {
		logger.WithError(err).Fatal("Initial rules load failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ruleCache.Run(ctx, cfg.Engine.RulesRefresh)
	}()
	if fileStore != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fileStore.Watch(ctx, func() {
				if err := ruleCache.Refresh(ctx); err != nil {
					logger.WithError(err).Error("Refresh rules after config change failed")
				}
			})
			if err != nil {
				logger.WithError(err).Error("Config watcher stopped")
			}
		}()
	}

	// Notifications
	providerSet := map[string]notification.Provider{
		models.ChannelWebhook: providers.NewWebhook(&http.Client{Timeout: 15 * time.Second}, logger),
	}
	if cfg.Email.SMTPServer != "" {
		providerSet[models.ChannelEmail] = providers.NewEmail(cfg)
	}
	if cfg.Telegram.BotToken != "" {
		tg, err := providers.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.RateLimit, logger)
		if err != nil {
			logger.WithError(err).Fatal("Telegram bot init failed")
		}
		providerSet[models.ChannelTelegram] = tg
	}
	dispatcher := notification.New(ruleCache, providerSet, logger, notification.Options{
		QueueSize:  cfg.Notification.QueueSize,
		MaxWorkers: cfg.Notification.MaxWorkers,
	})
	dispatcher.Start()

	// Engine
	stream := api.NewStream(logger)
	eng := engine.New(source, store, logger, engine.Options{QueueSize: cfg.Engine.QueueSize}, dispatcher, stream)

	evaluator := escalation.New(eng, store, ruleCache, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		evaluator.Run(ctx, cfg.Engine.EscalationInterval)
	}()

	coordinator := pipeline.New(eng, ruleCache, recorder, logger)

	// Kafka consumer
	var consumer *kafka.Consumer
	if !cfg.Kafka.Disabled {
		consumer = kafka.NewConsumer(cfg, coordinator, logger)
		consumer.Start()
		logger.WithField("topic", cfg.Kafka.Topic).Info("Kafka consumer initialized")
	}

	// Start API server
	calculator := sla.New(store, logger, slaOpts)
	handler := api.NewHandler(coordinator, eng, calculator, stream, logger)
	if database != nil {
		handler.AddHealthCheck("postgres", database)
	}
	if cache != nil {
		handler.AddHealthCheck("redis", cache)
	}
	server := &http.Server{
		Addr:              cfg.API.Port,
		Handler:           api.NewRouter(handler, logger, cfg.API.BasePath),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("API server failed")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.WithField("signal", s.String()).Info("Shutting down")
	case <-ctx.Done():
	}

	// Gateways first, then the engine, then its listeners.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	stream.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("API server shutdown failed")
	}
	if consumer != nil {
		consumer.Stop()
	}
	cancel()
	wg.Wait()
	eng.Stop()
	dispatcher.Stop()
	logger.Info("Shutdown complete")
}
