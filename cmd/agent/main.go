package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"safeping/internal/api"
	"safeping/internal/assetcache"
	"safeping/internal/config"
	"safeping/internal/database"
	"safeping/internal/domain"
	"safeping/internal/events"
	"safeping/internal/logging"
	"safeping/internal/metrics"
	"safeping/internal/notify"
	"safeping/internal/repository"
	"safeping/internal/router"
	"safeping/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, logger); err != nil {
		return err
	}

	metrics.Register()

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open the submission store")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	subscribeQueueEvents(bus, logger)

	redisClient, state := initNotificationState(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	feed := notify.NewAlertFeed()
	windows := notify.NewRegistry(nil)
	presenter := notify.NewPresenter(feed, windows, state, cfg.Notifications, bus, logger)

	cache := assetcache.New(cfg.Cache, cfg.Endpoint.Host(), logger)
	replayer := worker.NewReplayer(db, cfg.Endpoint, cfg.Sync, feed, bus, logger)
	rt := router.New(cache, db, replayer, presenter, feed, state, bus, logger)

	installAssets(ctx, rt, cfg, logger)

	retry := worker.RetryPolicy{
		InitialDelay:  cfg.Sync.InitialDelay,
		MaxDelay:      cfg.Sync.MaxDelay,
		BackoffFactor: cfg.Sync.BackoffFactor,
	}
	watcher := worker.NewConnectivityWatcher(db, cfg.Endpoint.ProbeURL(), cfg.Sync.PollInterval, retry,
		func(ctx context.Context, tag string) {
			rt.Dispatch(ctx, router.SyncSignal{Tag: tag})
		}, bus, logger)
	go watcher.Start(ctx)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	apiServer := api.NewHTTPServer(cfg.API, db, rt, feed, windows, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := logging.Component(baseLogger, "agent-main")

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create the database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create the asset cache directory")
		return err
	}
	return nil
}

func initNotificationState(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, domain.NotificationState) {
	ttl := cfg.Notifications.StateTTL
	fallback := repository.NewMemoryNotificationState(ttl)

	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis unavailable")
		}
	}
	if redisClient == nil {
		return nil, fallback
	}

	primary := repository.NewRedisNotificationState(redisClient, ttl)
	return redisClient, repository.NewFailoverNotificationState(primary, fallback, &logger)
}

// installAssets warms the asset cache at startup. A failed install keeps the
// previous generation serving; the agent still starts.
func installAssets(ctx context.Context, rt *router.Router, cfg *config.Config, logger zerolog.Logger) {
	if cfg.Cache.Origin == "" || len(cfg.Cache.Manifest) == 0 {
		logger.Info().Msg("Asset cache not configured, skipping install")
		return
	}

	if outcome := rt.Dispatch(ctx, router.InstallSignal{}); outcome.Err != nil {
		logger.Error().Err(outcome.Err).Str("generation", cfg.Cache.Generation).Msg("Asset install failed")
		return
	}
	if outcome := rt.Dispatch(ctx, router.ActivateSignal{}); outcome.Err != nil {
		logger.Error().Err(outcome.Err).Msg("Asset activate failed")
	}
}

func subscribeQueueEvents(bus *events.EventBus, logger zerolog.Logger) {
	bus.Subscribe(events.EventSubmissionRetired, func(ev *events.Event) error {
		var payload events.SubmissionEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}
		logger.Warn().
			Str("collection", string(payload.Collection)).
			Str("id", payload.ID).
			Msg("Submission retired to dead letters")
		return nil
	})

	bus.Subscribe(events.EventDrainCompleted, func(ev *events.Event) error {
		var payload events.DrainEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}
		logger.Info().
			Str("collection", string(payload.Summary.Collection)).
			Int("attempted", payload.Summary.Attempted).
			Int("succeeded", payload.Summary.Succeeded).
			Int("failed", payload.Summary.Failed).
			Msg("Drain completed")
		return nil
	})
}
