package server

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
	"live-monitor/config"
	"live-monitor/constant"
	"live-monitor/pkg/classifier"
	"live-monitor/pkg/eventbus"
	"live-monitor/pkg/presence"
	"live-monitor/pkg/stt"
	"live-monitor/repository"
	"live-monitor/service"
	"net/http"
)

// app holds the wired components shared by the server and the one-shot
// commands.
type app struct {
	store       repository.SessionStore
	bus         *eventbus.Bus
	publisher   eventbus.Publisher
	relay       *eventbus.RedisRelay
	registry    *service.Registry
	workers     *service.Workers
	coordinator *service.Coordinator
}

func gormLogLevel(cfg *config.Config) logger.LogLevel {
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		return logger.Info
	}
	return logger.Warn
}

// openPostgres connects to the configured database. The returned store owns
// the connection.
func openPostgres(cfg *config.Config) (*repository.PostgresRepo, error) {
	db, err := config.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	return repository.NewRepo(db, gormLogLevel(cfg))
}

// openStore returns the postgres store when a DSN is configured, migrated to
// the current schema, and an in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (repository.SessionStore, error) {
	if cfg.Database.DSN == "" {
		zerolog.Ctx(ctx).Warn().Msg("postgresql_host not set, using in-memory store")
		return repository.NewMemoryRepo(), nil
	}
	repo, err := openPostgres(cfg)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := zerolog.Ctx(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		store:    store,
		bus:      eventbus.New(),
		registry: service.NewRegistry(),
	}
	a.publisher = a.bus

	if cfg.Redis.Enabled() {
		client := config.NewRedis(cfg.Redis)
		if err := config.PingRedis(ctx, client); err != nil {
			return nil, err
		}
		a.relay = eventbus.NewRedisRelay(client, a.bus, cfg.Redis.ChannelPrefix)
		a.publisher = a.relay
	}

	if cfg.Transcription.APIKey == "" {
		log.Warn().Msg("transcription.api_key not set, transcription requests will be rejected")
	}
	if cfg.Classifier.APIKey == "" {
		log.Warn().Msg("classifier.api_key not set, segments will not be analyzed")
	}

	var archiver stt.Archiver
	if cfg.MinIO.Enabled() {
		client, err := config.NewMinIO(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		archiver = stt.NewMinIOArchiver(client, cfg.MinIO.Bucket)
	}

	prober := presence.NewHTTPProber(cfg.Presence.BaseURL, cfg.Presence.UserAgent, cfg.Presence.Timeout)
	transcriber := stt.NewWhisperClient(cfg.Transcription.BaseURL, cfg.Transcription.APIKey, &http.Client{Timeout: 2 * cfg.Transcription.SegmentDuration})
	opener := stt.NewFFmpegOpener(cfg.Transcription.FFmpegPath, cfg.Transcription.WorkDir, transcriber, archiver)
	clf := classifier.NewGroqClassifier(cfg.Classifier.BaseURL, cfg.Classifier.APIKey, cfg.Classifier.Model, &http.Client{})

	a.workers = service.NewWorkers(ctx, store, prober, opener, clf, a.publisher, a.registry,
		service.WorkerConfig{
			SegmentDuration:   cfg.Transcription.SegmentDuration,
			Language:          cfg.Transcription.Language,
			Model:             cfg.Transcription.Model,
			Threshold:         cfg.Risk.Threshold,
			ClassifierTimeout: cfg.Classifier.Timeout,
			ShutdownTimeout:   cfg.Worker.ShutdownTimeout,
		},
		service.WithCompletion(func(s service.Summary) {
			if s.Err == nil || errors.Is(s.Err, context.Canceled) {
				return
			}
			log.Error().Err(s.Err).
				Str("session_id", s.SessionID.String()).
				Int("segments", s.Segments).
				Msg("transcription worker failed, will restart on next poll")
		}),
	)

	a.coordinator = service.NewCoordinator(store, prober, a.workers, a.publisher, service.CoordinatorConfig{
		Concurrency:     cfg.Poll.Concurrency,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	})
	return a, nil
}
