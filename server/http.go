package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"live-monitor/config"
	"live-monitor/constant"
	"live-monitor/handler"
	"live-monitor/pkg/rabbitmq"
	"live-monitor/service"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to initialise")
		return
	}

	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}

	tick, err := pollTick(ctx, cfg, a)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to set up polling")
		return
	}
	go service.NewPoller(cfg.Poll.Interval, tick).Run(ctx)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(zerolog.Ctx(ctx)))
	addHealth(r, a)
	handler.NewAPI(a.store, a.bus, a.coordinator, handler.WSConfig{}).Register(r)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("addr", srv.Addr).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), cfg.Worker.ShutdownTimeout+5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	if err := a.workers.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("transcription workers did not stop in time")
	}
	a.bus.Close()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// pollTick decides how a poll reaches the coordinator: through the broker
// when one is configured, so evaluations spread across instances, or by
// calling it directly.
func pollTick(ctx context.Context, cfg *config.Config, a *app) (func(ctx context.Context) error, error) {
	if !cfg.Queue.Enabled() {
		return a.coordinator.EvaluateAll, nil
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}
	publisher, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue)
	if err != nil {
		return nil, err
	}

	deps := handler.ServiceDependencies{EvaluationService: a.coordinator}
	consumer := rabbitmq.NewConsumer(conn, cfg.Queue, cfg.Server.Workers, handler.EvaluateHandler)
	go func() {
		if err := consumer.Consume(ctx, deps); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("evaluate consumer error")
		}
	}()

	return service.Enqueue(a.store, publisher.PublishEvaluate), nil
}

func addHealth(r *gin.Engine, a *app) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"workers": a.registry.Len(),
		})
	})
}

// requestLogger attaches the service logger to every request context and
// logs each completed request.
func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()

		event := logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "live-monitor").Logger()
	return logger.WithContext(context.Background())
}
