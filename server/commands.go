package server

import (
	"context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-monitor/config"
	"time"
)

// RunMigrate brings the postgres schema up to date.
func RunMigrate(cfg *config.Config) error {
	ctx := setupLogger(cfg)
	repo, err := openPostgres(cfg)
	if err != nil {
		return err
	}
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Msg("schema migrated")
	return nil
}

// RunEvaluate performs a single reconciliation pass over one account, or
// every tracked account when accountID is nil. Sessions are opened and closed, but no transcription outlives the
// command; the server picks those sessions up on its next poll.
func RunEvaluate(ctx context.Context, cfg *config.Config, accountID *uuid.UUID) error {
	ctx, cancel := context.WithCancel(zerolog.Ctx(setupLogger(cfg)).WithContext(ctx))
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.bus.Close()

	if accountID != nil {
		err = a.coordinator.Evaluate(ctx, *accountID)
	} else {
		err = a.coordinator.EvaluateAll(ctx)
	}
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Msg("evaluation pass finished")

	cancel()
	stopCtx, stop := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout+5*time.Second)
	defer stop()
	return a.workers.Shutdown(stopCtx)
}
