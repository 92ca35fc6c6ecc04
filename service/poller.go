package service

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"live-monitor/dto"
	"live-monitor/repository"
	"time"
)

// Poller triggers a reconciliation pass over all accounts on a fixed interval.
type Poller struct {
	interval time.Duration
	tick     func(ctx context.Context) error
}

// NewPoller calls tick immediately and then every interval.
func NewPoller(interval time.Duration, tick func(ctx context.Context) error) *Poller {
	return &Poller{interval: interval, tick: tick}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	started := time.Now()
	if err := p.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zerolog.Ctx(ctx).Error().Err(err).Msg("poll tick failed")
		return
	}
	zerolog.Ctx(ctx).Debug().Dur("elapsed", time.Since(started)).Msg("poll tick done")
}

// Enqueue returns a tick that hands every tracked account to publish, one
// message per account.
func Enqueue(store repository.SessionStore, publish func(ctx context.Context, message dto.EvaluateMessage) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		accounts, err := store.ListAccounts(ctx)
		if err != nil {
			return err
		}
		var errs []error
		for _, account := range accounts {
			if err := publish(ctx, dto.EvaluateMessage{AccountId: account.ID}); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
