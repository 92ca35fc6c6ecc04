package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-monitor/dto"
)

// ErrNonRetryable marks a message that must not be redelivered.
var ErrNonRetryable = errors.New("non-retryable error")

// Service handles evaluation requests arriving from the queue.
type Service interface {
	Process(ctx context.Context, message dto.EvaluateMessage) error
}

func (c *Coordinator) Process(ctx context.Context, message dto.EvaluateMessage) error {
	if message.AccountId == uuid.Nil {
		return errors.Join(ErrNonRetryable, errors.New("evaluate message without account id"))
	}
	zerolog.Ctx(ctx).Debug().Str("account_id", message.AccountId.String()).Msg("processing evaluation")
	return c.Evaluate(ctx, message.AccountId)
}

var _ Service = (*Coordinator)(nil)
