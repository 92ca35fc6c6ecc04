package handler

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"live-monitor/dto"
	"live-monitor/service"
)

type ServiceDependencies struct {
	EvaluationService service.Service
}

// EvaluateHandler consumes one poll request. Malformed and non-retryable
// messages are marked permanent so the consumer dead-letters them at once.
func EvaluateHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var message dto.EvaluateMessage
	if err := json.Unmarshal(msg.Body, &message); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal evaluate message")
		return backoff.Permanent(errors.Join(service.ErrNonRetryable, err))
	}

	err := deps.EvaluationService.Process(ctx, message)
	if errors.Is(err, service.ErrNonRetryable) {
		return backoff.Permanent(err)
	}
	return err
}
