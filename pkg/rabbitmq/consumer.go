package rabbitmq

import (
	"context"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"live-monitor/config"
	"sync"
	"time"
)

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
}

// topology names the exchange, queue and dead letter pair for a queue config.
type topology struct {
	exchange      string
	queue         string
	routingKey    string
	dlx           string
	dlq           string
	dlqRoutingKey string
}

func newTopology(cfg *config.RabbitMQ) topology {
	return topology{
		exchange:      cfg.ExchangeName,
		queue:         cfg.QueueName,
		routingKey:    cfg.RoutingKey,
		dlx:           cfg.ExchangeName + "_dlx",
		dlq:           cfg.QueueName + "_dlq",
		dlqRoutingKey: "dlq." + cfg.RoutingKey,
	}
}

func (t topology) declare(ctx context.Context, ch *amqp.Channel, kind string) error {
	logger := zerolog.Ctx(ctx)

	if err := ch.ExchangeDeclare(t.exchange, kind, true, false, false, false, nil); err != nil {
		logger.Error().Err(err).Str("exchange", t.exchange).Msg("failed to declare exchange")
		return err
	}
	if err := ch.ExchangeDeclare(t.dlx, kind, true, false, false, false, nil); err != nil {
		logger.Error().Err(err).Str("exchange", t.dlx).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(t.dlq, true, false, false, false, nil)
	if err != nil {
		logger.Error().Err(err).Str("queue", t.dlq).Msg("failed to declare dlq")
		return err
	}
	if err := ch.QueueBind(dlq.Name, t.dlqRoutingKey, t.dlx, false, nil); err != nil {
		logger.Error().Err(err).Str("queue", t.dlq).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    t.dlx,
		"x-dead-letter-routing-key": t.dlqRoutingKey,
	}
	q, err := ch.QueueDeclare(t.queue, true, false, false, false, args)
	if err != nil {
		logger.Error().Err(err).Str("queue", t.queue).Msg("failed to declare queue")
		return err
	}
	if err := ch.QueueBind(q.Name, t.routingKey, t.exchange, false, nil); err != nil {
		logger.Error().Err(err).Str("queue", t.queue).Msg("failed to bind queue")
		return err
	}
	return nil
}

// Consume hands deliveries to a fixed pool of workers. A handler error is
// retried with backoff; a backoff.Permanent error or exhausted retries send
// the message to the dead letter queue.
func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	topo := newTopology(c.cfg)
	if err := topo.declare(ctx, ch, c.cfg.Kind); err != nil {
		return err
	}

	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", topo.queue).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(topo.queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", topo.queue).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", topo.queue).
		Str("exchange", topo.exchange).
		Str("routing_key", topo.routingKey).
		Int("workers", c.numWorkers).
		Msg("evaluation consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, workerId, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func (c consumer[T]) handle(ctx context.Context, workerId int, msg amqp.Delivery, dependencies T) {
	operation := func() (struct{}, error) {
		return struct{}{}, c.handler(ctx, msg, dependencies)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message after all retries")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		handler:    handler,
		numWorkers: numWorkers,
	}
}
