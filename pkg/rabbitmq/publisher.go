package rabbitmq

import (
	"context"
	"encoding/json"
	amqp "github.com/rabbitmq/amqp091-go"
	"live-monitor/config"
	"live-monitor/dto"
	"sync"
)

// Publisher puts evaluation requests on the queue the consumer reads.
type Publisher struct {
	mu   sync.Mutex
	ch   *amqp.Channel
	topo topology
}

func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	topo := newTopology(cfg)
	if err := topo.declare(ctx, ch, cfg.Kind); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch, topo: topo}, nil
}

func (p *Publisher) PublishEvaluate(ctx context.Context, message dto.EvaluateMessage) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.topo.exchange, p.topo.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
