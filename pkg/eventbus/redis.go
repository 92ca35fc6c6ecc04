package eventbus

import (
	"context"
	"encoding/json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"live-monitor/dto"
	"strings"
)

// RedisRelay publishes events through Redis pub/sub so every instance of the
// service delivers them to its own connected subscribers. Events reach the
// local bus only on the way back from Redis, so each one is delivered once.
type RedisRelay struct {
	client *redis.Client
	local  *Bus
	prefix string
}

func NewRedisRelay(client *redis.Client, local *Bus, prefix string) *RedisRelay {
	return &RedisRelay{
		client: client,
		local:  local,
		prefix: prefix,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, group string, event dto.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("event", event.Type()).Msg("failed to encode event")
		return
	}
	if err := r.client.Publish(ctx, r.prefix+group, payload).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("group", group).Msg("redis publish failed, delivering locally only")
		r.local.Publish(ctx, group, event)
	}
}

// Run relays messages from Redis into the local bus until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("pattern", r.prefix+"*").Msg("redis event relay subscribed")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, err := dto.DecodeEvent([]byte(msg.Payload))
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("channel", msg.Channel).Msg("failed to decode relayed event")
				continue
			}
			r.local.Publish(ctx, strings.TrimPrefix(msg.Channel, r.prefix), event)
		}
	}
}
