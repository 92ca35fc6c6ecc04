package eventbus

import (
	"context"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"live-monitor/dto"
	"testing"
	"time"
)

func TestRedisRelayFallsBackToLocalDelivery(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	bus := New()
	relay := NewRedisRelay(client, bus, "test:")

	sessionID := uuid.New()
	sub, err := bus.Subscribe(LiveGroup(sessionID), Principal{UserID: uuid.New()})
	if err != nil {
		t.Fatal(err)
	}

	relay.Publish(context.Background(), LiveGroup(sessionID), dto.NewTranscription{SessionID: sessionID, SegmentIndex: 1, Text: "salut"})

	got, ok := receive(t, sub).(dto.NewTranscription)
	if !ok || got.SegmentIndex != 1 {
		t.Fatalf("event = %+v", got)
	}
}
