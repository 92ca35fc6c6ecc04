package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"live-monitor/dto"
	"sync"
	"testing"
	"time"
)

func TestEnqueuePublishesEveryAccount(t *testing.T) {
	env := newTestEnv(t, 0)
	bob := env.addAccount(t, "bob")

	var got []uuid.UUID
	tick := Enqueue(env.store, func(_ context.Context, m dto.EvaluateMessage) error {
		got = append(got, m.AccountId)
		if m.AccountId == bob.ID {
			return errors.New("broker unavailable")
		}
		return nil
	})

	err := tick(context.Background())
	if err == nil {
		t.Fatal("publish failure not reported")
	}
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2", len(got))
	}
}

func TestPollerTicksUntilCancelled(t *testing.T) {
	var (
		mu    sync.Mutex
		ticks int
	)
	p := NewPoller(5*time.Millisecond, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	eventually(t, "three ticks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	})
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
