// Package eventbus fans typed events out to named subscriber groups.
//
// Delivery is fire-and-forget: a subscriber that is not connected, or whose
// buffer is full, misses the event. Nothing is persisted or replayed.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-monitor/constant"
	"live-monitor/dto"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	ErrForbidden    = errors.New("group requires administrator capability")
	ErrInvalidGroup = errors.New("invalid group name")
	ErrClosed       = errors.New("event bus closed")
)

const defaultBuffer = 64

// Publisher is the write side of the bus, the only part the pipeline needs.
type Publisher interface {
	Publish(ctx context.Context, group string, event dto.Event)
}

// Principal is the verified identity of a subscriber.
type Principal struct {
	UserID uuid.UUID
	Admin  bool
}

func UserGroup(userId uuid.UUID) string {
	return "user_" + userId.String()
}

func LiveGroup(sessionId uuid.UUID) string {
	return "live_" + sessionId.String()
}

type Subscription struct {
	group     string
	principal Principal
	ch        chan dto.Event
	dropped   atomic.Int64
}

func (s *Subscription) Events() <-chan dto.Event {
	return s.ch
}

func (s *Subscription) Group() string {
	return s.group
}

// Dropped counts events discarded because the subscriber fell behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

type Bus struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

type Option func(*Bus)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		groups: make(map[string]map[*Subscription]struct{}),
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe joins principal to group. The moderation group is refused here,
// at subscribe time, for anyone without admin capability.
func (b *Bus) Subscribe(group string, principal Principal) (*Subscription, error) {
	if err := validateGroup(group); err != nil {
		return nil, err
	}
	if group == constant.GroupModeration && !principal.Admin {
		return nil, ErrForbidden
	}

	sub := &Subscription{
		group:     group,
		principal: principal,
		ch:        make(chan dto.Event, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	members, ok := b.groups[group]
	if !ok {
		members = make(map[*Subscription]struct{})
		b.groups[group] = members
	}
	members[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes sub and closes its channel. Calling it twice is safe.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.groups[sub.group]
	if !ok {
		return
	}
	if _, ok := members[sub]; !ok {
		return
	}
	delete(members, sub)
	close(sub.ch)
	if len(members) == 0 {
		delete(b.groups, sub.group)
	}
}

func (b *Bus) Publish(ctx context.Context, group string, event dto.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.groups[group] {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			zerolog.Ctx(ctx).Debug().
				Str("group", group).
				Str("event", event.Type()).
				Str("user_id", sub.principal.UserID.String()).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscribers reports how many subscriptions group currently has.
func (b *Bus) Subscribers(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

// Close unsubscribes everyone and refuses new subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for group, members := range b.groups {
		for sub := range members {
			close(sub.ch)
		}
		delete(b.groups, group)
	}
	b.closed = true
}

func validateGroup(group string) error {
	switch {
	case group == constant.GroupLives, group == constant.GroupModeration:
		return nil
	case strings.HasPrefix(group, "user_"):
		if _, err := uuid.Parse(strings.TrimPrefix(group, "user_")); err == nil {
			return nil
		}
	case strings.HasPrefix(group, "live_"):
		if _, err := uuid.Parse(strings.TrimPrefix(group, "live_")); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidGroup, group)
}
