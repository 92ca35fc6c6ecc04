package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-monitor/constant"
	"live-monitor/dto"
	"live-monitor/entities"
	"live-monitor/pkg/eventbus"
	"live-monitor/pkg/presence"
	"live-monitor/repository"
	"sync"
	"time"
)

// SessionWorkers is the part of Workers the coordinator drives.
type SessionWorkers interface {
	Start(ctx context.Context, account *entities.TrackedAccount, session *entities.LiveSession) (*Handle, error)
	Stop(sessionID uuid.UUID)
	StopAndWait(ctx context.Context, sessionID uuid.UUID) error
	Running(sessionID uuid.UUID) bool
}

type CoordinatorConfig struct {
	// Concurrency bounds EvaluateAll.
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Coordinator reconciles each account's observed presence with its stored
// sessions. Calls for one account are serialized; different accounts proceed
// in parallel.
type Coordinator struct {
	store   repository.SessionStore
	prober  presence.Prober
	workers SessionWorkers
	bus     eventbus.Publisher
	cfg     CoordinatorConfig
	locks   *keyedMutex
	now     func() time.Time
}

func NewCoordinator(store repository.SessionStore, prober presence.Prober, workers SessionWorkers, bus eventbus.Publisher, cfg CoordinatorConfig) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Coordinator{
		store:   store,
		prober:  prober,
		workers: workers,
		bus:     bus,
		cfg:     cfg,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
}

// Evaluate runs one reconciliation tick for the account. Only storage errors
// are returned; probe and worker failures are logged and retried next tick.
func (c *Coordinator) Evaluate(ctx context.Context, accountID uuid.UUID) error {
	unlock := c.locks.Lock(accountID)
	defer unlock()

	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	if account == nil {
		zerolog.Ctx(ctx).Debug().Str("account_id", accountID.String()).Msg("account no longer tracked")
		return nil
	}

	logger := zerolog.Ctx(ctx).With().Str("account", account.Handle).Logger()
	ctx = logger.WithContext(ctx)

	live := false
	p, err := c.prober.Probe(ctx, account.Handle)
	if err != nil {
		logger.Warn().Err(err).Msg("presence probe failed, treating account as offline")
	} else {
		live = p.Live
	}

	active, err := c.store.ActiveSession(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("load active session: %w", err)
	}

	switch {
	case live && active == nil:
		return c.startSession(ctx, account)
	case live:
		if c.workers.Running(active.ID) {
			return nil
		}
		logger.Info().Str("session_id", active.ID.String()).Msg("session has no worker, restarting")
		return c.spawn(ctx, account, active)
	case active != nil:
		return c.endSession(ctx, account, active)
	}
	return nil
}

func (c *Coordinator) startSession(ctx context.Context, account *entities.TrackedAccount) error {
	session := &entities.LiveSession{
		AccountId: account.ID,
		Title:     constant.DefaultSessionTitle,
		Status:    constant.SessionStatusActive,
		StartedAt: c.now().UTC(),
	}
	active, created, err := c.store.CreateSession(ctx, session)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !created {
		zerolog.Ctx(ctx).Info().Str("session_id", active.ID.String()).Msg("account already has an active session")
		if c.workers.Running(active.ID) {
			return nil
		}
		return c.spawn(ctx, account, active)
	}

	zerolog.Ctx(ctx).Info().Str("session_id", active.ID.String()).Msg("live session started")
	c.notify(ctx, account.OwnerId, active.ID, fmt.Sprintf("@%s started a live", account.Handle))

	event := dto.SessionStarted{
		Account:   account.Handle,
		Title:     active.Title,
		SessionID: active.ID,
		OwnerID:   account.OwnerId,
	}
	c.bus.Publish(ctx, constant.GroupLives, event)
	c.bus.Publish(ctx, eventbus.UserGroup(account.OwnerId), event)

	return c.spawn(ctx, account, active)
}

// spawn starts the session's worker in the background once the session is
// confirmed to still exist.
func (c *Coordinator) spawn(ctx context.Context, account *entities.TrackedAccount, session *entities.LiveSession) error {
	exists, err := c.store.SessionExists(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return nil
	}

	startCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := c.workers.Start(startCtx, account, session); err != nil {
			event := zerolog.Ctx(startCtx).Warn()
			if errors.Is(err, ErrSessionGone) || errors.Is(err, ErrShuttingDown) {
				event = zerolog.Ctx(startCtx).Debug()
			}
			event.Err(err).Str("session_id", session.ID.String()).Msg("failed to start transcription")
		}
	}()
	return nil
}

// endSession marks the session ENDED before stopping its worker, so a worker
// still being set up sees the new status and gives up.
func (c *Coordinator) endSession(ctx context.Context, account *entities.TrackedAccount, session *entities.LiveSession) error {
	if err := c.store.EndSession(ctx, session.ID, c.now().UTC()); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	c.workers.Stop(session.ID)

	zerolog.Ctx(ctx).Info().Str("session_id", session.ID.String()).Msg("live session ended")
	c.notify(ctx, account.OwnerId, session.ID, fmt.Sprintf("@%s's live has ended", account.Handle))
	c.publishEnded(ctx, account, session)
	return nil
}

func (c *Coordinator) publishEnded(ctx context.Context, account *entities.TrackedAccount, session *entities.LiveSession) {
	event := dto.SessionEnded{Account: account.Handle, SessionID: session.ID}
	c.bus.Publish(ctx, constant.GroupLives, event)
	c.bus.Publish(ctx, eventbus.UserGroup(account.OwnerId), event)
}

func (c *Coordinator) notify(ctx context.Context, userID, sessionID uuid.UUID, message string) {
	err := c.store.CreateNotification(ctx, &entities.Notification{
		UserId:        userID,
		LiveSessionId: sessionID,
		Message:       message,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to save notification")
	}
}

// RemoveAccount stops any running worker, announces the end of its session
// and deletes the account with everything recorded for it.
func (c *Coordinator) RemoveAccount(ctx context.Context, accountID uuid.UUID) error {
	unlock := c.locks.Lock(accountID)
	defer unlock()

	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return repository.ErrNotFound
	}

	active, err := c.store.ActiveSession(ctx, account.ID)
	if err != nil {
		return err
	}
	if active != nil {
		stopCtx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
		err := c.workers.StopAndWait(stopCtx, active.ID)
		cancel()
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", active.ID.String()).Msg("worker did not stop before account removal")
		}
		c.publishEnded(ctx, account, active)
	}

	if err := c.store.DeleteAccount(ctx, account.ID); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("account", account.Handle).Msg("account removed")
	return nil
}

// EvaluateAll evaluates every tracked account, at most Concurrency at a time.
func (c *Coordinator) EvaluateAll(ctx context.Context) error {
	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		return err
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		sem  = make(chan struct{}, c.cfg.Concurrency)
	)
	for _, account := range accounts {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return errors.Join(append(errs, ctx.Err())...)
		}

		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.Evaluate(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(account.ID)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*refMutex)}
}

func (k *keyedMutex) Lock(key uuid.UUID) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
