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
	"live-monitor/pkg/classifier"
	"live-monitor/pkg/eventbus"
	"live-monitor/pkg/presence"
	"live-monitor/pkg/stt"
	"live-monitor/repository"
	"time"
)

var (
	ErrNoSessionToken = errors.New("no session token available")
	ErrStreamOpen     = errors.New("failed to open transcription stream")
	ErrSessionGone    = errors.New("session no longer exists")
	ErrShuttingDown   = errors.New("transcription workers are shutting down")
)

type WorkerConfig struct {
	SegmentDuration   time.Duration
	Language          string
	Model             string
	Threshold         float64
	ClassifierTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Summary is handed to the completion callback when a worker ends.
type Summary struct {
	SessionID uuid.UUID
	Segments  int
	Analyzed  int
	Alerts    int
	Duration  time.Duration
	Err       error
}

type WorkerOption func(*Workers)

func WithCompletion(fn func(Summary)) WorkerOption {
	return func(w *Workers) {
		w.onComplete = fn
	}
}

// Workers runs one transcription pipeline per ACTIVE session.
type Workers struct {
	base       context.Context
	store      repository.SessionStore
	prober     presence.Prober
	opener     stt.Opener
	classifier classifier.Classifier
	bus        eventbus.Publisher
	registry   *Registry
	cfg        WorkerConfig
	onComplete func(Summary)
}

// NewWorkers returns a pool whose workers live until Shutdown or until base
// is cancelled. base also carries the logger.
func NewWorkers(
	base context.Context,
	store repository.SessionStore,
	prober presence.Prober,
	opener stt.Opener,
	clf classifier.Classifier,
	bus eventbus.Publisher,
	registry *Registry,
	cfg WorkerConfig,
	opts ...WorkerOption,
) *Workers {
	w := &Workers{
		base:       base,
		store:      store,
		prober:     prober,
		opener:     opener,
		classifier: clf,
		bus:        bus,
		registry:   registry,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start attaches a worker to session. A session that already has a worker
// gets the existing handle back. Setup failures release the slot so a later
// call can retry.
func (w *Workers) Start(ctx context.Context, account *entities.TrackedAccount, session *entities.LiveSession) (*Handle, error) {
	workerCtx, cancel := context.WithCancel(w.base)
	entry := &workerEntry{
		handle: &Handle{SessionID: session.ID, StartedAt: time.Now(), done: make(chan struct{})},
		cancel: cancel,
	}
	current, ok := w.registry.reserve(session.ID, entry)
	if !ok {
		cancel()
		if current == nil {
			return nil, ErrShuttingDown
		}
		return current.handle, nil
	}

	stream, err := w.open(ctx, workerCtx, account, session)
	if err != nil {
		cancel()
		w.registry.release(session.ID, entry)
		return nil, err
	}

	logger := zerolog.Ctx(w.base).With().
		Str("session_id", session.ID.String()).
		Str("account", account.Handle).
		Logger()
	go w.run(logger.WithContext(workerCtx), entry, account, session, stream)

	logger.Info().Msg("transcription started")
	return entry.handle, nil
}

func (w *Workers) open(ctx, workerCtx context.Context, account *entities.TrackedAccount, session *entities.LiveSession) (stt.Stream, error) {
	setupCtx, cancelSetup := context.WithCancel(ctx)
	defer cancelSetup()
	stop := context.AfterFunc(workerCtx, cancelSetup)
	defer stop()

	current, err := w.store.GetSession(setupCtx, session.ID)
	if err != nil {
		return nil, err
	}
	if current == nil || !current.IsActive() {
		return nil, ErrSessionGone
	}

	p, err := w.prober.Probe(setupCtx, account.Handle)
	if err != nil {
		return nil, errors.Join(ErrNoSessionToken, err)
	}
	if !p.Live || p.SessionToken == "" {
		return nil, ErrNoSessionToken
	}

	first, err := w.store.NextSegmentIndex(setupCtx, session.ID)
	if err != nil {
		return nil, err
	}

	stream, err := w.opener.Open(setupCtx, p.SessionToken, stt.Options{
		SegmentDuration: w.cfg.SegmentDuration,
		Language:        w.cfg.Language,
		Model:           w.cfg.Model,
		FirstIndex:      first,
		SessionKey:      session.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamOpen, err)
	}
	if workerCtx.Err() != nil {
		stream.Close()
		return nil, workerCtx.Err()
	}
	return stream, nil
}

// Stop cancels the session's worker without waiting. Unknown sessions are a
// no-op.
func (w *Workers) Stop(sessionID uuid.UUID) {
	if entry, ok := w.registry.lookup(sessionID); ok {
		entry.cancel()
	}
}

// StopAndWait cancels the session's worker and waits until it is gone.
func (w *Workers) StopAndWait(ctx context.Context, sessionID uuid.UUID) error {
	entry, ok := w.registry.lookup(sessionID)
	if !ok {
		return nil
	}
	entry.cancel()
	select {
	case <-entry.handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Workers) Running(sessionID uuid.UUID) bool {
	_, ok := w.registry.lookup(sessionID)
	return ok
}

// Shutdown stops every worker and waits for them to finish.
func (w *Workers) Shutdown(ctx context.Context) error {
	n := w.registry.cancelAll()
	zerolog.Ctx(w.base).Info().Int("workers", n).Msg("stopping transcription workers")
	if !w.registry.Wait(ctx) {
		return ctx.Err()
	}
	return nil
}

func (w *Workers) run(ctx context.Context, entry *workerEntry, account *entities.TrackedAccount, session *entities.LiveSession, stream stt.Stream) {
	logger := zerolog.Ctx(ctx)
	summary := Summary{SessionID: session.ID}
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			summary.Err = fmt.Errorf("worker panic: %v", r)
			logger.Error().Interface("panic", r).Msg("transcription worker crashed")
		}
		if err := stream.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close transcription stream")
		}
		summary.Duration = time.Since(started)
		entry.cancel()
		w.registry.release(session.ID, entry)

		event := logger.Info()
		if summary.Err != nil {
			event = logger.Warn().Err(summary.Err)
		}
		event.Int("segments", summary.Segments).
			Int("analyzed", summary.Analyzed).
			Int("alerts", summary.Alerts).
			Dur("duration", summary.Duration).
			Msg("transcription finished")

		if w.onComplete != nil {
			w.onComplete(summary)
		}
	}()

	loopDone := make(chan struct{})
	defer close(loopDone)
	go w.watch(ctx, loopDone, stream)

	for {
		if ctx.Err() != nil {
			return
		}

		out := stream.Next(ctx)
		switch out.Kind {
		case stt.OutcomeSegment:
			more, err := w.handleSegment(ctx, account, session, out.Segment, &summary)
			if !more {
				summary.Err = err
				return
			}
		case stt.OutcomeError:
			logger.Warn().Err(out.Err).Msg("transcription stream error")
		case stt.OutcomeComplete:
			summary.Err = out.Err
			logger.Debug().
				Int("segments", out.Stats.Segments).
				Int("chunks", out.Stats.Chunks).
				Msg("transcription stream complete")
			return
		}
	}
}

// watch force-closes the stream when a stopped loop does not exit within the
// shutdown timeout.
func (w *Workers) watch(ctx context.Context, loopDone <-chan struct{}, stream stt.Stream) {
	select {
	case <-loopDone:
		return
	case <-ctx.Done():
	}

	timer := time.NewTimer(w.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-loopDone:
	case <-timer.C:
		zerolog.Ctx(ctx).Warn().Dur("timeout", w.cfg.ShutdownTimeout).Msg("worker did not stop in time, closing stream")
		stream.Close()
	}
}

// handleSegment runs one segment through persistence, classification and
// fan-out. more=false ends the worker.
func (w *Workers) handleSegment(ctx context.Context, account *entities.TrackedAccount, session *entities.LiveSession, seg stt.Segment, summary *Summary) (more bool, err error) {
	logger := zerolog.Ctx(ctx).With().Int("segment", seg.Index).Logger()

	segment := &entities.TranscriptSegment{
		LiveSessionId: session.ID,
		SegmentIndex:  seg.Index,
		Text:          seg.Text,
		CapturedAt:    seg.CapturedAt,
	}
	saved, err := w.store.SaveSegment(ctx, segment)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		logger.Error().Err(err).Msg("failed to save segment")
		return false, err
	}
	if !saved {
		logger.Info().Msg("session removed, stopping transcription")
		return false, nil
	}
	summary.Segments++

	clfCtx, cancel := context.WithTimeout(ctx, w.cfg.ClassifierTimeout)
	verdict, err := w.classifier.Classify(clfCtx, seg.Text)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		logger.Warn().Err(err).Msg("failed to classify segment")
		return true, nil
	}

	analysis := &entities.RiskAnalysis{
		SegmentId: segment.ID,
		Category:  verdict.Category,
		Virality:  verdict.Virality,
		Hateful:   verdict.Hateful,
		Target:    verdict.Target,
		Rationale: verdict.Rationale,
		RiskScore: verdict.RiskScore,
	}
	if err := w.store.SaveAnalysis(ctx, analysis); err != nil {
		if errors.Is(err, repository.ErrNotFound) || ctx.Err() != nil {
			logger.Info().Msg("session removed, stopping transcription")
			return false, nil
		}
		logger.Error().Err(err).Msg("failed to save analysis")
		return false, err
	}
	summary.Analyzed++

	if analysis.RiskScore >= w.cfg.Threshold {
		summary.Alerts += w.raiseAlerts(ctx, account, session, analysis)
	}

	w.bus.Publish(ctx, eventbus.LiveGroup(session.ID), dto.NewTranscription{
		SessionID:    session.ID,
		SegmentIndex: seg.Index,
		Text:         seg.Text,
		RiskScore:    analysis.RiskScore,
		Category:     string(analysis.Category),
	})
	return true, nil
}

// raiseAlerts creates one alert per admin and publishes a single event for
// the batch.
func (w *Workers) raiseAlerts(ctx context.Context, account *entities.TrackedAccount, session *entities.LiveSession, analysis *entities.RiskAnalysis) int {
	logger := zerolog.Ctx(ctx)

	admins, err := w.store.ListAdmins(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list admins")
		return 0
	}
	alerts, err := w.store.CreateAlerts(ctx, analysis, session.ID, admins)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create moderation alerts")
		return 0
	}
	if len(alerts) == 0 {
		logger.Warn().Float64("risk_score", analysis.RiskScore).Msg("high risk segment but no admin to alert")
		return 0
	}

	logger.Warn().
		Float64("risk_score", analysis.RiskScore).
		Str("tier", string(analysis.Tier())).
		Int("admins", len(alerts)).
		Msg("moderation alert raised")

	w.bus.Publish(ctx, constant.GroupModeration, dto.ModerationAlert{
		AlertID:   alerts[0].ID,
		SessionID: session.ID,
		Account:   account.Handle,
		RiskScore: analysis.RiskScore,
		Category:  string(analysis.Category),
		CreatedAt: alerts[0].CreatedAt,
	})
	return len(alerts)
}
