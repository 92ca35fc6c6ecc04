package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"live-monitor/constant"
	"live-monitor/dto"
	"live-monitor/entities"
	"live-monitor/pkg/classifier"
	"live-monitor/pkg/presence"
	"live-monitor/pkg/stt"
	"live-monitor/repository"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakePresence struct {
	mu     sync.Mutex
	states map[string]presence.Presence
	errs   map[string]error
	calls  int
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		states: make(map[string]presence.Presence),
		errs:   make(map[string]error),
	}
}

func (p *fakePresence) set(handle string, live bool, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.errs, handle)
	p.states[handle] = presence.Presence{Live: live, SessionToken: token}
}

func (p *fakePresence) fail(handle string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[handle] = err
}

func (p *fakePresence) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePresence) Probe(_ context.Context, handle string) (presence.Presence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.errs[handle]; err != nil {
		return presence.Presence{}, err
	}
	return p.states[handle], nil
}

// fakeStream replays outcomes, then blocks until stopped. With a gate, each
// outcome waits for a value on the gate first.
type fakeStream struct {
	mu        sync.Mutex
	outcomes  []stt.Outcome
	gate      chan struct{}
	panics    bool
	finite    bool
	deaf      bool // ignores ctx, only Close unblocks it
	closeOnce sync.Once
	closed    chan struct{}
	nexts     atomic.Int32
}

func newFakeStream(outcomes ...stt.Outcome) *fakeStream {
	return &fakeStream{outcomes: outcomes, closed: make(chan struct{})}
}

func segment(index int, text string) stt.Outcome {
	return stt.Outcome{
		Kind:    stt.OutcomeSegment,
		Segment: stt.Segment{Index: index, Text: text, CapturedAt: time.Now().UTC()},
	}
}

func (s *fakeStream) Next(ctx context.Context) stt.Outcome {
	s.nexts.Add(1)
	if s.panics {
		panic("decoder exploded")
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return stt.Outcome{Kind: stt.OutcomeComplete}
		case <-s.closed:
			return stt.Outcome{Kind: stt.OutcomeComplete}
		}
	}

	s.mu.Lock()
	if len(s.outcomes) > 0 {
		out := s.outcomes[0]
		s.outcomes = s.outcomes[1:]
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	if s.finite {
		return stt.Outcome{Kind: stt.OutcomeComplete}
	}
	if s.deaf {
		<-s.closed
		return stt.Outcome{Kind: stt.OutcomeComplete}
	}
	select {
	case <-ctx.Done():
	case <-s.closed:
	}
	return stt.Outcome{Kind: stt.OutcomeComplete}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// rebase shifts scripted segment indices the way a reopened stream
// continues numbering from Options.FirstIndex.
func (s *fakeStream) rebase(first int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outcomes {
		if s.outcomes[i].Kind == stt.OutcomeSegment {
			s.outcomes[i].Segment.Index += first
		}
	}
}

type fakeOpener struct {
	mu      sync.Mutex
	opens   int
	tokens  []string
	opts    []stt.Options
	err     error
	streams []*fakeStream
	next    func() *fakeStream
}

func (o *fakeOpener) Open(_ context.Context, token string, opts stt.Options) (stt.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	o.tokens = append(o.tokens, token)
	o.opts = append(o.opts, opts)
	if o.err != nil {
		return nil, o.err
	}
	s := newFakeStream()
	if o.next != nil {
		s = o.next()
	}
	s.rebase(opts.FirstIndex)
	o.streams = append(o.streams, s)
	return s, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func (o *fakeOpener) token(i int) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.tokens) {
		return ""
	}
	return o.tokens[i]
}

// streaming counts streams a worker loop has started reading.
func (o *fakeOpener) streaming() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.streams {
		if s.nexts.Load() > 0 {
			n++
		}
	}
	return n
}

type fakeClassifier struct {
	mu       sync.Mutex
	verdicts map[string]classifier.Verdict
	failing  map[string]bool
	block    bool
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		verdicts: make(map[string]classifier.Verdict),
		failing:  make(map[string]bool),
	}
}

func (c *fakeClassifier) Classify(ctx context.Context, text string) (classifier.Verdict, error) {
	c.mu.Lock()
	block, fail := c.block, c.failing[text]
	v, ok := c.verdicts[text]
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return classifier.Verdict{}, errors.Join(classifier.ErrClassifier, ctx.Err())
	}
	if fail {
		return classifier.Verdict{}, classifier.ErrClassifier
	}
	if !ok {
		v = classifier.Verdict{Category: constant.CategoryNeutral, Virality: constant.ViralityLow, RiskScore: 0.1}
	}
	return v, nil
}

type publishedEvent struct {
	group string
	event dto.Event
}

type recordingBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (b *recordingBus) Publish(_ context.Context, group string, event dto.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{group: group, event: event})
}

func (b *recordingBus) ofType(typ string) []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedEvent
	for _, e := range b.events {
		if e.event.Type() == typ {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	store     *repository.MemoryRepo
	live      *fakePresence
	opener    *fakeOpener
	clf       *fakeClassifier
	bus       *recordingBus
	registry  *Registry
	workers   *Workers
	coord     *Coordinator
	summaries chan Summary
	owner     *entities.User
	admins    []*entities.User
	account   *entities.TrackedAccount
}

func newTestEnv(t *testing.T, admins int) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	env := &testEnv{
		store:     repository.NewMemoryRepo(),
		live:      newFakePresence(),
		opener:    &fakeOpener{},
		clf:       newFakeClassifier(),
		bus:       &recordingBus{},
		registry:  NewRegistry(),
		summaries: make(chan Summary, 16),
	}

	env.owner = &entities.User{Username: "owner", Role: constant.RoleUser}
	env.store.PutUser(env.owner)
	for i := 0; i < admins; i++ {
		admin := &entities.User{Username: "admin" + string(rune('a'+i)), Role: constant.RoleAdmin}
		env.store.PutUser(admin)
		env.admins = append(env.admins, admin)
	}
	env.account = env.addAccount(t, "alice")

	env.workers = NewWorkers(ctx, env.store, env.live, env.opener, env.clf, env.bus, env.registry, WorkerConfig{
		SegmentDuration:   15 * time.Second,
		Language:          "fr",
		Model:             "whisper-large-v3",
		Threshold:         0.7,
		ClassifierTimeout: 50 * time.Millisecond,
		ShutdownTimeout:   200 * time.Millisecond,
	}, WithCompletion(func(s Summary) { env.summaries <- s }))

	env.coord = NewCoordinator(env.store, env.live, env.workers, env.bus, CoordinatorConfig{
		Concurrency:     4,
		ShutdownTimeout: time.Second,
	})

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := env.workers.Shutdown(shutdownCtx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		cancel()
	})
	return env
}

func (e *testEnv) addAccount(t *testing.T, handle string) *entities.TrackedAccount {
	t.Helper()
	account := &entities.TrackedAccount{OwnerId: e.owner.ID, Handle: handle}
	if err := e.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account %s: %v", handle, err)
	}
	return account
}

func (e *testEnv) activeSession(t *testing.T, accountID uuid.UUID) *entities.LiveSession {
	t.Helper()
	s, err := e.store.ActiveSession(context.Background(), accountID)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	return s
}

func (e *testEnv) newSession(t *testing.T) *entities.LiveSession {
	t.Helper()
	session, created, err := e.store.CreateSession(context.Background(), &entities.LiveSession{
		AccountId: e.account.ID,
		Title:     constant.DefaultSessionTitle,
		StartedAt: time.Now(),
	})
	if err != nil || !created {
		t.Fatalf("create session: created=%v err=%v", created, err)
	}
	return session
}

func (e *testEnv) waitSummary(t *testing.T) Summary {
	t.Helper()
	select {
	case s := <-e.summaries:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
		return Summary{}
	}
}

// waitStreaming waits until n worker loops have started reading their stream.
func (e *testEnv) waitStreaming(t *testing.T, n int) {
	t.Helper()
	eventually(t, "worker streaming", func() bool { return e.opener.streaming() >= n })
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
