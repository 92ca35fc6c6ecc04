package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"live-monitor/constant"
	"live-monitor/dto"
	"live-monitor/pkg/classifier"
	"live-monitor/pkg/eventbus"
	"live-monitor/pkg/presence"
	"live-monitor/pkg/stt"
	"live-monitor/repository"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestLiveSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	gate := make(chan struct{})
	env.opener.next = func() *fakeStream {
		s := newFakeStream(segment(0, "hello world"), segment(1, "threat text"))
		s.gate = gate
		return s
	}
	env.clf.verdicts["hello world"] = classifier.Verdict{Category: constant.CategoryNeutral, Virality: constant.ViralityLow, RiskScore: 0.1}
	env.clf.verdicts["threat text"] = classifier.Verdict{Category: constant.CategoryHateful, Virality: constant.ViralityHigh, Hateful: true, RiskScore: 0.9}
	env.live.set("alice", true, "T1")

	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	session := env.activeSession(t, env.account.ID)
	if session == nil {
		t.Fatal("no active session after live probe")
	}
	if session.Title != constant.DefaultSessionTitle || session.ViewerCount != 0 {
		t.Fatalf("session = %+v", session)
	}

	started := env.bus.ofType(dto.EventSessionStarted)
	if len(started) != 2 {
		t.Fatalf("session_started published %d times, want 2", len(started))
	}
	groups := map[string]bool{started[0].group: true, started[1].group: true}
	if !groups[constant.GroupLives] || !groups[eventbus.UserGroup(env.owner.ID)] {
		t.Fatalf("session_started groups = %v", groups)
	}
	if ev := started[0].event.(dto.SessionStarted); ev.SessionID != session.ID || ev.Account != "alice" {
		t.Fatalf("session_started = %+v", ev)
	}

	env.waitStreaming(t, 1)
	if got := env.opener.token(0); got != "T1" {
		t.Fatalf("stream opened with %q, want T1", got)
	}

	gate <- struct{}{}
	eventually(t, "first transcription", func() bool { return len(env.bus.ofType(dto.EventNewTranscription)) == 1 })
	if n := len(env.bus.ofType(dto.EventModerationAlert)); n != 0 {
		t.Fatalf("low risk segment raised %d alerts", n)
	}

	gate <- struct{}{}
	eventually(t, "second transcription", func() bool { return len(env.bus.ofType(dto.EventNewTranscription)) == 2 })

	alerts := env.bus.ofType(dto.EventModerationAlert)
	if len(alerts) != 1 || alerts[0].group != constant.GroupModeration {
		t.Fatalf("moderation events = %+v", alerts)
	}
	for _, admin := range env.admins {
		got, err := env.store.ListAlerts(ctx, admin.ID, constant.AlertStatusPending)
		if err != nil || len(got) != 1 {
			t.Fatalf("alerts for %s = %v, %v", admin.Username, got, err)
		}
	}

	segments, err := env.store.ListSegments(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 2 || segments[0].Text != "hello world" || segments[1].SegmentIndex != 1 {
		t.Fatalf("segments = %+v", segments)
	}
	if segments[0].Analysis == nil || segments[0].Analysis.RiskScore != 0.1 {
		t.Fatalf("analysis of segment 0 = %+v", segments[0].Analysis)
	}

	env.live.set("alice", false, "")
	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatalf("evaluate offline: %v", err)
	}
	if env.activeSession(t, env.account.ID) != nil {
		t.Fatal("session still active after offline probe")
	}
	ended, _ := env.store.GetSession(ctx, session.ID)
	if ended.Status != constant.SessionStatusEnded || ended.EndedAt == nil {
		t.Fatalf("session = %+v", ended)
	}
	if n := len(env.bus.ofType(dto.EventSessionEnded)); n != 2 {
		t.Fatalf("session_ended published %d times, want 2", n)
	}

	summary := env.waitSummary(t)
	if summary.Segments != 2 || summary.Analyzed != 2 || summary.Alerts != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if env.workers.Running(session.ID) {
		t.Fatal("worker still registered")
	}

	notes, _ := env.store.ListNotifications(ctx, env.owner.ID, false)
	if len(notes) != 2 {
		t.Fatalf("owner notifications = %d, want 2", len(notes))
	}
}

func TestEvaluateIsIdempotentWhileLive(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	env.live.set("alice", true, "T1")

	for i := 0; i < 3; i++ {
		if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
		env.waitStreaming(t, 1)
	}

	sessions, _ := env.store.ListSessions(ctx, env.account.ID)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if n := len(env.bus.ofType(dto.EventSessionStarted)); n != 2 {
		t.Fatalf("session_started published %d times, want 2", n)
	}
	if n := env.opener.openCount(); n != 1 {
		t.Fatalf("stream opened %d times, want 1", n)
	}
}

func TestConcurrentEvaluateCreatesOneSession(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	env.live.set("alice", true, "T1")

	const ticks = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < ticks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
				t.Errorf("evaluate: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	env.waitStreaming(t, 1)

	sessions, _ := env.store.ListSessions(ctx, env.account.ID)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if n := len(env.bus.ofType(dto.EventSessionStarted)); n != 2 {
		t.Fatalf("session_started published %d times, want 2", n)
	}
	time.Sleep(50 * time.Millisecond)
	if n := env.opener.openCount(); n != 1 {
		t.Fatalf("stream opened %d times, want 1", n)
	}
	if env.coord.locks.size() != 0 {
		t.Fatalf("account locks left behind: %d", env.coord.locks.size())
	}
}

func TestOfflineWithoutSessionIsNoop(t *testing.T) {
	env := newTestEnv(t, 0)
	env.live.set("alice", false, "")

	if err := env.coord.Evaluate(context.Background(), env.account.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if n := len(env.bus.ofType(dto.EventSessionStarted)) + len(env.bus.ofType(dto.EventSessionEnded)); n != 0 {
		t.Fatalf("%d lifecycle events for an idle account", n)
	}
}

func TestProbeErrorTreatedAsOffline(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	env.live.fail("alice", presence.ErrProbe)
	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if env.activeSession(t, env.account.ID) != nil {
		t.Fatal("probe error created a session")
	}

	env.live.set("alice", true, "T1")
	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	env.waitStreaming(t, 1)

	env.live.fail("alice", presence.ErrProbe)
	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if env.activeSession(t, env.account.ID) != nil {
		t.Fatal("probe error did not end the session")
	}
	env.waitSummary(t)
}

func TestRestartsWorkerAfterCrash(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	var mu sync.Mutex
	first := true
	env.opener.next = func() *fakeStream {
		mu.Lock()
		defer mu.Unlock()
		s := newFakeStream()
		s.panics = first
		first = false
		return s
	}
	env.live.set("alice", true, "T1")

	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatal(err)
	}
	crashed := env.waitSummary(t)
	if crashed.Err == nil {
		t.Fatal("crashed worker reported no error")
	}
	session := env.activeSession(t, env.account.ID)
	if session == nil || env.workers.Running(session.ID) {
		t.Fatal("crash must leave the session active without a worker")
	}

	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatal(err)
	}
	env.waitStreaming(t, 2)
	if !env.workers.Running(session.ID) {
		t.Fatal("restarted worker not registered")
	}
	if n := len(env.bus.ofType(dto.EventSessionStarted)); n != 2 {
		t.Fatalf("restart re-announced the session: %d session_started", n)
	}
}

func TestStartFailureRetriedNextTick(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	env.live.set("alice", true, "")
	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatal(err)
	}
	session := env.activeSession(t, env.account.ID)
	if session == nil {
		t.Fatal("session must be created even without a token")
	}
	eventually(t, "failed start to release its slot", func() bool {
		return env.live.callCount() >= 2 && !env.workers.Running(session.ID)
	})

	env.live.set("alice", true, "T2")
	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatal(err)
	}
	env.waitStreaming(t, 1)
	if got := env.opener.token(0); got != "T2" {
		t.Fatalf("stream opened with %q, want T2", got)
	}
}

func TestRemoveAccountStopsWorker(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	env.live.set("alice", true, "T1")

	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatal(err)
	}
	session := env.activeSession(t, env.account.ID)
	env.waitStreaming(t, 1)

	if err := env.coord.RemoveAccount(ctx, env.account.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if env.workers.Running(session.ID) {
		t.Fatal("worker survived account removal")
	}
	if exists, _ := env.store.SessionExists(ctx, session.ID); exists {
		t.Fatal("session survived account removal")
	}
	if n := len(env.bus.ofType(dto.EventSessionEnded)); n != 2 {
		t.Fatalf("session_ended published %d times, want 2", n)
	}
	if err := env.coord.RemoveAccount(ctx, env.account.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second remove err = %v, want ErrNotFound", err)
	}
	if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
		t.Fatalf("evaluate after removal: %v", err)
	}
}

// Random presence sequences must keep at most one ACTIVE session per account
// and announce exactly one start per offline to live transition.
func TestRandomPresenceSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 20; run++ {
		env := newTestEnv(t, 0)
		ctx := context.Background()
		wasLive := false
		transitions := 0

		for step := 0; step < 15; step++ {
			live := rng.Intn(2) == 0
			if rng.Intn(6) == 0 {
				env.live.fail("alice", presence.ErrProbe)
				live = false
			} else {
				env.live.set("alice", live, "T")
			}
			if live && !wasLive {
				transitions++
			}
			wasLive = live

			if err := env.coord.Evaluate(ctx, env.account.ID); err != nil {
				t.Fatalf("run %d step %d: %v", run, step, err)
			}

			sessions, _ := env.store.ListSessions(ctx, env.account.ID)
			active := 0
			for _, s := range sessions {
				if s.IsActive() {
					active++
				}
			}
			if active > 1 {
				t.Fatalf("run %d step %d: %d active sessions", run, step, active)
			}
			if live != (active == 1) {
				t.Fatalf("run %d step %d: live=%v but %d active sessions", run, step, live, active)
			}
			if len(sessions) != transitions {
				t.Fatalf("run %d step %d: %d sessions for %d transitions", run, step, len(sessions), transitions)
			}
		}

		if n := len(env.bus.ofType(dto.EventSessionStarted)); n != 2*transitions {
			t.Fatalf("run %d: %d session_started for %d transitions", run, n, transitions)
		}
	}
}

func TestEvaluateAllCoversEveryAccount(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	bob := env.addAccount(t, "bob")
	env.addAccount(t, "carol")
	env.live.set("alice", true, "A")
	env.live.set("bob", true, "B")

	if err := env.coord.EvaluateAll(ctx); err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if env.activeSession(t, env.account.ID) == nil || env.activeSession(t, bob.ID) == nil {
		t.Fatal("live accounts must have an active session")
	}
	if env.live.callCount() < 3 {
		t.Fatalf("probed %d accounts, want 3", env.live.callCount())
	}
	if n := env.coord.locks.size(); n != 0 {
		t.Fatalf("%d account locks left behind", n)
	}
}

func TestProcessRejectsEmptyAccount(t *testing.T) {
	env := newTestEnv(t, 0)
	err := env.coord.Process(context.Background(), dto.EvaluateMessage{})
	if !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("err = %v, want ErrNonRetryable", err)
	}
	if err := env.coord.Process(context.Background(), dto.EvaluateMessage{AccountId: uuid.New()}); err != nil {
		t.Fatalf("unknown account: %v", err)
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	key := uuid.New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("%d holders at once", maxSeen)
	}
	if k.size() != 0 {
		t.Fatal("lock not released")
	}
}

var (
	_ stt.Stream         = (*fakeStream)(nil)
	_ eventbus.Publisher = (*recordingBus)(nil)
	_ SessionWorkers     = (*Workers)(nil)
)
