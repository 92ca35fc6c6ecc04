package repository

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm/logger"
	"live-monitor/config"
	"live-monitor/constant"
	"live-monitor/entities"
	"os"
	"sync"
	"testing"
	"time"
)

// newPostgresRepo connects to LIVE_MONITOR_TEST_DSN and migrates it. Tests
// using it are skipped when the variable is unset.
func newPostgresRepo(t *testing.T) *PostgresRepo {
	t.Helper()
	dsn := os.Getenv("LIVE_MONITOR_TEST_DSN")
	if dsn == "" {
		t.Skip("LIVE_MONITOR_TEST_DSN not set")
	}
	db, err := config.NewDB(config.Database{DSN: dsn})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepo(db, logger.Silent)
	if err != nil {
		t.Fatalf("NewRepo: %v", err)
	}
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return repo
}

func seedPostgresAccount(t *testing.T, r *PostgresRepo) *entities.TrackedAccount {
	t.Helper()
	account := &entities.TrackedAccount{OwnerId: uuid.New(), Handle: "acct_" + uuid.NewString()[:8]}
	if err := r.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	t.Cleanup(func() { r.DeleteAccount(context.Background(), account.ID) })
	return account
}

func TestPqCode(t *testing.T) {
	if got := pqCode(&pq.Error{Code: pqUniqueViolation}); got != pqUniqueViolation {
		t.Fatalf("pqCode = %q", got)
	}
	if got := pqCode(errors.Join(errors.New("tx"), &pq.Error{Code: pqForeignKeyViolation})); got != pqForeignKeyViolation {
		t.Fatalf("wrapped pqCode = %q", got)
	}
	if got := pqCode(errors.New("plain")); got != "" {
		t.Fatalf("plain error code = %q", got)
	}
}

func TestPostgresDuplicateAccount(t *testing.T) {
	r := newPostgresRepo(t)
	account := seedPostgresAccount(t, r)

	err := r.CreateAccount(context.Background(), &entities.TrackedAccount{OwnerId: account.OwnerId, Handle: account.Handle})
	if !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("err = %v, want ErrDuplicateAccount", err)
	}
}

func TestPostgresCreateSessionKeepsSingleActive(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()
	account := seedPostgresAccount(t, r)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = make(map[uuid.UUID]bool)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			active, ok, err := r.CreateSession(ctx, &entities.LiveSession{AccountId: account.ID, Title: constant.DefaultSessionTitle, StartedAt: time.Now()})
			if err != nil {
				t.Errorf("CreateSession: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[active.ID] = true
		}()
	}
	wg.Wait()

	if created != 1 || len(ids) != 1 {
		t.Fatalf("created=%d distinct sessions=%d, want 1 and 1", created, len(ids))
	}

	// the partial unique index is what settles races with other instances
	err := r.GetDB().Create(&entities.LiveSession{ID: uuid.New(), AccountId: account.ID, Title: "dup", Status: constant.SessionStatusActive, StartedAt: time.Now()}).Error
	if pqCode(err) != pqUniqueViolation {
		t.Fatalf("second ACTIVE insert err = %v, want unique violation", err)
	}

	if _, _, err := r.CreateSession(ctx, &entities.LiveSession{AccountId: uuid.New(), Title: "x", StartedAt: time.Now()}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing account err = %v, want ErrNotFound", err)
	}
}

func TestPostgresSegmentsAndCascade(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()
	account := seedPostgresAccount(t, r)

	session, _, err := r.CreateSession(ctx, &entities.LiveSession{AccountId: account.ID, Title: "t", StartedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if next, err := r.NextSegmentIndex(ctx, session.ID); err != nil || next != 0 {
		t.Fatalf("NextSegmentIndex on empty session = %d, %v", next, err)
	}

	seg := &entities.TranscriptSegment{LiveSessionId: session.ID, SegmentIndex: 0, Text: "bonjour", CapturedAt: time.Now()}
	if saved, err := r.SaveSegment(ctx, seg); err != nil || !saved {
		t.Fatalf("SaveSegment = %v, %v", saved, err)
	}
	if next, err := r.NextSegmentIndex(ctx, session.ID); err != nil || next != 1 {
		t.Fatalf("NextSegmentIndex = %d, %v", next, err)
	}
	analysis := &entities.RiskAnalysis{SegmentId: seg.ID, Category: constant.CategoryNeutral, Virality: constant.ViralityLow, RiskScore: 0.1}
	if err := r.SaveAnalysis(ctx, analysis); err != nil {
		t.Fatal(err)
	}
	if status, err := r.AccountStatus(ctx, account.ID); err != nil || status != constant.AccountStatusLive {
		t.Fatalf("AccountStatus = %q, %v", status, err)
	}

	if err := r.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatal(err)
	}
	if got, err := r.GetSession(ctx, session.ID); err != nil || got != nil {
		t.Fatalf("session after cascade = %+v, %v", got, err)
	}
	saved, err := r.SaveSegment(ctx, &entities.TranscriptSegment{LiveSessionId: session.ID, SegmentIndex: 1, Text: "late", CapturedAt: time.Now()})
	if err != nil || saved {
		t.Fatalf("SaveSegment after delete = %v, %v", saved, err)
	}
	if err := r.SaveAnalysis(ctx, &entities.RiskAnalysis{SegmentId: uuid.New(), Category: constant.CategoryNeutral, Virality: constant.ViralityLow}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orphan analysis err = %v, want ErrNotFound", err)
	}
}

func TestPostgresResolveAlert(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()
	account := seedPostgresAccount(t, r)

	admin := &entities.User{ID: uuid.New(), Username: "admin_" + uuid.NewString()[:8], Role: constant.RoleAdmin}
	if err := r.GetDB().Create(admin).Error; err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.GetDB().Delete(admin) })

	session, _, err := r.CreateSession(ctx, &entities.LiveSession{AccountId: account.ID, Title: "t", StartedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	seg := &entities.TranscriptSegment{LiveSessionId: session.ID, Text: "menace", CapturedAt: time.Now()}
	if _, err := r.SaveSegment(ctx, seg); err != nil {
		t.Fatal(err)
	}
	analysis := &entities.RiskAnalysis{SegmentId: seg.ID, Category: constant.CategoryHateful, Virality: constant.ViralityHigh, RiskScore: 0.9}
	if err := r.SaveAnalysis(ctx, analysis); err != nil {
		t.Fatal(err)
	}
	alerts, err := r.CreateAlerts(ctx, analysis, session.ID, []*entities.User{admin})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("CreateAlerts = %d, %v", len(alerts), err)
	}

	if _, err := r.ResolveAlert(ctx, alerts[0].ID, admin.ID, constant.AlertStatusPending, ""); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("resolve to pending err = %v", err)
	}
	resolved, err := r.ResolveAlert(ctx, alerts[0].ID, admin.ID, constant.AlertStatusReviewed, "vu")
	if err != nil || resolved.Status != constant.AlertStatusReviewed {
		t.Fatalf("ResolveAlert = %+v, %v", resolved, err)
	}
	if _, err := r.ResolveAlert(ctx, alerts[0].ID, admin.ID, constant.AlertStatusDismissed, ""); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v", err)
	}
	if _, err := r.ResolveAlert(ctx, uuid.New(), admin.ID, constant.AlertStatusDismissed, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown alert err = %v", err)
	}
}
