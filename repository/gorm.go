package repository

import (
	"context"
	"database/sql"
	"errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"live-monitor/constant"
	"live-monitor/entities"
	"time"
)

const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
)

// PostgresRepo is the gorm-backed SessionStore.
type PostgresRepo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB, logLevel logger.LogLevel) (*PostgresRepo, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logLevel),
		},
	)
	if err != nil {
		return nil, err
	}
	return &PostgresRepo{
		db: gormDB,
	}, nil
}

func (r *PostgresRepo) GetDB() *gorm.DB {
	return r.db
}

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(entities.All()...)
}

func (r *PostgresRepo) GetUser(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	user := &entities.User{}
	return first(r.db.WithContext(ctx).Where("id = ?", id), user)
}

func (r *PostgresRepo) ListAdmins(ctx context.Context) ([]*entities.User, error) {
	var admins []*entities.User
	err := r.db.WithContext(ctx).Where("role = ?", constant.RoleAdmin).Order("created_at ASC").Find(&admins).Error
	if err != nil {
		return nil, err
	}
	return admins, nil
}

func (r *PostgresRepo) CreateAccount(ctx context.Context, account *entities.TrackedAccount) error {
	ensureID(&account.ID)
	err := r.db.WithContext(ctx).Create(account).Error
	if pqCode(err) == pqUniqueViolation {
		return ErrDuplicateAccount
	}
	return err
}

func (r *PostgresRepo) GetAccount(ctx context.Context, id uuid.UUID) (*entities.TrackedAccount, error) {
	account := &entities.TrackedAccount{}
	return first(r.db.WithContext(ctx).Where("id = ?", id), account)
}

func (r *PostgresRepo) ListAccounts(ctx context.Context) ([]*entities.TrackedAccount, error) {
	var accounts []*entities.TrackedAccount
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *PostgresRepo) ListAccountsByOwner(ctx context.Context, ownerId uuid.UUID) ([]*entities.TrackedAccount, error) {
	var accounts []*entities.TrackedAccount
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerId).Order("handle ASC").Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *PostgresRepo) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&entities.TrackedAccount{}, "id = ?", id).Error
}

func (r *PostgresRepo) ActiveSession(ctx context.Context, accountId uuid.UUID) (*entities.LiveSession, error) {
	session := &entities.LiveSession{}
	return first(r.db.WithContext(ctx).Where("account_id = ? AND status = ?", accountId, constant.SessionStatusActive), session)
}

func (r *PostgresRepo) CreateSession(ctx context.Context, session *entities.LiveSession) (active *entities.LiveSession, created bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account := &entities.TrackedAccount{}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(account, "id = ?", session.AccountId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		existing := &entities.LiveSession{}
		err = tx.Where("account_id = ? AND status = ?", session.AccountId, constant.SessionStatusActive).First(existing).Error
		if err == nil {
			active = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		ensureID(&session.ID)
		session.Status = constant.SessionStatusActive
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		active, created = session, true
		return nil
	})
	if pqCode(err) == pqUniqueViolation {
		// lost the race against another instance; the partial unique index
		// guarantees the winner is the single ACTIVE session
		existing, lookupErr := r.ActiveSession(ctx, session.AccountId)
		if lookupErr != nil || existing == nil {
			return nil, false, errors.Join(err, lookupErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return active, created, nil
}

func (r *PostgresRepo) GetSession(ctx context.Context, id uuid.UUID) (*entities.LiveSession, error) {
	session := &entities.LiveSession{}
	return first(r.db.WithContext(ctx).Where("id = ?", id), session)
}

func (r *PostgresRepo) SessionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.LiveSession{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PostgresRepo) ListSessions(ctx context.Context, accountId uuid.UUID) ([]*entities.LiveSession, error) {
	var sessions []*entities.LiveSession
	err := r.db.WithContext(ctx).Where("account_id = ?", accountId).Order("started_at DESC").Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *PostgresRepo) EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	updates := map[string]interface{}{
		"status":     constant.SessionStatusEnded,
		"ended_at":   endedAt,
		"updated_at": time.Now(),
	}
	return r.db.WithContext(ctx).Model(&entities.LiveSession{}).
		Where("id = ? AND status = ?", id, constant.SessionStatusActive).
		Updates(updates).Error
}

func (r *PostgresRepo) SaveSegment(ctx context.Context, segment *entities.TranscriptSegment) (bool, error) {
	exists, err := r.SessionExists(ctx, segment.LiveSessionId)
	if err != nil || !exists {
		return false, err
	}

	ensureID(&segment.ID)
	err = r.db.WithContext(ctx).Omit(clause.Associations).Create(segment).Error
	if pqCode(err) == pqForeignKeyViolation {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PostgresRepo) SaveAnalysis(ctx context.Context, analysis *entities.RiskAnalysis) error {
	ensureID(&analysis.ID)
	err := r.db.WithContext(ctx).Create(analysis).Error
	if pqCode(err) == pqForeignKeyViolation {
		return ErrNotFound
	}
	return err
}

func (r *PostgresRepo) NextSegmentIndex(ctx context.Context, sessionId uuid.UUID) (int, error) {
	var next int
	err := r.db.WithContext(ctx).Model(&entities.TranscriptSegment{}).
		Select("COALESCE(MAX(segment_index) + 1, 0)").
		Where("live_session_id = ?", sessionId).
		Scan(&next).Error
	return next, err
}

func (r *PostgresRepo) ListSegments(ctx context.Context, sessionId uuid.UUID) ([]*entities.TranscriptSegment, error) {
	var segments []*entities.TranscriptSegment
	err := r.db.WithContext(ctx).Preload("Analysis").
		Where("live_session_id = ?", sessionId).
		Order("segment_index ASC").Find(&segments).Error
	if err != nil {
		return nil, err
	}
	return segments, nil
}

func (r *PostgresRepo) CreateAlerts(ctx context.Context, analysis *entities.RiskAnalysis, sessionId uuid.UUID, admins []*entities.User) ([]*entities.ModerationAlert, error) {
	if len(admins) == 0 {
		return nil, nil
	}
	alerts := make([]*entities.ModerationAlert, 0, len(admins))
	now := time.Now()
	for _, admin := range admins {
		alerts = append(alerts, &entities.ModerationAlert{
			ID:              uuid.New(),
			AnalysisId:      analysis.ID,
			LiveSessionId:   sessionId,
			NotifiedAdminId: admin.ID,
			Status:          constant.AlertStatusPending,
			CreatedAt:       now,
		})
	}
	if err := r.db.WithContext(ctx).Create(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *PostgresRepo) ListAlerts(ctx context.Context, adminId uuid.UUID, status constant.AlertStatus) ([]*entities.ModerationAlert, error) {
	var alerts []*entities.ModerationAlert
	query := r.db.WithContext(ctx).Preload("Analysis").Where("notified_admin_id = ?", adminId)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Order("created_at DESC").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *PostgresRepo) ResolveAlert(ctx context.Context, alertId, adminId uuid.UUID, status constant.AlertStatus, notes string) (*entities.ModerationAlert, error) {
	if !validResolution(status) {
		return nil, ErrInvalidStatus
	}

	alert := &entities.ModerationAlert{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(alert, "id = ?", alertId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if alert.Status != constant.AlertStatusPending {
			return ErrAlreadyResolved
		}

		now := time.Now()
		alert.Status = status
		alert.ResolvedById = &adminId
		alert.ResolvedAt = &now
		alert.Notes = notes
		return tx.Save(alert).Error
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

func (r *PostgresRepo) CreateNotification(ctx context.Context, notification *entities.Notification) error {
	ensureID(&notification.ID)
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *PostgresRepo) ListNotifications(ctx context.Context, userId uuid.UUID, unreadOnly bool) ([]*entities.Notification, error) {
	var notifications []*entities.Notification
	query := r.db.WithContext(ctx).Where("user_id = ?", userId)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if err := query.Order("created_at DESC").Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *PostgresRepo) MarkNotificationsRead(ctx context.Context, userId uuid.UUID, sessionId *uuid.UUID) (int64, error) {
	query := r.db.WithContext(ctx).Model(&entities.Notification{}).Where("user_id = ? AND is_read = ?", userId, false)
	if sessionId != nil {
		query = query.Where("live_session_id = ?", *sessionId)
	}
	result := query.Update("is_read", true)
	return result.RowsAffected, result.Error
}

func (r *PostgresRepo) AccountStatus(ctx context.Context, accountId uuid.UUID) (constant.AccountStatus, error) {
	var active, total int64
	db := r.db.WithContext(ctx).Model(&entities.LiveSession{})
	if err := db.Where("account_id = ?", accountId).Count(&total).Error; err != nil {
		return "", err
	}
	if err := r.db.WithContext(ctx).Model(&entities.LiveSession{}).
		Where("account_id = ? AND status = ?", accountId, constant.SessionStatusActive).
		Count(&active).Error; err != nil {
		return "", err
	}
	return accountStatus(active > 0, total > 0), nil
}

func accountStatus(live, seen bool) constant.AccountStatus {
	switch {
	case live:
		return constant.AccountStatusLive
	case seen:
		return constant.AccountStatusActive
	default:
		return constant.AccountStatusOffline
	}
}

func first[T any](query *gorm.DB, dest *T) (*T, error) {
	err := query.First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
