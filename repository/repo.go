package repository

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"live-monitor/constant"
	"live-monitor/entities"
	"time"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateAccount = errors.New("account already tracked by this owner")
	ErrInvalidStatus    = errors.New("invalid alert status")
	ErrAlreadyResolved  = errors.New("alert already resolved")
)

// SessionStore is the system of record for tracked accounts and everything
// observed about their live sessions.
//
// Lookups return (nil, nil) when the record does not exist.
type SessionStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*entities.User, error)
	ListAdmins(ctx context.Context) ([]*entities.User, error)

	CreateAccount(ctx context.Context, account *entities.TrackedAccount) error
	GetAccount(ctx context.Context, id uuid.UUID) (*entities.TrackedAccount, error)
	ListAccounts(ctx context.Context) ([]*entities.TrackedAccount, error)
	ListAccountsByOwner(ctx context.Context, ownerId uuid.UUID) ([]*entities.TrackedAccount, error)
	// DeleteAccount removes the account and cascades to its sessions.
	DeleteAccount(ctx context.Context, id uuid.UUID) error

	// ActiveSession returns the account's ACTIVE session, if any.
	ActiveSession(ctx context.Context, accountId uuid.UUID) (*entities.LiveSession, error)
	// CreateSession inserts session as ACTIVE unless the account already has an
	// ACTIVE session, in which case that one is returned with created=false.
	CreateSession(ctx context.Context, session *entities.LiveSession) (active *entities.LiveSession, created bool, err error)
	GetSession(ctx context.Context, id uuid.UUID) (*entities.LiveSession, error)
	SessionExists(ctx context.Context, id uuid.UUID) (bool, error)
	ListSessions(ctx context.Context, accountId uuid.UUID) ([]*entities.LiveSession, error)
	// EndSession marks an ACTIVE session ENDED. Ending an already ENDED or
	// missing session is a no-op.
	EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) error

	// SaveSegment persists a segment. It reports saved=false, without error,
	// when the owning session no longer exists.
	SaveSegment(ctx context.Context, segment *entities.TranscriptSegment) (saved bool, err error)
	SaveAnalysis(ctx context.Context, analysis *entities.RiskAnalysis) error
	// NextSegmentIndex is one past the highest index stored for the session,
	// or 0 when it has none.
	NextSegmentIndex(ctx context.Context, sessionId uuid.UUID) (int, error)
	ListSegments(ctx context.Context, sessionId uuid.UUID) ([]*entities.TranscriptSegment, error)

	// CreateAlerts creates one pending alert per admin for the analysis.
	CreateAlerts(ctx context.Context, analysis *entities.RiskAnalysis, sessionId uuid.UUID, admins []*entities.User) ([]*entities.ModerationAlert, error)
	ListAlerts(ctx context.Context, adminId uuid.UUID, status constant.AlertStatus) ([]*entities.ModerationAlert, error)
	ResolveAlert(ctx context.Context, alertId, adminId uuid.UUID, status constant.AlertStatus, notes string) (*entities.ModerationAlert, error)

	CreateNotification(ctx context.Context, notification *entities.Notification) error
	ListNotifications(ctx context.Context, userId uuid.UUID, unreadOnly bool) ([]*entities.Notification, error)
	MarkNotificationsRead(ctx context.Context, userId uuid.UUID, sessionId *uuid.UUID) (int64, error)

	AccountStatus(ctx context.Context, accountId uuid.UUID) (constant.AccountStatus, error)
}

func validResolution(status constant.AlertStatus) bool {
	return status.Valid() && status != constant.AlertStatusPending
}

var (
	_ SessionStore = (*PostgresRepo)(nil)
	_ SessionStore = (*MemoryRepo)(nil)
)
