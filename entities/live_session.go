package entities

import (
	"github.com/google/uuid"
	"live-monitor/constant"
	"time"
)

type LiveSession struct {
	ID          uuid.UUID              `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	AccountId   uuid.UUID              `json:"account_id" gorm:"type:uuid;not null;index:idx_live_sessions_account_id;uniqueIndex:idx_live_sessions_one_active,where:status = 'ACTIVE'"`
	Title       string                 `json:"title" gorm:"type:varchar(255);not null"`
	Status      constant.SessionStatus `json:"status" gorm:"type:varchar(20);not null;default:'ACTIVE';index:idx_live_sessions_status"`
	ViewerCount int                    `json:"viewer_count" gorm:"type:integer;not null;default:0"`
	StartedAt   time.Time              `json:"started_at" gorm:"type:timestamptz;not null"`
	EndedAt     *time.Time             `json:"ended_at" gorm:"type:timestamptz"`
	CreatedAt   time.Time              `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time              `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`

	Account *TrackedAccount `json:"-" gorm:"foreignKey:AccountId;constraint:OnDelete:CASCADE"`
}

func (LiveSession) TableName() string {
	return "live_sessions"
}

func (s *LiveSession) IsActive() bool {
	return s.Status == constant.SessionStatusActive
}
