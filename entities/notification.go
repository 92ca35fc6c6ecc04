package entities

import (
	"github.com/google/uuid"
	"time"
)

type Notification struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserId        uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index:idx_notifications_user_read"`
	LiveSessionId uuid.UUID `json:"live_session_id" gorm:"type:uuid;not null"`
	Message       string    `json:"message" gorm:"type:varchar(255);not null"`
	IsRead        bool      `json:"is_read" gorm:"not null;default:false;index:idx_notifications_user_read"`
	CreatedAt     time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`

	LiveSession *LiveSession `json:"-" gorm:"foreignKey:LiveSessionId;constraint:OnDelete:CASCADE"`
}

func (Notification) TableName() string {
	return "notifications"
}

// All lists every entity for AutoMigrate in dependency order.
func All() []any {
	return []any{
		&User{},
		&TrackedAccount{},
		&LiveSession{},
		&TranscriptSegment{},
		&RiskAnalysis{},
		&ModerationAlert{},
		&Notification{},
	}
}
