package entities

import (
	"github.com/google/uuid"
	"live-monitor/constant"
	"time"
)

type ModerationAlert struct {
	ID              uuid.UUID            `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	AnalysisId      uuid.UUID            `json:"analysis_id" gorm:"type:uuid;not null;uniqueIndex:idx_moderation_alerts_analysis_admin"`
	LiveSessionId   uuid.UUID            `json:"live_session_id" gorm:"type:uuid;not null;index"`
	NotifiedAdminId uuid.UUID            `json:"notified_admin_id" gorm:"type:uuid;not null;uniqueIndex:idx_moderation_alerts_analysis_admin;index:idx_moderation_alerts_admin_status"`
	Status          constant.AlertStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index:idx_moderation_alerts_admin_status"`
	ResolvedById    *uuid.UUID           `json:"resolved_by_id" gorm:"type:uuid"`
	ResolvedAt      *time.Time           `json:"resolved_at" gorm:"type:timestamptz"`
	Notes           string               `json:"notes" gorm:"type:text"`
	CreatedAt       time.Time            `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`

	Analysis *RiskAnalysis `json:"analysis,omitempty" gorm:"foreignKey:AnalysisId;constraint:OnDelete:CASCADE"`
}

func (ModerationAlert) TableName() string {
	return "moderation_alerts"
}
