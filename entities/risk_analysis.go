package entities

import (
	"github.com/google/uuid"
	"live-monitor/constant"
	"time"
)

type RiskAnalysis struct {
	ID        uuid.UUID         `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	SegmentId uuid.UUID         `json:"segment_id" gorm:"type:uuid;not null;uniqueIndex"`
	Category  constant.Category `json:"category" gorm:"type:varchar(20);not null;check:category IN ('neutral', 'controversial', 'viral', 'hateful')"`
	Virality  constant.Virality `json:"virality" gorm:"type:varchar(10);not null"`
	Hateful   bool              `json:"hateful" gorm:"not null;default:false"`
	Target    string            `json:"target" gorm:"type:varchar(255)"`
	Rationale string            `json:"rationale" gorm:"type:text"`
	RiskScore float64           `json:"risk_score" gorm:"not null;check:risk_score >= 0 AND risk_score <= 1"`
	CreatedAt time.Time         `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (RiskAnalysis) TableName() string {
	return "risk_analyses"
}

// Tier buckets a risk score with inclusive lower bounds: 0.7 and up is high,
// 0.4 and up is medium.
func Tier(score float64) constant.RiskTier {
	switch {
	case score >= 0.7:
		return constant.RiskTierHigh
	case score >= 0.4:
		return constant.RiskTierMedium
	default:
		return constant.RiskTierLow
	}
}

func (a *RiskAnalysis) Tier() constant.RiskTier {
	return Tier(a.RiskScore)
}
