package entities

import (
	"github.com/google/uuid"
	"time"
)

type TranscriptSegment struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	LiveSessionId uuid.UUID `json:"live_session_id" gorm:"type:uuid;not null;uniqueIndex:idx_transcript_segments_unique"`
	SegmentIndex  int       `json:"segment_index" gorm:"not null;uniqueIndex:idx_transcript_segments_unique"`
	Text          string    `json:"text" gorm:"type:text;not null"`
	CapturedAt    time.Time `json:"captured_at" gorm:"type:timestamptz;not null;uniqueIndex:idx_transcript_segments_unique"`

	LiveSession *LiveSession  `json:"-" gorm:"foreignKey:LiveSessionId;constraint:OnDelete:CASCADE"`
	Analysis    *RiskAnalysis `json:"analysis,omitempty" gorm:"foreignKey:SegmentId;constraint:OnDelete:CASCADE"`
}

func (TranscriptSegment) TableName() string {
	return "transcript_segments"
}
