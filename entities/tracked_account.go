package entities

import (
	"github.com/google/uuid"
	"time"
)

type TrackedAccount struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerId       uuid.UUID `json:"owner_id" gorm:"type:uuid;not null;uniqueIndex:idx_tracked_accounts_owner_handle"`
	Handle        string    `json:"handle" gorm:"type:varchar(255);not null;uniqueIndex:idx_tracked_accounts_owner_handle"`
	URL           string    `json:"url" gorm:"type:varchar(500)"`
	FollowerCount int       `json:"follower_count" gorm:"type:integer;not null;default:0"`
	CreatedAt     time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (TrackedAccount) TableName() string {
	return "tracked_accounts"
}
