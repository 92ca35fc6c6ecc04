package entities

import (
	"github.com/google/uuid"
	"live-monitor/constant"
	"time"
)

// User is the subset of the account owner / administrator record this
// service reads. Credentials live with the external auth system.
type User struct {
	ID        uuid.UUID     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Username  string        `json:"username" gorm:"type:varchar(150);not null;uniqueIndex"`
	Role      constant.Role `json:"role" gorm:"type:varchar(20);not null;default:'USER';index:idx_users_role"`
	CreatedAt time.Time     `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == constant.RoleAdmin
}
