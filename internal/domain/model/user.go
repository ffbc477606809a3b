package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User mirrors the account table owned by the auth service. Billing only
// reads it to skip subscriptions of deleted users.
type User struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string         `gorm:"size:255" json:"email"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string {
	return "users"
}
