package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod stores an encrypted gateway billing key. Rows are never
// deleted; a superseded method is deactivated to keep payment history intact.
type PaymentMethod struct {
	ID                  int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	CustomerKey         string     `gorm:"column:customer_key;size:300;not null;index" json:"customer_key"`
	Provider            string     `gorm:"column:provider;size:20;not null" json:"provider"`
	EncryptedBillingKey string     `gorm:"column:encrypted_billing_key;type:text;not null" json:"-"`
	EncryptionIV        string     `gorm:"column:encryption_iv;type:text;not null" json:"-"`
	CardLastFour        string     `gorm:"column:card_last_four;size:4" json:"card_last_four,omitempty"`
	CardCompany         string     `gorm:"column:card_company;size:50" json:"card_company,omitempty"`
	CardType            string     `gorm:"column:card_type;size:20" json:"card_type,omitempty"`
	IsActive            bool       `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt           time.Time  `gorm:"default:now()" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"default:now()" json:"updated_at"`
	DeactivatedAt       *time.Time `gorm:"column:deactivated_at" json:"deactivated_at,omitempty"`
}

func (PaymentMethod) TableName() string {
	return "payment_methods"
}
