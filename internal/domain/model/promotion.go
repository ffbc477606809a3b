package model

import "time"

type PromotionType string

const (
	PromotionTypeFree    PromotionType = "free"
	PromotionTypePercent PromotionType = "percent"
	PromotionTypeAmount  PromotionType = "amount"
)

// Promotion is a reusable discount definition. Value is a percentage for
// percent promotions and a KRW amount for amount promotions.
type Promotion struct {
	ID             int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string        `gorm:"size:50;not null;uniqueIndex" json:"code"`
	Type           PromotionType `gorm:"size:20;not null" json:"type"`
	Value          int64         `gorm:"not null;default:0" json:"value"`
	DurationMonths int           `gorm:"not null;default:1" json:"duration_months"`
	IsActive       bool          `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time     `gorm:"default:now()" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"default:now()" json:"updated_at"`
}

func (Promotion) TableName() string {
	return "promotions"
}
