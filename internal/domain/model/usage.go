package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageDailyStat counts billable events of a user on one calendar day (UTC).
type UsageDailyStat struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_usage_daily_user_date" json:"user_id"`
	Date      time.Time `gorm:"type:date;not null;uniqueIndex:idx_usage_daily_user_date" json:"date"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `gorm:"default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:now()" json:"updated_at"`
}

func (UsageDailyStat) TableName() string {
	return "usage_daily_stats"
}

// UsagePeriodStat is the usage total of one billing period, keyed by
// (subscription_id, period_start) and overwritten on re-aggregation.
type UsagePeriodStat struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_usage_period_sub_start" json:"subscription_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	PeriodStart    time.Time `gorm:"not null;uniqueIndex:idx_usage_period_sub_start" json:"period_start"`
	PeriodEnd      time.Time `gorm:"not null" json:"period_end"`
	TotalCount     int64     `gorm:"not null;default:0" json:"total_count"`
	CreatedAt      time.Time `gorm:"default:now()" json:"created_at"`
	UpdatedAt      time.Time `gorm:"default:now()" json:"updated_at"`
}

func (UsagePeriodStat) TableName() string {
	return "usage_period_stats"
}
