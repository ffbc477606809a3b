package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Plan is a monthly price tier. A nil DailyLimit means unlimited usage.
type Plan struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"size:100;not null;uniqueIndex" json:"name" yaml:"name"`
	DisplayName  string    `gorm:"size:200;not null" json:"display_name" yaml:"display_name"`
	MonthlyPrice int64     `gorm:"not null" json:"monthly_price" yaml:"monthly_price"`
	DailyLimit   *int64    `json:"daily_limit,omitempty" yaml:"daily_limit"`
	Features     Features  `gorm:"type:jsonb;default:'{}'" json:"features" yaml:"features"`
	SortOrder    int       `gorm:"default:0" json:"sort_order" yaml:"sort_order"`
	IsActive     bool      `gorm:"default:true" json:"is_active" yaml:"is_active"`
	CreatedAt    time.Time `gorm:"default:now()" json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `gorm:"default:now()" json:"updated_at" yaml:"-"`
}

// IsUnlimited reports whether the plan has no daily usage cap.
func (p *Plan) IsUnlimited() bool {
	return p.DailyLimit == nil
}

// TableName specifies the table name for GORM
func (Plan) TableName() string {
	return "plans"
}

// Features represents plan features as JSONB
type Features map[string]interface{}

// Value implements driver.Valuer interface
func (f Features) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner interface
func (f *Features) Scan(src interface{}) error {
	if src == nil {
		*f = make(Features)
		return nil
	}

	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		*f = make(Features)
		return nil
	}
}
