package model

import (
	"time"

	"github.com/google/uuid"
)

type BillingRunStatus string

const (
	BillingRunStatusRunning   BillingRunStatus = "running"
	BillingRunStatusCompleted BillingRunStatus = "completed"
	BillingRunStatusFailed    BillingRunStatus = "failed"
)

// BillingRun is the audit row of one lifecycle run. Summary holds the
// per-phase counters and item failures.
type BillingRun struct {
	ID         uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Trigger    string           `gorm:"size:20;not null" json:"trigger"`
	Status     BillingRunStatus `gorm:"size:20;not null;index" json:"status"`
	StartedAt  time.Time        `gorm:"not null;index" json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Error      *string          `gorm:"type:text" json:"error,omitempty"`
	Summary    JSONB            `gorm:"type:jsonb;default:'{}'" json:"summary"`
}

func (BillingRun) TableName() string {
	return "billing_runs"
}
