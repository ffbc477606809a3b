package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wekeepgrowing/semo-billing/internal/adapter/repository"
	domainRepo "github.com/wekeepgrowing/semo-billing/internal/domain/repository"
)

// Repositories holds all repository instances
type Repositories struct {
	Subscription  domainRepo.SubscriptionRepository
	Plan          domainRepo.PlanRepository
	Promotion     domainRepo.PromotionRepository
	PaymentMethod domainRepo.PaymentMethodRepository
	Usage         domainRepo.UsageRepository
	BillingRun    domainRepo.BillingRunRepository
}

// NewRepositories creates new repository instances with database connection
func NewRepositories(db *gorm.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Subscription:  repository.NewSubscriptionRepository(db, logger),
		Plan:          repository.NewPlanRepository(db, logger),
		Promotion:     repository.NewPromotionRepository(db, logger),
		PaymentMethod: repository.NewPaymentMethodRepository(db, logger),
		Usage:         repository.NewUsageRepository(db, logger),
		BillingRun:    repository.NewBillingRunRepository(db, logger),
	}
}
