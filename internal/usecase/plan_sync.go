package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
)

// PlanSyncService keeps the plan catalog in the database in line with the
// catalog file.
type PlanSyncService struct {
	planRepo repository.PlanRepository
	logger   *zap.Logger
}

func NewPlanSyncService(planRepo repository.PlanRepository, logger *zap.Logger) *PlanSyncService {
	return &PlanSyncService{
		planRepo: planRepo,
		logger:   logger,
	}
}

// Sync upserts every plan by name. Invalid entries are logged and skipped;
// the number of stored plans is returned.
func (s *PlanSyncService) Sync(ctx context.Context, plans []*model.Plan) (int, error) {
	synced := 0
	for _, plan := range plans {
		if err := validatePlan(plan); err != nil {
			s.logger.Warn("skipping invalid plan", zap.String("name", plan.Name), zap.Error(err))
			continue
		}
		if plan.Features == nil {
			plan.Features = make(model.Features)
		}
		if err := s.planRepo.UpsertByName(ctx, plan); err != nil {
			s.logger.Error("failed to upsert plan",
				zap.String("name", plan.Name),
				zap.Error(err))
			return synced, fmt.Errorf("failed to sync plan %q: %w", plan.Name, err)
		}
		synced++
	}

	s.logger.Info("plan catalog synced", zap.Int("plans_synced", synced))
	return synced, nil
}

// ActivePlans returns the catalog as billed, cheapest first.
func (s *PlanSyncService) ActivePlans(ctx context.Context) ([]*model.Plan, error) {
	return s.planRepo.ListActive(ctx)
}

func validatePlan(plan *model.Plan) error {
	if plan.Name == "" {
		return fmt.Errorf("name is required")
	}
	if plan.MonthlyPrice < 0 {
		return fmt.Errorf("monthly_price must not be negative")
	}
	if plan.DailyLimit != nil && *plan.DailyLimit < 0 {
		return fmt.Errorf("daily_limit must not be negative")
	}
	return nil
}
