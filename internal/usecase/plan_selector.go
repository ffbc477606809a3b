package usecase

import (
	"sort"

	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
)

// UsageDaysPerMonth turns a plan's daily limit into a period quota.
const UsageDaysPerMonth = 30

// SelectPlan returns the cheapest plan whose quota covers total. A plan
// without a daily limit covers any usage. When nothing covers the usage the
// cheapest plan is returned. Plans of equal price keep catalog order.
func SelectPlan(total int64, plans []*model.Plan) (*model.Plan, error) {
	if len(plans) == 0 {
		return nil, domainErrors.ErrEmptyCatalog
	}

	sorted := make([]*model.Plan, len(plans))
	copy(sorted, plans)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MonthlyPrice < sorted[j].MonthlyPrice
	})

	for _, plan := range sorted {
		if plan.IsUnlimited() || *plan.DailyLimit*UsageDaysPerMonth >= total {
			return plan, nil
		}
	}
	return sorted[0], nil
}
