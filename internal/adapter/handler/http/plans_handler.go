package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
)

// PlanLister returns the active plan catalog.
type PlanLister interface {
	ActivePlans(ctx context.Context) ([]*model.Plan, error)
}

type PlansHandler struct {
	plans  PlanLister
	logger *zap.Logger
}

func NewPlansHandler(plans PlanLister, logger *zap.Logger) *PlansHandler {
	return &PlansHandler{plans: plans, logger: logger}
}

func (h *PlansHandler) GetPlans(c echo.Context) error {
	plans, err := h.plans.ActivePlans(c.Request().Context())
	if err != nil {
		h.logger.Error("Error fetching plans", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to load plans",
		})
	}

	h.logger.Debug("Plans fetched successfully", zap.Int("active_plans", len(plans)))

	if plans == nil {
		plans = []*model.Plan{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"plans": plans,
	})
}
