package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

// CycleRunner runs one billing cycle.
type CycleRunner interface {
	Run(ctx context.Context, trigger string) (*usecase.RunResult, error)
}

type BillingHandler struct {
	runner     CycleRunner
	runTimeout time.Duration
	logger     *zap.Logger
}

func NewBillingHandler(runner CycleRunner, runTimeout time.Duration, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{
		runner:     runner,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

type runResponse struct {
	Result *usecase.RunResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
	Code   string             `json:"code,omitempty"`
}

// TriggerRun handles POST /api/v1/internal/billing/runs. The run keeps going
// when the caller disconnects.
func (h *BillingHandler) TriggerRun(c echo.Context) error {
	ctx := context.WithoutCancel(c.Request().Context())
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	h.logger.Info("manual billing run requested", zap.String("remote_ip", c.RealIP()))

	result, err := h.runner.Run(ctx, usecase.TriggerManual)
	switch {
	case errors.Is(err, domainErrors.ErrRunInProgress):
		return c.JSON(http.StatusConflict, runResponse{
			Error: "billing run already in progress",
			Code:  apperrors.ErrConflict,
		})
	case err != nil:
		h.logger.Error("manual billing run failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, runResponse{
			Result: result,
			Error:  err.Error(),
			Code:   apperrors.CodeOf(err),
		})
	}

	return c.JSON(http.StatusOK, runResponse{Result: result})
}
