package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/middleware/auth"
	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

// PaymentMethodRegistrar stores a card authorized at the gateway.
type PaymentMethodRegistrar interface {
	Register(ctx context.Context, userID uuid.UUID, authKey, customerKey string) (*model.PaymentMethod, error)
}

type PaymentHandler struct {
	registrar PaymentMethodRegistrar
	logger    *zap.Logger
}

func NewPaymentHandler(registrar PaymentMethodRegistrar, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		registrar: registrar,
		logger:    logger,
	}
}

type registerPaymentMethodRequest struct {
	AuthKey     string `json:"auth_key" validate:"required"`
	CustomerKey string `json:"customer_key" validate:"required"`
}

type paymentMethodResponse struct {
	ID           int64     `json:"id"`
	Provider     string    `json:"provider"`
	CardLastFour string    `json:"card_last_four"`
	CardCompany  string    `json:"card_company"`
	CardType     string    `json:"card_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegisterPaymentMethod handles POST /api/v1/billing/payment-methods
func (h *PaymentHandler) RegisterPaymentMethod(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err // RequireAuth already returns the JSON error response
	}

	var req registerPaymentMethodRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "auth_key and customer_key are required"})
	}

	pm, err := h.registrar.Register(c.Request().Context(), user.UserID, req.AuthKey, req.CustomerKey)
	if err != nil {
		apperrors.LogError(h.logger, err, "failed to register payment method",
			zap.String("user_id", user.UserID.String()))
		httpErr := apperrors.ToHTTPError(err)
		return c.JSON(httpErr.Code, echo.Map{
			"error": httpErr.Message,
			"code":  apperrors.CodeOf(err),
		})
	}

	return c.JSON(http.StatusCreated, paymentMethodResponse{
		ID:           pm.ID,
		Provider:     pm.Provider,
		CardLastFour: pm.CardLastFour,
		CardCompany:  pm.CardCompany,
		CardType:     pm.CardType,
		CreatedAt:    pm.CreatedAt,
	})
}
