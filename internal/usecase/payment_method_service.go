package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/provider"
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/crypto"
	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

// PaymentMethodService registers billing keys issued by the gateway.
type PaymentMethodService struct {
	paymentMethodRepo repository.PaymentMethodRepository
	provider          provider.BillingProvider
	encryptor         crypto.EncryptionService
	logger            *zap.Logger
}

func NewPaymentMethodService(
	paymentMethodRepo repository.PaymentMethodRepository,
	billingProvider provider.BillingProvider,
	encryptor crypto.EncryptionService,
	logger *zap.Logger,
) *PaymentMethodService {
	return &PaymentMethodService{
		paymentMethodRepo: paymentMethodRepo,
		provider:          billingProvider,
		encryptor:         encryptor,
		logger:            logger,
	}
}

// Register exchanges authKey for a billing key and stores it encrypted as the
// user's active payment method. Previous methods are deactivated, not deleted.
func (s *PaymentMethodService) Register(ctx context.Context, userID uuid.UUID, authKey, customerKey string) (*model.PaymentMethod, error) {
	if authKey == "" || customerKey == "" {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidArgument, "auth key and customer key are required", nil)
	}

	s.logger.Info("registering payment method",
		zap.String("user_id", userID.String()),
		zap.String("customer_key", customerKey))

	resp, err := s.provider.IssueBillingKey(ctx, &provider.IssueBillingKeyRequest{
		AuthKey:     authKey,
		CustomerKey: customerKey,
	})
	if err != nil {
		s.logger.Error("failed to issue billing key",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if providerErr, ok := err.(*provider.ProviderError); ok && !providerErr.Transient {
			return nil, apperrors.NewAppError(apperrors.ErrGatewayRejected, providerErr.Message, err)
		}
		return nil, apperrors.NewAppError(apperrors.ErrGatewayTransient, "billing key issuance failed", err)
	}

	encrypted, iv, err := s.encryptor.Encrypt(resp.BillingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt billing key: %w", err)
	}

	pm := &model.PaymentMethod{
		UserID:              userID,
		CustomerKey:         customerKey,
		Provider:            s.provider.GetProviderName(),
		EncryptedBillingKey: encrypted,
		EncryptionIV:        iv,
		CardLastFour:        lastFour(resp.CardNumber),
		CardCompany:         resp.CardCompany,
		CardType:            resp.CardType,
		IsActive:            true,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}

	if err := s.paymentMethodRepo.ReplaceActive(ctx, pm); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrDataStore, "failed to store payment method", err)
	}

	s.logger.Info("payment method registered",
		zap.String("user_id", userID.String()),
		zap.Int64("payment_method_id", pm.ID),
		zap.String("card_company", pm.CardCompany))

	return pm, nil
}

func lastFour(cardNumber string) string {
	if len(cardNumber) <= 4 {
		return cardNumber
	}
	return cardNumber[len(cardNumber)-4:]
}
