package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/config"
	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/provider"
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/lock"
	"github.com/wekeepgrowing/semo-billing/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

const paymentMethodID = int64(42)

func billingCatalog() []*model.Plan {
	return []*model.Plan{
		{ID: 1, Name: "basic", DisplayName: "Basic", MonthlyPrice: 0, DailyLimit: int64Ptr(10), IsActive: true},
		{ID: 2, Name: "standard", DisplayName: "Standard", MonthlyPrice: 9900, DailyLimit: int64Ptr(100), IsActive: true},
		{ID: 3, Name: "unlimited", DisplayName: "Unlimited", MonthlyPrice: 29900, IsActive: true},
	}
}

type orchestratorHarness struct {
	store   *subscriptionStore
	plans   *MockPlanRepository
	promos  *MockPromotionRepository
	usage   *MockUsageRepository
	methods *MockPaymentMethodRepository
	runs    *MockBillingRunRepository
	gateway *MockBillingProvider
	events  *eventRecorder
	locker  *lock.MemoryLocker
	cfg     config.BillingConfig
}

func newHarness(subs ...*model.Subscription) *orchestratorHarness {
	h := &orchestratorHarness{
		store:   newSubscriptionStore(subs...),
		plans:   new(MockPlanRepository),
		promos:  new(MockPromotionRepository),
		usage:   new(MockUsageRepository),
		methods: new(MockPaymentMethodRepository),
		runs:    new(MockBillingRunRepository),
		gateway: new(MockBillingProvider),
		events:  &eventRecorder{},
		locker:  lock.NewMemoryLocker(),
		cfg: config.BillingConfig{
			Workers:         4,
			GracePeriodDays: 7,
			SuspensionDays:  7,
			WriteTimeout:    time.Second,
			LockTTL:         time.Minute,
			TrialAnchor:     config.TrialAnchorNow,
			Currency:        "KRW",
			RunTimeout:      time.Minute,
		},
	}
	h.plans.On("ListActive", mock.Anything).Return(billingCatalog(), nil).Maybe()
	h.runs.On("Create", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.runs.On("Finish", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.methods.On("GetByID", mock.Anything, paymentMethodID).Return(activeMethod(), nil).Maybe()
	return h
}

func (h *orchestratorHarness) orchestrator(now time.Time) *usecase.LifecycleOrchestrator {
	return h.orchestratorWith(h.store, now)
}

func (h *orchestratorHarness) orchestratorWith(subs repository.SubscriptionRepository, now time.Time) *usecase.LifecycleOrchestrator {
	logger := zap.NewNop()
	return usecase.NewLifecycleOrchestrator(usecase.LifecycleDeps{
		Subscriptions:  subs,
		Plans:          h.plans,
		PaymentMethods: h.methods,
		Runs:           h.runs,
		Resolver:       usecase.NewPromotionResolver(h.promos, logger),
		Aggregator:     usecase.NewUsageAggregator(h.usage, logger),
		Executor:       usecase.NewPaymentExecutor(h.gateway, plainEncryptor{}, time.Second, h.cfg.Currency, nil, logger),
		Locker:         h.locker,
		Publisher:      h.events,
		Clock:          usecase.FixedClock(now),
	}, h.cfg, logger)
}

func (h *orchestratorHarness) run(t *testing.T, now time.Time) *usecase.RunResult {
	t.Helper()
	result, err := h.orchestrator(now).Run(context.Background(), usecase.TriggerManual)
	require.NoError(t, err)
	return result
}

func (h *orchestratorHarness) approveCharges(amount int64) {
	h.gateway.On("ChargeBillingKey", mock.Anything, mock.MatchedBy(func(req *provider.ChargeBillingKeyRequest) bool {
		return req.Amount == amount
	})).Return(&provider.ChargeBillingKeyResponse{
		PaymentKey: "pay-ok",
		Status:     provider.PaymentStatusCompleted,
		Amount:     amount,
	}, nil)
}

func (h *orchestratorHarness) rejectCharges() {
	h.gateway.On("ChargeBillingKey", mock.Anything, mock.Anything).
		Return(nil, &provider.ProviderError{Code: "REJECT_CARD_COMPANY", Message: "카드 한도 초과"})
}

func (h *orchestratorHarness) usageTotal(total int64) {
	h.usage.On("SumDaily", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(total, nil)
	h.usage.On("UpsertPeriodStat", mock.Anything, mock.Anything).Return(nil)
}

func paidSubscription(periodStart, periodEnd time.Time) *model.Subscription {
	next := periodEnd.Add(time.Millisecond)
	return &model.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             2,
		BillingPlanID:      int64Ptr(2),
		Status:             model.SubscriptionStatusActive,
		CurrentPeriodStart: timePtr(periodStart),
		CurrentPeriodEnd:   timePtr(periodEnd),
		NextBillingAt:      timePtr(next),
		PaymentMethodID:    int64Ptr(paymentMethodID),
		CustomerKey:        "cust-1",
	}
}

func utc(y int, m time.Month, d, hh, mm, ss, ms int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, ms*int(time.Millisecond), time.UTC)
}

func TestOrchestrator_TrialExitChargesPlanPrice(t *testing.T) {
	now := utc(2024, 3, 10, 0, 5, 0, 0)
	sub := &model.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             2,
		Status:             model.SubscriptionStatusActive,
		NextBillingAt:      timePtr(utc(2024, 3, 9, 0, 0, 0, 0)),
		PromotionID:        int64Ptr(1),
		PromotionAppliedAt: timePtr(utc(2024, 2, 9, 0, 0, 0, 0)),
		PromotionExpiresAt: timePtr(now.AddDate(0, 0, 5)),
		PaymentMethodID:    int64Ptr(paymentMethodID),
		CustomerKey:        "cust-1",
	}

	h := newHarness(sub)
	h.promos.On("GetByID", mock.Anything, int64(1)).
		Return(&model.Promotion{ID: 1, Code: "WELCOME", Type: model.PromotionTypeFree, IsActive: true}, nil)
	h.approveCharges(9900)

	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseTrialExpiration))
	got := h.store.get(sub.ID)
	assert.Equal(t, model.SubscriptionStatusActive, got.Status)
	assert.Equal(t, utc(2024, 3, 10, 0, 0, 0, 0), *got.CurrentPeriodStart)
	assert.Equal(t, utc(2024, 4, 9, 23, 59, 59, 999), *got.CurrentPeriodEnd)
	assert.Equal(t, utc(2024, 4, 10, 0, 0, 0, 0), *got.NextBillingAt)
	assert.Equal(t, int64(2), *got.BillingPlanID)
	assert.Nil(t, got.PromotionID)
	assert.Nil(t, got.PromotionExpiresAt)

	payments := h.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, model.BillingPaymentStatusSuccess, payments[0].Status)
	assert.Equal(t, int64(9900), payments[0].Amount)
	assert.Equal(t, string(usecase.PhaseTrialExpiration), payments[0].Phase)
	assert.Equal(t, result.RunID, payments[0].RunID)

	assert.Contains(t, h.events.types(), usecase.EventSubscriptionActivated)
	assert.Contains(t, h.events.types(), usecase.EventCycleCompleted)
	h.gateway.AssertNumberOfCalls(t, "ChargeBillingKey", 1)
}

func TestOrchestrator_TrialExitAnchoredToSchedule(t *testing.T) {
	now := utc(2024, 1, 31, 6, 0, 0, 0)
	sub := &model.Subscription{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		PlanID:          2,
		Status:          model.SubscriptionStatusActive,
		NextBillingAt:   timePtr(utc(2024, 1, 30, 0, 0, 0, 0)),
		PaymentMethodID: int64Ptr(paymentMethodID),
	}

	h := newHarness(sub)
	h.cfg.TrialAnchor = config.TrialAnchorScheduled
	h.approveCharges(9900)

	h.run(t, now)

	got := h.store.get(sub.ID)
	assert.Equal(t, utc(2024, 1, 30, 0, 0, 0, 0), *got.CurrentPeriodStart)
	assert.Equal(t, utc(2024, 2, 29, 0, 0, 0, 0), *got.NextBillingAt)
}

func TestOrchestrator_RenewalRollsIntoLeapFebruary(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	h.usageTotal(450)
	h.approveCharges(9900)

	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseRecurringCharge))
	got := h.store.get(sub.ID)
	assert.Equal(t, model.SubscriptionStatusActive, got.Status)
	assert.Equal(t, utc(2024, 2, 1, 0, 0, 0, 0), *got.CurrentPeriodStart)
	assert.Equal(t, utc(2024, 2, 29, 23, 59, 59, 999), *got.CurrentPeriodEnd)
	assert.Equal(t, utc(2024, 3, 1, 0, 0, 0, 0), *got.NextBillingAt)
	assert.Equal(t, int64(2), *got.BillingPlanID)
	require.NotNil(t, got.LastBillingRunID)
	assert.Equal(t, result.RunID, *got.LastBillingRunID)

	payments := h.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, utc(2024, 2, 1, 0, 0, 0, 0), *payments[0].PeriodStart)
	assert.Equal(t, "pay-ok", *payments[0].GatewayReference)
	assert.Contains(t, h.events.types(), usecase.EventSubscriptionRenewed)
}

func TestOrchestrator_RenewalPicksPlanByUsage(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	h.usageTotal(5000)
	h.approveCharges(29900)

	h.run(t, now)

	got := h.store.get(sub.ID)
	assert.Equal(t, int64(3), *got.BillingPlanID)
	payments := h.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, int64(29900), payments[0].Amount)
}

func TestOrchestrator_FailedChargeGraceThenRestriction(t *testing.T) {
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))
	h := newHarness(sub)
	h.usageTotal(450)
	h.rejectCharges()

	first := utc(2024, 2, 1, 0, 5, 0, 0)
	result := h.run(t, first)

	assert.Equal(t, usecase.PhaseCounts{Failed: 1}, result.Counts(usecase.PhaseRecurringCharge))
	require.Len(t, result.Failures, 1)
	assert.Equal(t, apperrors.ErrGatewayRejected, result.Failures[0].Code)

	got := h.store.get(sub.ID)
	assert.Equal(t, model.SubscriptionStatusPaymentFailed, got.Status)
	assert.Equal(t, first, *got.FailedAt)
	assert.Equal(t, utc(2024, 2, 8, 23, 59, 59, 999), *got.GraceUntil)
	assert.Equal(t, utc(2024, 1, 31, 23, 59, 59, 999), *got.CurrentPeriodEnd)

	payments := h.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, model.BillingPaymentStatusFailed, payments[0].Status)
	assert.Equal(t, "REJECT_CARD_COMPANY", *payments[0].FailureCode)
	assert.Nil(t, payments[0].PeriodStart)
	assert.Contains(t, h.events.types(), usecase.EventSubscriptionPaymentFailed)

	// still inside the grace window
	h.run(t, utc(2024, 2, 5, 0, 5, 0, 0))
	assert.Equal(t, model.SubscriptionStatusPaymentFailed, h.store.get(sub.ID).Status)

	result = h.run(t, utc(2024, 2, 9, 0, 5, 0, 0))
	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseGraceExpiration))
	got = h.store.get(sub.ID)
	assert.Equal(t, model.SubscriptionStatusRestricted, got.Status)
	assert.NotNil(t, got.GraceUntil)

	h.gateway.AssertNumberOfCalls(t, "ChargeBillingKey", 1)
}

func TestOrchestrator_RestrictedSuspension(t *testing.T) {
	now := utc(2024, 3, 1, 0, 5, 0, 0)
	longAgo := &model.Subscription{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		PlanID:     2,
		Status:     model.SubscriptionStatusRestricted,
		GraceUntil: timePtr(now.AddDate(0, 0, -15)),
	}
	recent := &model.Subscription{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		PlanID:     2,
		Status:     model.SubscriptionStatusRestricted,
		GraceUntil: timePtr(now.AddDate(0, 0, -3)),
	}

	h := newHarness(longAgo, recent)
	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseGraceExpiration))

	got := h.store.get(longAgo.ID)
	assert.Equal(t, model.SubscriptionStatusSuspended, got.Status)
	assert.Nil(t, got.NextBillingAt)
	assert.Nil(t, got.GraceUntil)

	assert.Equal(t, model.SubscriptionStatusRestricted, h.store.get(recent.ID).Status)
	assert.Contains(t, h.events.types(), usecase.EventSubscriptionSuspended)
}

func TestOrchestrator_SuspensionWindow(t *testing.T) {
	now := utc(2024, 3, 1, 0, 5, 0, 0)

	tests := []struct {
		daysPastGrace int
		expected      model.SubscriptionStatus
	}{
		{3, model.SubscriptionStatusRestricted},
		{6, model.SubscriptionStatusRestricted},
		{7, model.SubscriptionStatusRestricted},
		{8, model.SubscriptionStatusSuspended},
		{10, model.SubscriptionStatusSuspended},
		{15, model.SubscriptionStatusSuspended},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d days past grace", tt.daysPastGrace), func(t *testing.T) {
			// grace_until is seven days after the failed charge
			graceUntil := now.AddDate(0, 0, -tt.daysPastGrace)
			sub := &model.Subscription{
				ID:         uuid.New(),
				UserID:     uuid.New(),
				PlanID:     2,
				Status:     model.SubscriptionStatusRestricted,
				FailedAt:   timePtr(graceUntil.AddDate(0, 0, -7)),
				GraceUntil: timePtr(graceUntil),
			}

			h := newHarness(sub)
			h.run(t, now)

			assert.Equal(t, tt.expected, h.store.get(sub.ID).Status)
		})
	}
}

func TestOrchestrator_GraceExpiryMovesOneStepPerRun(t *testing.T) {
	now := utc(2024, 3, 1, 0, 5, 0, 0)
	sub := &model.Subscription{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		PlanID:     2,
		Status:     model.SubscriptionStatusPaymentFailed,
		GraceUntil: timePtr(now.AddDate(0, 0, -30)),
	}

	h := newHarness(sub)
	h.run(t, now)

	assert.Equal(t, model.SubscriptionStatusRestricted, h.store.get(sub.ID).Status)
}

func TestOrchestrator_CancellationAtPeriodEnd(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))
	sub.CancelAtPeriodEnd = true

	h := newHarness(sub)
	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseCancellation))
	assert.Equal(t, usecase.PhaseCounts{}, result.Counts(usecase.PhaseRecurringCharge))

	got := h.store.get(sub.ID)
	assert.Equal(t, model.SubscriptionStatusCancelled, got.Status)
	assert.Nil(t, got.NextBillingAt)
	assert.False(t, got.CancelAtPeriodEnd)
	assert.Equal(t, now, *got.CanceledAt)
	h.gateway.AssertNotCalled(t, "ChargeBillingKey", mock.Anything, mock.Anything)
}

func TestOrchestrator_ZeroAmountRenewal(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))
	sub.PaymentMethodID = nil
	sub.PromotionID = int64Ptr(5)
	sub.PromotionExpiresAt = timePtr(utc(2024, 6, 1, 0, 0, 0, 0))

	h := newHarness(sub)
	h.usageTotal(450)
	h.promos.On("GetByID", mock.Anything, int64(5)).
		Return(&model.Promotion{ID: 5, Code: "FREE3", Type: model.PromotionTypeFree, IsActive: true}, nil)

	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseRecurringCharge))
	got := h.store.get(sub.ID)
	assert.Equal(t, model.SubscriptionStatusActive, got.Status)
	assert.Equal(t, utc(2024, 3, 1, 0, 0, 0, 0), *got.NextBillingAt)
	assert.Equal(t, int64(5), *got.PromotionID)

	payments := h.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].IsFree)
	assert.Zero(t, payments[0].Amount)
	assert.Equal(t, "FREE3", payments[0].Metadata["promotion_code"])

	h.gateway.AssertNotCalled(t, "ChargeBillingKey", mock.Anything, mock.Anything)
	h.methods.AssertNotCalled(t, "GetActiveByUserID", mock.Anything, mock.Anything)
}

func TestOrchestrator_MissingPaymentMethod(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))
	sub.PaymentMethodID = nil

	h := newHarness(sub)
	h.usageTotal(450)
	h.methods.On("GetActiveByUserID", mock.Anything, sub.UserID).Return(nil, domainErrors.ErrPaymentMethodNotFound)

	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Failed: 1}, result.Counts(usecase.PhaseRecurringCharge))
	got := h.store.get(sub.ID)
	assert.Equal(t, model.SubscriptionStatusPaymentFailed, got.Status)

	payments := h.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, usecase.FailureCodeNoPaymentMethod, *payments[0].FailureCode)
	h.gateway.AssertNotCalled(t, "ChargeBillingKey", mock.Anything, mock.Anything)
}

func TestOrchestrator_UsageUnavailableBillsLowestTier(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	h.usage.On("SumDaily", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(int64(0), assert.AnError)

	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseRecurringCharge))
	got := h.store.get(sub.ID)
	assert.Equal(t, int64(1), *got.BillingPlanID)
	payments := h.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].IsFree)
}

func TestOrchestrator_ChargedButNotRecorded(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	h.usageTotal(450)
	h.approveCharges(9900)
	h.store.writeErr = errors.New("connection reset")

	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Failed: 1}, result.Counts(usecase.PhaseRecurringCharge))
	require.Len(t, result.Reconciliations, 1)
	rec := result.Reconciliations[0]
	assert.Equal(t, sub.ID.String(), rec.SubscriptionID)
	assert.Equal(t, "pay-ok", rec.GatewayReference)
	assert.Equal(t, int64(9900), rec.Amount)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, apperrors.ErrInconsistentWrite, result.Failures[0].Code)
	assert.Contains(t, h.events.types(), usecase.EventReconciliationRequired)

	got := h.store.get(sub.ID)
	assert.Equal(t, model.SubscriptionStatusActive, got.Status)
	assert.Equal(t, utc(2024, 1, 31, 23, 59, 59, 999), *got.CurrentPeriodEnd)
}

// overlappingStore reports the cancellation candidates it served earlier as
// renewal candidates too.
type overlappingStore struct {
	*subscriptionStore
	cancellations []*model.Subscription
}

func (s *overlappingStore) ListCancellationDue(ctx context.Context, boundary time.Time) ([]*model.Subscription, error) {
	subs, err := s.subscriptionStore.ListCancellationDue(ctx, boundary)
	s.cancellations = subs
	return subs, err
}

func (s *overlappingStore) ListRenewalDue(context.Context, time.Time) ([]*model.Subscription, error) {
	return s.cancellations, nil
}

func TestOrchestrator_OnePhasePerSubscription(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))
	sub.CancelAtPeriodEnd = true

	h := newHarness(sub)

	result, err := h.orchestratorWith(&overlappingStore{subscriptionStore: h.store}, now).Run(context.Background(), usecase.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseCancellation))
	assert.Equal(t, usecase.PhaseCounts{Skipped: 1}, result.Counts(usecase.PhaseRecurringCharge))
	assert.Equal(t, model.SubscriptionStatusCancelled, h.store.get(sub.ID).Status)
	h.gateway.AssertNotCalled(t, "ChargeBillingKey", mock.Anything, mock.Anything)
}

func TestOrchestrator_SubscriptionLockedElsewhere(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	_, ok, err := h.locker.Acquire(context.Background(), "billing:subscription:"+sub.ID.String(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Skipped: 1}, result.Counts(usecase.PhaseRecurringCharge))
	assert.Equal(t, model.SubscriptionStatusActive, h.store.get(sub.ID).Status)
	h.gateway.AssertNotCalled(t, "ChargeBillingKey", mock.Anything, mock.Anything)
}

func TestOrchestrator_RunAlreadyInProgress(t *testing.T) {
	h := newHarness()
	_, ok, err := h.locker.Acquire(context.Background(), "billing:cycle", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := h.orchestrator(utc(2024, 2, 1, 0, 5, 0, 0)).Run(context.Background(), usecase.TriggerSchedule)

	assert.ErrorIs(t, err, domainErrors.ErrRunInProgress)
	assert.Nil(t, result)
	h.runs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOrchestrator_ReleasesCycleLock(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(utc(2024, 2, 1, 0, 5, 0, 0))

	_, err := o.Run(context.Background(), usecase.TriggerManual)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), usecase.TriggerManual)
	require.NoError(t, err)
}

func TestOrchestrator_EmptyCatalogAbortsRun(t *testing.T) {
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	h.plans.ExpectedCalls = nil
	h.plans.On("ListActive", mock.Anything).Return([]*model.Plan{}, nil)

	result, err := h.orchestrator(utc(2024, 2, 1, 0, 5, 0, 0)).Run(context.Background(), usecase.TriggerCLI)

	assert.ErrorIs(t, err, domainErrors.ErrEmptyCatalog)
	require.NotNil(t, result)
	assert.Equal(t, model.SubscriptionStatusActive, h.store.get(sub.ID).Status)
	h.runs.AssertCalled(t, "Finish", mock.Anything, mock.MatchedBy(func(run *model.BillingRun) bool {
		return run.Status == model.BillingRunStatusFailed && run.Error != nil
	}))
}

func TestOrchestrator_CandidateQueryFailure(t *testing.T) {
	h := newHarness()
	h.store.listErr = errors.New("relation does not exist")

	result, err := h.orchestrator(utc(2024, 2, 1, 0, 5, 0, 0)).Run(context.Background(), usecase.TriggerCLI)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrDataStore, apperrors.CodeOf(err))
	require.NotNil(t, result)
}

func TestOrchestrator_RecordsRunAudit(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	h.usageTotal(450)
	h.approveCharges(9900)
	h.runs.ExpectedCalls = nil
	h.runs.On("Create", mock.Anything, mock.MatchedBy(func(run *model.BillingRun) bool {
		return run.Status == model.BillingRunStatusRunning && run.Trigger == usecase.TriggerManual
	})).Return(assert.AnError)
	h.runs.On("Finish", mock.Anything, mock.MatchedBy(func(run *model.BillingRun) bool {
		return run.Status == model.BillingRunStatusCompleted && run.FinishedAt != nil && run.Summary["phases"] != nil
	})).Return(nil)

	// audit failures never fail the run
	result := h.run(t, now)

	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseRecurringCharge))
	h.runs.AssertExpectations(t)
}

func trialSubscription(nextBillingAt time.Time) *model.Subscription {
	return &model.Subscription{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		PlanID:          2,
		Status:          model.SubscriptionStatusActive,
		NextBillingAt:   timePtr(nextBillingAt),
		PaymentMethodID: int64Ptr(paymentMethodID),
		CustomerKey:     "cust-1",
	}
}

func TestOrchestrator_TrialCancelledBeforeFirstCharge(t *testing.T) {
	now := utc(2024, 3, 10, 0, 5, 0, 0)

	tests := []struct {
		name    string
		gateway func(h *orchestratorHarness)
	}{
		{name: "card would be approved", gateway: func(h *orchestratorHarness) { h.approveCharges(9900) }},
		{name: "card would be rejected", gateway: func(h *orchestratorHarness) { h.rejectCharges() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := trialSubscription(utc(2024, 3, 9, 0, 0, 0, 0))
			sub.CancelAtPeriodEnd = true

			h := newHarness(sub)
			tt.gateway(h)
			result := h.run(t, now)

			assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseTrialExpiration))
			got := h.store.get(sub.ID)
			assert.Equal(t, model.SubscriptionStatusCancelled, got.Status)
			assert.False(t, got.CancelAtPeriodEnd)
			assert.Nil(t, got.NextBillingAt)
			assert.Nil(t, got.GraceUntil)
			assert.Nil(t, got.CurrentPeriodStart)
			assert.Equal(t, now, *got.CanceledAt)
			assert.Empty(t, h.store.paymentsFor(sub.ID))
			assert.Contains(t, h.events.types(), usecase.EventSubscriptionCancelled)
			h.gateway.AssertNotCalled(t, "ChargeBillingKey", mock.Anything, mock.Anything)
		})
	}
}

// snapshotStore serves candidate rows captured earlier instead of the live
// ones. With staleReads set, GetByID serves the captured rows as well.
type snapshotStore struct {
	*subscriptionStore
	captured   map[uuid.UUID]model.Subscription
	staleReads bool
}

func newSnapshotStore(store *subscriptionStore, ids ...uuid.UUID) *snapshotStore {
	s := &snapshotStore{subscriptionStore: store, captured: make(map[uuid.UUID]model.Subscription)}
	for _, id := range ids {
		s.captured[id] = store.get(id)
	}
	return s
}

func (s *snapshotStore) rows() []*model.Subscription {
	var out []*model.Subscription
	for _, sub := range s.captured {
		cp := sub
		out = append(out, &cp)
	}
	return out
}

func (s *snapshotStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	if sub, ok := s.captured[id]; ok && s.staleReads {
		return &sub, nil
	}
	return s.subscriptionStore.GetByID(ctx, id)
}

func (s *snapshotStore) ListTrialExpired(context.Context, time.Time) ([]*model.Subscription, error) {
	var out []*model.Subscription
	for _, sub := range s.rows() {
		if sub.CurrentPeriodStart == nil {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *snapshotStore) ListCancellationDue(context.Context, time.Time) ([]*model.Subscription, error) {
	var out []*model.Subscription
	for _, sub := range s.rows() {
		if sub.CancelAtPeriodEnd {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *snapshotStore) ListRenewalDue(context.Context, time.Time) ([]*model.Subscription, error) {
	var out []*model.Subscription
	for _, sub := range s.rows() {
		if sub.CurrentPeriodStart != nil {
			out = append(out, sub)
		}
	}
	return out, nil
}

func TestOrchestrator_StaleCandidateListDoesNotChargeTwice(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	h.usageTotal(450)
	h.approveCharges(9900)
	// listed before the first run renewed the subscription
	stale := newSnapshotStore(h.store, sub.ID)

	h.run(t, now)
	require.Len(t, h.store.paymentsFor(sub.ID), 1)

	result, err := h.orchestratorWith(stale, now).Run(context.Background(), usecase.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, usecase.PhaseCounts{Skipped: 1}, result.Counts(usecase.PhaseRecurringCharge))
	assert.Len(t, h.store.paymentsFor(sub.ID), 1)
	assert.Equal(t, utc(2024, 2, 29, 23, 59, 59, 999), *h.store.get(sub.ID).CurrentPeriodEnd)
	h.gateway.AssertNumberOfCalls(t, "ChargeBillingKey", 1)
}

func TestOrchestrator_PeriodFenceRejectsStaleRenewal(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	h.usageTotal(450)
	h.approveCharges(9900)
	stale := newSnapshotStore(h.store, sub.ID)
	stale.staleReads = true

	h.run(t, now)

	// the reload also sees the old period, so only the write fence is left
	result, err := h.orchestratorWith(stale, now).Run(context.Background(), usecase.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, usecase.PhaseCounts{Failed: 1}, result.Counts(usecase.PhaseRecurringCharge))
	require.Len(t, result.Reconciliations, 1)
	assert.Equal(t, sub.ID.String(), result.Reconciliations[0].SubscriptionID)

	got := h.store.get(sub.ID)
	assert.Equal(t, utc(2024, 2, 29, 23, 59, 59, 999), *got.CurrentPeriodEnd)
	assert.Equal(t, utc(2024, 3, 1, 0, 0, 0, 0), *got.NextBillingAt)
	assert.Len(t, h.store.paymentsFor(sub.ID), 1)
}

func TestOrchestrator_CancellationRequestedAfterListing(t *testing.T) {
	now := utc(2024, 3, 10, 0, 5, 0, 0)
	sub := trialSubscription(utc(2024, 3, 9, 0, 0, 0, 0))

	h := newHarness(sub)
	h.approveCharges(9900)
	stale := newSnapshotStore(h.store, sub.ID)
	h.store.subs[sub.ID].CancelAtPeriodEnd = true

	result, err := h.orchestratorWith(stale, now).Run(context.Background(), usecase.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, usecase.PhaseCounts{Succeeded: 1}, result.Counts(usecase.PhaseTrialExpiration))
	assert.Equal(t, model.SubscriptionStatusCancelled, h.store.get(sub.ID).Status)
	h.gateway.AssertNotCalled(t, "ChargeBillingKey", mock.Anything, mock.Anything)
}

func TestOrchestrator_FailedChargeDropsPendingCancellation(t *testing.T) {
	now := utc(2024, 2, 1, 0, 5, 0, 0)
	sub := paidSubscription(utc(2024, 1, 1, 0, 0, 0, 0), utc(2024, 1, 31, 23, 59, 59, 999))

	h := newHarness(sub)
	h.usageTotal(450)
	h.rejectCharges()
	stale := newSnapshotStore(h.store, sub.ID)
	stale.staleReads = true
	// cancellation requested while the charge was in flight
	h.store.subs[sub.ID].CancelAtPeriodEnd = true

	result, err := h.orchestratorWith(stale, now).Run(context.Background(), usecase.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, usecase.PhaseCounts{Failed: 1}, result.Counts(usecase.PhaseRecurringCharge))
	got := h.store.get(sub.ID)
	assert.Equal(t, model.SubscriptionStatusPaymentFailed, got.Status)
	assert.False(t, got.CancelAtPeriodEnd)
	assert.NotNil(t, got.GraceUntil)
}
