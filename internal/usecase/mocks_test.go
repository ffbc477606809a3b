package usecase_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/provider"
	"github.com/wekeepgrowing/semo-billing/internal/usecase"
)

// MockPromotionRepository is a mock implementation of PromotionRepository
type MockPromotionRepository struct {
	mock.Mock
}

func (m *MockPromotionRepository) GetByID(ctx context.Context, id int64) (*model.Promotion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Promotion), args.Error(1)
}

// MockPlanRepository is a mock implementation of PlanRepository
type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) GetByID(ctx context.Context, id int64) (*model.Plan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Plan), args.Error(1)
}

func (m *MockPlanRepository) ListActive(ctx context.Context) ([]*model.Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Plan), args.Error(1)
}

func (m *MockPlanRepository) UpsertByName(ctx context.Context, plan *model.Plan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

// MockUsageRepository is a mock implementation of UsageRepository
type MockUsageRepository struct {
	mock.Mock
}

func (m *MockUsageRepository) SumDaily(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error) {
	args := m.Called(ctx, userID, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageRepository) UpsertPeriodStat(ctx context.Context, stat *model.UsagePeriodStat) error {
	args := m.Called(ctx, stat)
	return args.Error(0)
}

// MockPaymentMethodRepository is a mock implementation of PaymentMethodRepository
type MockPaymentMethodRepository struct {
	mock.Mock
}

func (m *MockPaymentMethodRepository) GetByID(ctx context.Context, id int64) (*model.PaymentMethod, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentMethod), args.Error(1)
}

func (m *MockPaymentMethodRepository) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*model.PaymentMethod, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentMethod), args.Error(1)
}

func (m *MockPaymentMethodRepository) ReplaceActive(ctx context.Context, pm *model.PaymentMethod) error {
	args := m.Called(ctx, pm)
	return args.Error(0)
}

func (m *MockPaymentMethodRepository) Deactivate(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockBillingRunRepository is a mock implementation of BillingRunRepository
type MockBillingRunRepository struct {
	mock.Mock
}

func (m *MockBillingRunRepository) Create(ctx context.Context, run *model.BillingRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockBillingRunRepository) Finish(ctx context.Context, run *model.BillingRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

// MockBillingProvider is a mock implementation of BillingProvider
type MockBillingProvider struct {
	mock.Mock
}

func (m *MockBillingProvider) IssueBillingKey(ctx context.Context, req *provider.IssueBillingKeyRequest) (*provider.IssueBillingKeyResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.IssueBillingKeyResponse), args.Error(1)
}

func (m *MockBillingProvider) ChargeBillingKey(ctx context.Context, req *provider.ChargeBillingKeyRequest) (*provider.ChargeBillingKeyResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.ChargeBillingKeyResponse), args.Error(1)
}

func (m *MockBillingProvider) GetProviderName() string {
	return "toss"
}

// plainEncryptor stores billing keys as they are.
type plainEncryptor struct {
	decryptErr error
}

func (e plainEncryptor) Encrypt(plaintext string) (string, string, error) {
	return "enc:" + plaintext, "iv", nil
}

func (e plainEncryptor) Decrypt(ciphertext, _ string) (string, error) {
	if e.decryptErr != nil {
		return "", e.decryptErr
	}
	return ciphertext[len("enc:"):], nil
}

// subscriptionStore is an in-memory SubscriptionRepository that evaluates the
// candidate queries and fenced writes the way the SQL repository does.
type subscriptionStore struct {
	mu       sync.Mutex
	subs     map[uuid.UUID]*model.Subscription
	payments []*model.BillingPayment

	// writeErr fails every RecordChargeOutcome call when set.
	writeErr error
	// listErr fails the candidate queries when set.
	listErr error
}

func newSubscriptionStore(subs ...*model.Subscription) *subscriptionStore {
	s := &subscriptionStore{subs: make(map[uuid.UUID]*model.Subscription)}
	for _, sub := range subs {
		s.subs[sub.ID] = sub
	}
	return s
}

func (s *subscriptionStore) get(id uuid.UUID) model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.subs[id]
}

func (s *subscriptionStore) paymentsFor(id uuid.UUID) []*model.BillingPayment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.BillingPayment
	for _, p := range s.payments {
		if p.SubscriptionID == id {
			out = append(out, p)
		}
	}
	return out
}

func (s *subscriptionStore) GetByID(_ context.Context, id uuid.UUID) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *subscriptionStore) filter(match func(*model.Subscription) bool) ([]*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*model.Subscription
	for _, sub := range s.subs {
		if match(sub) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *subscriptionStore) ListTrialExpired(_ context.Context, now time.Time) ([]*model.Subscription, error) {
	return s.filter(func(sub *model.Subscription) bool {
		return sub.Status == model.SubscriptionStatusActive &&
			sub.CurrentPeriodStart == nil &&
			sub.NextBillingAt != nil && !sub.NextBillingAt.After(now)
	})
}

func (s *subscriptionStore) ListGraceExpired(_ context.Context, now time.Time) ([]*model.Subscription, error) {
	return s.filter(func(sub *model.Subscription) bool {
		return sub.Status == model.SubscriptionStatusPaymentFailed &&
			sub.GraceUntil != nil && sub.GraceUntil.Before(now)
	})
}

func (s *subscriptionStore) ListRestrictionExpired(_ context.Context, cutoff time.Time) ([]*model.Subscription, error) {
	return s.filter(func(sub *model.Subscription) bool {
		return sub.Status == model.SubscriptionStatusRestricted &&
			sub.GraceUntil != nil && sub.GraceUntil.Before(cutoff)
	})
}

func (s *subscriptionStore) ListCancellationDue(_ context.Context, boundary time.Time) ([]*model.Subscription, error) {
	return s.filter(func(sub *model.Subscription) bool {
		return sub.Status == model.SubscriptionStatusActive &&
			sub.CancelAtPeriodEnd &&
			sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(boundary)
	})
}

func (s *subscriptionStore) ListRenewalDue(_ context.Context, boundary time.Time) ([]*model.Subscription, error) {
	return s.filter(func(sub *model.Subscription) bool {
		return sub.Status == model.SubscriptionStatusActive &&
			!sub.CancelAtPeriodEnd &&
			sub.CurrentPeriodStart != nil &&
			sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(boundary)
	})
}

func (s *subscriptionStore) ApplyTransition(_ context.Context, t model.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(t)
}

func (s *subscriptionStore) RecordChargeOutcome(_ context.Context, outcome *model.ChargeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if err := s.applyLocked(outcome.Transition); err != nil {
		return err
	}
	s.payments = append(s.payments, outcome.Payment)
	return nil
}

func (s *subscriptionStore) applyLocked(t model.Transition) error {
	sub, ok := s.subs[t.SubscriptionID]
	if !ok || sub.Status != t.ExpectedStatus {
		return domainErrors.ErrStaleSubscription
	}
	if t.FencePeriod && !sameTime(sub.CurrentPeriodEnd, t.ExpectedPeriodEnd) {
		return domainErrors.ErrStaleSubscription
	}
	for col, v := range t.Updates {
		switch col {
		case "status":
			sub.Status = v.(model.SubscriptionStatus)
		case "current_period_start":
			sub.CurrentPeriodStart = timeValue(v)
		case "current_period_end":
			sub.CurrentPeriodEnd = timeValue(v)
		case "next_billing_at":
			sub.NextBillingAt = timeValue(v)
		case "failed_at":
			sub.FailedAt = timeValue(v)
		case "grace_until":
			sub.GraceUntil = timeValue(v)
		case "canceled_at":
			sub.CanceledAt = timeValue(v)
		case "promotion_applied_at":
			sub.PromotionAppliedAt = timeValue(v)
		case "promotion_expires_at":
			sub.PromotionExpiresAt = timeValue(v)
		case "promotion_id":
			sub.PromotionID = int64Value(v)
		case "billing_plan_id":
			sub.BillingPlanID = int64Value(v)
		case "cancel_at_period_end":
			sub.CancelAtPeriodEnd = v.(bool)
		}
	}
	if t.RunID != uuid.Nil {
		runID := t.RunID
		sub.LastBillingRunID = &runID
	}
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func timeValue(v interface{}) *time.Time {
	if v == nil {
		return nil
	}
	t := v.(time.Time)
	return &t
}

func int64Value(v interface{}) *int64 {
	if v == nil {
		return nil
	}
	n := v.(int64)
	return &n
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) Publish(_ context.Context, event usecase.BillingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Type)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
