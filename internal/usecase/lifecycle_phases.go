package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/config"
	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/period"
	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

// Phase 1: trials whose next_billing_at has passed get their first paid charge.
// A trial whose owner asked to cancel ends without being charged.
func (o *LifecycleOrchestrator) runTrialExpiration(ctx context.Context, state *runState) error {
	subs, err := o.deps.Subscriptions.ListTrialExpired(ctx, state.now)
	if err != nil {
		return domainErrors.DataStore("failed to list expired trials", err)
	}
	return o.processBatch(ctx, state, PhaseTrialExpiration, subs, itemStep{due: trialExpired, apply: o.expireTrial})
}

func trialExpired(state *runState, sub *model.Subscription) bool {
	return sub.Status == model.SubscriptionStatusActive &&
		sub.CurrentPeriodStart == nil &&
		sub.NextBillingAt != nil && !sub.NextBillingAt.After(state.now)
}

func (o *LifecycleOrchestrator) expireTrial(ctx context.Context, state *runState, sub *model.Subscription) error {
	if sub.CancelAtPeriodEnd {
		return o.cancelTrial(ctx, state, sub)
	}

	plan, err := o.planFor(ctx, state, sub.EffectivePlanID())
	if err != nil {
		return err
	}

	res, err := o.deps.Resolver.ResolveTrialExit(ctx, sub, plan, state.now)
	if err != nil {
		return err
	}

	anchor := state.now
	if o.cfg.TrialAnchor == config.TrialAnchorScheduled && sub.NextBillingAt != nil {
		anchor = *sub.NextBillingAt
	}
	next := period.StartingAt(anchor)

	onSuccess := map[string]interface{}{
		"status":               model.SubscriptionStatusActive,
		"current_period_start": next.Start,
		"current_period_end":   next.End,
		"next_billing_at":      next.NextBillingAt,
		"billing_plan_id":      plan.ID,
		"promotion_id":         nil,
		"promotion_applied_at": nil,
		"promotion_expires_at": nil,
		"failed_at":            nil,
		"grace_until":          nil,
	}

	return o.chargeAndCommit(ctx, state, PhaseTrialExpiration, sub, plan, res, &next, onSuccess, EventSubscriptionActivated)
}

func (o *LifecycleOrchestrator) cancelTrial(ctx context.Context, state *runState, sub *model.Subscription) error {
	err := o.applyTransition(ctx, state, model.Transition{
		SubscriptionID: sub.ID,
		ExpectedStatus: model.SubscriptionStatusActive,
		FencePeriod:    true,
		Updates: map[string]interface{}{
			"status":               model.SubscriptionStatusCancelled,
			"next_billing_at":      nil,
			"cancel_at_period_end": false,
			"canceled_at":          state.now,
		},
	})
	if err != nil {
		return err
	}
	o.publish(ctx, o.subscriptionEvent(state, EventSubscriptionCancelled, sub, map[string]interface{}{
		"trial_end": sub.NextBillingAt,
	}))
	return nil
}

// Phase 2: payment_failed past its grace window becomes restricted; restricted
// past the suspension window becomes suspended. Both candidate lists are read
// before either is applied so a subscription moves at most one step per run.
//
// The suspension window runs suspension_days past grace_until. With the
// default seven day grace period that is fourteen days after the failed
// charge.
func (o *LifecycleOrchestrator) runGraceExpiration(ctx context.Context, state *runState) error {
	graceExpired, err := o.deps.Subscriptions.ListGraceExpired(ctx, state.now)
	if err != nil {
		return domainErrors.DataStore("failed to list expired grace periods", err)
	}
	restrictionExpired, err := o.deps.Subscriptions.ListRestrictionExpired(ctx, o.suspensionCutoff(state.now))
	if err != nil {
		return domainErrors.DataStore("failed to list expired restrictions", err)
	}

	if err := o.processBatch(ctx, state, PhaseGraceExpiration, graceExpired, itemStep{due: graceWindowOver, apply: o.restrict}); err != nil {
		return err
	}
	return o.processBatch(ctx, state, PhaseGraceExpiration, restrictionExpired, itemStep{due: o.restrictionExpired, apply: o.suspend})
}

func graceWindowOver(state *runState, sub *model.Subscription) bool {
	return sub.Status == model.SubscriptionStatusPaymentFailed &&
		sub.GraceUntil != nil && sub.GraceUntil.Before(state.now)
}

func (o *LifecycleOrchestrator) restrictionExpired(state *runState, sub *model.Subscription) bool {
	return sub.Status == model.SubscriptionStatusRestricted &&
		sub.GraceUntil != nil && sub.GraceUntil.Before(o.suspensionCutoff(state.now))
}

func (o *LifecycleOrchestrator) suspensionCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -o.suspensionDays())
}

func (o *LifecycleOrchestrator) restrict(ctx context.Context, state *runState, sub *model.Subscription) error {
	err := o.applyTransition(ctx, state, model.Transition{
		SubscriptionID: sub.ID,
		ExpectedStatus: model.SubscriptionStatusPaymentFailed,
		Updates: map[string]interface{}{
			"status": model.SubscriptionStatusRestricted,
		},
	})
	if err != nil {
		return err
	}
	o.publish(ctx, o.subscriptionEvent(state, EventSubscriptionRestricted, sub, map[string]interface{}{
		"grace_until": sub.GraceUntil,
	}))
	return nil
}

func (o *LifecycleOrchestrator) suspend(ctx context.Context, state *runState, sub *model.Subscription) error {
	err := o.applyTransition(ctx, state, model.Transition{
		SubscriptionID: sub.ID,
		ExpectedStatus: model.SubscriptionStatusRestricted,
		Updates: map[string]interface{}{
			"status":          model.SubscriptionStatusSuspended,
			"next_billing_at": nil,
			"grace_until":     nil,
		},
	})
	if err != nil {
		return err
	}
	o.publish(ctx, o.subscriptionEvent(state, EventSubscriptionSuspended, sub, nil))
	return nil
}

// Phase 3: cancellations requested for the period end are finalized once the
// period ended before today.
func (o *LifecycleOrchestrator) runCancellation(ctx context.Context, state *runState) error {
	subs, err := o.deps.Subscriptions.ListCancellationDue(ctx, period.EndOfPreviousDay(state.now))
	if err != nil {
		return domainErrors.DataStore("failed to list due cancellations", err)
	}
	return o.processBatch(ctx, state, PhaseCancellation, subs, itemStep{due: cancellationDue, apply: o.cancel})
}

func cancellationDue(state *runState, sub *model.Subscription) bool {
	return sub.Status == model.SubscriptionStatusActive &&
		sub.CancelAtPeriodEnd &&
		sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(period.EndOfPreviousDay(state.now))
}

func (o *LifecycleOrchestrator) cancel(ctx context.Context, state *runState, sub *model.Subscription) error {
	err := o.applyTransition(ctx, state, model.Transition{
		SubscriptionID:    sub.ID,
		ExpectedStatus:    model.SubscriptionStatusActive,
		FencePeriod:       true,
		ExpectedPeriodEnd: sub.CurrentPeriodEnd,
		Updates: map[string]interface{}{
			"status":               model.SubscriptionStatusCancelled,
			"next_billing_at":      nil,
			"cancel_at_period_end": false,
			"canceled_at":          state.now,
		},
	})
	if err != nil {
		return err
	}
	o.publish(ctx, o.subscriptionEvent(state, EventSubscriptionCancelled, sub, map[string]interface{}{
		"period_end": sub.CurrentPeriodEnd,
	}))
	return nil
}

// Phase 4: paid subscriptions whose period ended before today are charged for
// the next period. The plan follows the usage of the elapsed period.
func (o *LifecycleOrchestrator) runRecurringCharge(ctx context.Context, state *runState) error {
	subs, err := o.deps.Subscriptions.ListRenewalDue(ctx, period.EndOfPreviousDay(state.now))
	if err != nil {
		return domainErrors.DataStore("failed to list due renewals", err)
	}
	return o.processBatch(ctx, state, PhaseRecurringCharge, subs, itemStep{due: renewalDue, apply: o.renew})
}

// renewalDue leaves the owner check to the candidate query.
func renewalDue(state *runState, sub *model.Subscription) bool {
	return sub.Status == model.SubscriptionStatusActive &&
		!sub.CancelAtPeriodEnd &&
		sub.CurrentPeriodStart != nil &&
		sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(period.EndOfPreviousDay(state.now))
}

func (o *LifecycleOrchestrator) renew(ctx context.Context, state *runState, sub *model.Subscription) error {
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		return apperrors.NewAppError(apperrors.ErrInvalidArgument, "renewal candidate has no billing period", nil)
	}

	usage, err := o.deps.Aggregator.Aggregate(ctx, sub.ID, sub.UserID, *sub.CurrentPeriodStart, *sub.CurrentPeriodEnd)
	switch {
	case errors.Is(err, domainErrors.ErrUsageUnavailable):
		apperrors.LogWarn(o.logger, err, "usage unavailable, billing at the lowest tier",
			zap.String("subscription_id", sub.ID.String()))
	case err != nil:
		apperrors.LogWarn(o.logger, err, "usage total not stored",
			zap.String("subscription_id", sub.ID.String()),
			zap.Int64("usage", usage))
	}

	plan, err := SelectPlan(usage, state.catalog)
	if err != nil {
		return err
	}

	res, err := o.deps.Resolver.Resolve(ctx, sub, plan, state.now)
	if err != nil {
		return err
	}

	next := period.Next(*sub.CurrentPeriodEnd)
	onSuccess := map[string]interface{}{
		"status":               model.SubscriptionStatusActive,
		"current_period_start": next.Start,
		"current_period_end":   next.End,
		"next_billing_at":      next.NextBillingAt,
		"billing_plan_id":      plan.ID,
		"failed_at":            nil,
		"grace_until":          nil,
	}
	if res.ClearPromotion {
		clearPromotion(onSuccess)
	}

	return o.chargeAndCommit(ctx, state, PhaseRecurringCharge, sub, plan, res, &next, onSuccess, EventSubscriptionRenewed)
}

// chargeAndCommit charges the amount in res and writes the payment record and
// the resulting transition as one unit. Once the charge starts the unit runs
// to completion even if ctx ends.
func (o *LifecycleOrchestrator) chargeAndCommit(
	ctx context.Context,
	state *runState,
	phase Phase,
	sub *model.Subscription,
	plan *model.Plan,
	res *Resolution,
	next *period.Period,
	onSuccess map[string]interface{},
	successEvent string,
) error {
	pm, err := o.paymentMethodFor(ctx, sub, res.AmountDue)
	if err != nil {
		return err
	}

	unitCtx := context.WithoutCancel(ctx)
	attemptedAt := o.deps.Clock.Now().UTC()
	orderID := NewOrderID(sub.ID, attemptedAt)

	result := o.deps.Executor.Charge(unitCtx, &ChargeRequest{
		PaymentMethod: pm,
		Amount:        res.AmountDue,
		OrderID:       orderID,
		OrderName:     res.OrderName,
		CustomerKey:   sub.CustomerKey,
	})

	payment := &model.BillingPayment{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         plan.ID,
		OrderID:        orderID,
		OrderName:      res.OrderName,
		Amount:         res.AmountDue,
		Currency:       o.cfg.Currency,
		IsFree:         result.IsFree,
		Provider:       result.Provider,
		Phase:          string(phase),
		RunID:          state.id,
		AttemptedAt:    attemptedAt,
		PeriodStart:    &next.Start,
		PeriodEnd:      &next.End,
	}
	if pm != nil {
		payment.PaymentMethodID = &pm.ID
	}
	if res.Promotion != nil {
		payment.Metadata = model.JSONB{
			"promotion_id":   res.Promotion.ID,
			"promotion_code": res.Promotion.Code,
			"list_price":     plan.MonthlyPrice,
		}
	}
	if result.GatewayReference != "" {
		ref := result.GatewayReference
		payment.GatewayReference = &ref
	}

	transition := model.Transition{
		SubscriptionID:    sub.ID,
		ExpectedStatus:    sub.Status,
		FencePeriod:       true,
		ExpectedPeriodEnd: sub.CurrentPeriodEnd,
		RunID:             state.id,
	}

	if result.Success {
		payment.Status = model.BillingPaymentStatusSuccess
		payment.Amount = result.Amount
		paidAt := attemptedAt
		if result.ApprovedAt != nil {
			paidAt = result.ApprovedAt.UTC()
		}
		payment.PaidAt = &paidAt
		transition.Updates = onSuccess
	} else {
		payment.Status = model.BillingPaymentStatusFailed
		payment.PeriodStart, payment.PeriodEnd = nil, nil
		var gwErr *domainErrors.GatewayError
		if errors.As(result.Err, &gwErr) {
			code, reason := gwErr.FailureCode(), gwErr.Message
			payment.FailureCode = &code
			payment.FailureReason = &reason
		}
		transition.Updates = o.failureUpdates(state.now)
		if res.ClearPromotion {
			clearPromotion(transition.Updates)
		}
	}

	writeCtx, cancel := context.WithTimeout(unitCtx, o.cfg.WriteTimeout)
	defer cancel()

	if err := o.deps.Subscriptions.RecordChargeOutcome(writeCtx, &model.ChargeOutcome{
		Payment:    payment,
		Transition: transition,
	}); err != nil {
		if result.Success && !result.IsFree {
			return o.flagInconsistentWrite(unitCtx, state, phase, sub, payment, err)
		}
		if errors.Is(err, domainErrors.ErrStaleSubscription) {
			return err
		}
		return domainErrors.DataStore("failed to record charge outcome", err)
	}

	if !result.Success {
		o.publish(unitCtx, o.subscriptionEvent(state, EventSubscriptionPaymentFailed, sub, map[string]interface{}{
			"order_id":    orderID,
			"amount":      res.AmountDue,
			"grace_until": transition.Updates["grace_until"],
		}))
		return result.Err
	}

	o.publish(unitCtx, o.subscriptionEvent(state, successEvent, sub, map[string]interface{}{
		"order_id":        orderID,
		"amount":          payment.Amount,
		"is_free":         result.IsFree,
		"plan_id":         plan.ID,
		"period_start":    next.Start,
		"period_end":      next.End,
		"next_billing_at": next.NextBillingAt,
	}))
	return nil
}

// flagInconsistentWrite reports a charge the gateway accepted but whose state
// write failed. The subscription is left for manual reconciliation.
func (o *LifecycleOrchestrator) flagInconsistentWrite(
	ctx context.Context,
	state *runState,
	phase Phase,
	sub *model.Subscription,
	payment *model.BillingPayment,
	writeErr error,
) error {
	ref := ""
	if payment.GatewayReference != nil {
		ref = *payment.GatewayReference
	}
	iwErr := &domainErrors.InconsistentWriteError{
		SubscriptionID:   sub.ID,
		OrderID:          payment.OrderID,
		GatewayReference: ref,
		Amount:           payment.Amount,
		Err:              writeErr,
	}

	o.logger.Error("RECONCILIATION REQUIRED: charge succeeded but subscription state was not saved",
		zap.String("run_id", state.id.String()),
		zap.String("phase", string(phase)),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", sub.UserID.String()),
		zap.String("order_id", payment.OrderID),
		zap.String("gateway_reference", ref),
		zap.Int64("amount", payment.Amount),
		zap.Error(writeErr))

	o.deps.Recorder.InconsistentWrite(phase)
	state.result.addReconciliation(Reconciliation{
		Phase:            phase,
		SubscriptionID:   sub.ID.String(),
		OrderID:          payment.OrderID,
		GatewayReference: ref,
		Amount:           payment.Amount,
	})
	o.publish(ctx, o.subscriptionEvent(state, EventReconciliationRequired, sub, map[string]interface{}{
		"phase":             string(phase),
		"order_id":          payment.OrderID,
		"gateway_reference": ref,
		"amount":            payment.Amount,
		"error":             writeErr.Error(),
	}))

	return iwErr
}

func (o *LifecycleOrchestrator) applyTransition(ctx context.Context, state *runState, t model.Transition) error {
	t.RunID = state.id
	err := o.deps.Subscriptions.ApplyTransition(ctx, t)
	if err != nil && !errors.Is(err, domainErrors.ErrStaleSubscription) {
		return domainErrors.DataStore("failed to update subscription", err)
	}
	return err
}

// failureUpdates opens the grace window: payment_failed until the end of the
// day grace_period_days after now. Period fields are left as they are. A
// pending cancellation only applies to active subscriptions, so it is dropped.
func (o *LifecycleOrchestrator) failureUpdates(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":               model.SubscriptionStatusPaymentFailed,
		"failed_at":            now,
		"grace_until":          period.GraceUntil(now, o.gracePeriodDays()),
		"cancel_at_period_end": false,
	}
}

func clearPromotion(updates map[string]interface{}) {
	updates["promotion_id"] = nil
	updates["promotion_applied_at"] = nil
	updates["promotion_expires_at"] = nil
}

// planFor looks up a plan in the run's catalog snapshot, falling back to the
// store for plans that are no longer sold but still billed.
func (o *LifecycleOrchestrator) planFor(ctx context.Context, state *runState, id int64) (*model.Plan, error) {
	if plan, ok := state.plans[id]; ok {
		return plan, nil
	}
	plan, err := o.deps.Plans.GetByID(ctx, id)
	if errors.Is(err, domainErrors.ErrPlanNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domainErrors.DataStore("failed to load plan", err)
	}
	return plan, nil
}

// paymentMethodFor returns the subscription's payment method, or the user's
// active one when the subscription has none. A zero amount needs none.
func (o *LifecycleOrchestrator) paymentMethodFor(ctx context.Context, sub *model.Subscription, amount int64) (*model.PaymentMethod, error) {
	if amount == 0 {
		return nil, nil
	}

	if sub.PaymentMethodID != nil {
		pm, err := o.deps.PaymentMethods.GetByID(ctx, *sub.PaymentMethodID)
		if err == nil && pm.IsActive {
			return pm, nil
		}
		if err != nil && !errors.Is(err, domainErrors.ErrPaymentMethodNotFound) {
			return nil, domainErrors.DataStore("failed to load payment method", err)
		}
	}

	pm, err := o.deps.PaymentMethods.GetActiveByUserID(ctx, sub.UserID)
	if errors.Is(err, domainErrors.ErrPaymentMethodNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainErrors.DataStore("failed to load active payment method", err)
	}
	return pm, nil
}

func (o *LifecycleOrchestrator) gracePeriodDays() int {
	if o.cfg.GracePeriodDays > 0 {
		return o.cfg.GracePeriodDays
	}
	return 7
}

func (o *LifecycleOrchestrator) suspensionDays() int {
	if o.cfg.SuspensionDays > 0 {
		return o.cfg.SuspensionDays
	}
	return 7
}
