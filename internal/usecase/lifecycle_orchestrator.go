package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wekeepgrowing/semo-billing/internal/config"
	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

const (
	cycleLockKey        = "billing:cycle"
	subscriptionLockKey = "billing:subscription:"
)

// errItemSkipped marks an item that was left alone on purpose.
var errItemSkipped = errors.New("item skipped")

// LifecycleDeps are the collaborators of the orchestrator.
type LifecycleDeps struct {
	Subscriptions  repository.SubscriptionRepository
	Plans          repository.PlanRepository
	PaymentMethods repository.PaymentMethodRepository
	Runs           repository.BillingRunRepository
	Resolver       *PromotionResolver
	Aggregator     *UsageAggregator
	Executor       *PaymentExecutor
	Locker         Locker
	Publisher      EventPublisher
	Recorder       Recorder
	Clock          Clock
}

// LifecycleOrchestrator advances subscriptions through their billing states.
// Each run executes the four phases in order; within a phase subscriptions are
// processed independently by a bounded worker pool.
type LifecycleOrchestrator struct {
	deps   LifecycleDeps
	cfg    config.BillingConfig
	logger *zap.Logger
}

func NewLifecycleOrchestrator(deps LifecycleDeps, cfg config.BillingConfig, logger *zap.Logger) *LifecycleOrchestrator {
	if deps.Publisher == nil {
		deps.Publisher = NopPublisher{}
	}
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	return &LifecycleOrchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
}

// runState is shared by all workers of one run.
type runState struct {
	id      uuid.UUID
	now     time.Time
	result  *RunResult
	catalog []*model.Plan
	plans   map[int64]*model.Plan

	mu      sync.Mutex
	touched map[uuid.UUID]Phase
}

// claim marks the subscription as handled by phase. It returns false when an
// earlier phase of the same run already handled it.
func (s *runState) claim(id uuid.UUID, phase Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.touched[id]; ok {
		return false
	}
	s.touched[id] = phase
	return true
}

// RunBillingCycle runs the four phases once. The returned error is set only
// for run-level failures: another run holds the cycle lock, the plan catalog
// is empty or unreadable, a candidate query failed, or ctx ended. Per-item
// failures are reported in the result.
func (o *LifecycleOrchestrator) RunBillingCycle(ctx context.Context) (*RunResult, error) {
	return o.Run(ctx, TriggerSchedule)
}

// Run is RunBillingCycle with an explicit trigger label.
func (o *LifecycleOrchestrator) Run(ctx context.Context, trigger string) (*RunResult, error) {
	started := time.Now()
	now := o.deps.Clock.Now().UTC()
	state := &runState{
		id:      uuid.New(),
		now:     now,
		touched: make(map[uuid.UUID]Phase),
	}
	state.result = newRunResult(state.id, trigger, now)

	logger := o.logger.With(zap.String("run_id", state.id.String()), zap.String("trigger", trigger))

	release, ok, err := o.deps.Locker.Acquire(ctx, cycleLockKey, o.cfg.RunTimeout)
	if err != nil {
		err = apperrors.NewAppError(apperrors.ErrUnavailable, "failed to acquire billing cycle lock", err)
		o.deps.Recorder.RunFinished(trigger, err, time.Since(started))
		return nil, err
	}
	if !ok {
		logger.Warn("billing run skipped, another run holds the cycle lock")
		o.deps.Recorder.RunFinished(trigger, domainErrors.ErrRunInProgress, time.Since(started))
		return nil, domainErrors.ErrRunInProgress
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release billing cycle lock", zap.Error(err))
		}
	}()

	run := &model.BillingRun{
		ID:        state.id,
		Trigger:   trigger,
		Status:    model.BillingRunStatusRunning,
		StartedAt: now,
	}
	if err := o.deps.Runs.Create(ctx, run); err != nil {
		logger.Warn("failed to record billing run start", zap.Error(err))
	}

	logger.Info("billing run started", zap.Time("now", now))

	runErr := o.runPhases(ctx, state, logger)

	state.result.FinishedAt = o.deps.Clock.Now().UTC()
	o.finishRun(ctx, run, state, runErr, logger)
	o.deps.Recorder.RunFinished(trigger, runErr, time.Since(started))

	return state.result, runErr
}

func (o *LifecycleOrchestrator) runPhases(ctx context.Context, state *runState, logger *zap.Logger) error {
	catalog, err := o.deps.Plans.ListActive(ctx)
	if err != nil {
		return domainErrors.DataStore("failed to load plan catalog", err)
	}
	if len(catalog) == 0 {
		logger.Error("billing run aborted: plan catalog is empty")
		return domainErrors.ErrEmptyCatalog
	}
	state.catalog = catalog
	state.plans = make(map[int64]*model.Plan, len(catalog))
	for _, p := range catalog {
		state.plans[p.ID] = p
	}

	var phaseErrs []error
	for _, phase := range Phases {
		if err := ctx.Err(); err != nil {
			phaseErrs = append(phaseErrs, err)
			break
		}

		var err error
		switch phase {
		case PhaseTrialExpiration:
			err = o.runTrialExpiration(ctx, state)
		case PhaseGraceExpiration:
			err = o.runGraceExpiration(ctx, state)
		case PhaseCancellation:
			err = o.runCancellation(ctx, state)
		case PhaseRecurringCharge:
			err = o.runRecurringCharge(ctx, state)
		}

		counts := state.result.Counts(phase)
		if err != nil {
			apperrors.LogError(logger, err, "billing phase did not complete", zap.String("phase", string(phase)))
			phaseErrs = append(phaseErrs, fmt.Errorf("%s: %w", phase, err))
		}
		logger.Info("billing phase finished",
			zap.String("phase", string(phase)),
			zap.Int("succeeded", counts.Succeeded),
			zap.Int("failed", counts.Failed),
			zap.Int("skipped", counts.Skipped))
	}
	return errors.Join(phaseErrs...)
}

func (o *LifecycleOrchestrator) finishRun(ctx context.Context, run *model.BillingRun, state *runState, runErr error, logger *zap.Logger) {
	finished := state.result.FinishedAt
	run.FinishedAt = &finished
	run.Status = model.BillingRunStatusCompleted
	run.Summary = model.JSONB(state.result.Summary())
	if runErr != nil {
		run.Status = model.BillingRunStatusFailed
		msg := runErr.Error()
		run.Error = &msg
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.WriteTimeout)
	defer cancel()
	if err := o.deps.Runs.Finish(writeCtx, run); err != nil {
		logger.Warn("failed to record billing run result", zap.Error(err))
	}

	o.publish(writeCtx, BillingEvent{
		Type:       EventCycleCompleted,
		RunID:      state.id.String(),
		OccurredAt: finished,
		Data: map[string]interface{}{
			"status":  string(run.Status),
			"summary": run.Summary,
		},
	})

	logger.Info("billing run finished",
		zap.String("status", string(run.Status)),
		zap.Int("failed_items", state.result.TotalFailed()),
		zap.Int("reconciliations", len(state.result.Reconciliations)))
}

// itemStep is one kind of transition within a phase. due repeats the
// candidate query's predicate so it can be checked against the row reloaded
// under the subscription lock.
type itemStep struct {
	due   func(state *runState, sub *model.Subscription) bool
	apply func(ctx context.Context, state *runState, sub *model.Subscription) error
}

// processBatch runs step for every subscription on the worker pool. It stops
// dispatching once ctx ends; items already dispatched finish their own unit.
func (o *LifecycleOrchestrator) processBatch(
	ctx context.Context,
	state *runState,
	phase Phase,
	subs []*model.Subscription,
	step itemStep,
) error {
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)

	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o.processItem(ctx, state, phase, sub, step)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (o *LifecycleOrchestrator) processItem(
	ctx context.Context,
	state *runState,
	phase Phase,
	sub *model.Subscription,
	step itemStep,
) {
	logger := o.logger.With(
		zap.String("run_id", state.id.String()),
		zap.String("phase", string(phase)),
		zap.String("subscription_id", sub.ID.String()))

	err := o.guardedItem(ctx, state, phase, sub, step, logger)

	outcome := ItemSucceeded
	switch {
	case err == nil:
	case errors.Is(err, errItemSkipped),
		errors.Is(err, domainErrors.ErrSubscriptionLocked),
		errors.Is(err, domainErrors.ErrStaleSubscription):
		outcome = ItemSkipped
		logger.Info("subscription skipped", zap.String("reason", err.Error()))
	default:
		outcome = ItemFailed
		var gwErr *domainErrors.GatewayError
		if errors.As(err, &gwErr) {
			logger.Warn("subscription charge failed", zap.String("error_code", gwErr.FailureCode()), zap.Error(err))
		} else {
			apperrors.LogError(logger, err, "subscription processing failed")
		}
	}

	state.result.record(phase, sub.ID, outcome, err)
	o.deps.Recorder.ItemProcessed(phase, outcome)
}

// guardedItem claims the subscription for this run, takes its lock, reloads
// it and applies step only if the reloaded row is still due. A panic becomes
// an item failure.
func (o *LifecycleOrchestrator) guardedItem(
	ctx context.Context,
	state *runState,
	phase Phase,
	sub *model.Subscription,
	step itemStep,
	logger *zap.Logger,
) (err error) {
	if !state.claim(sub.ID, phase) {
		return fmt.Errorf("%w: handled earlier in this run", errItemSkipped)
	}

	release, ok, lockErr := o.deps.Locker.Acquire(ctx, subscriptionLockKey+sub.ID.String(), o.cfg.LockTTL)
	if lockErr != nil {
		return apperrors.NewAppError(apperrors.ErrUnavailable, "failed to acquire subscription lock", lockErr)
	}
	if !ok {
		return domainErrors.ErrSubscriptionLocked
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			logger.Warn("failed to release subscription lock", zap.Error(relErr))
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewAppError(apperrors.ErrInternal, fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	// The candidate list may predate a run that finished with this row.
	current, err := o.deps.Subscriptions.GetByID(ctx, sub.ID)
	if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return fmt.Errorf("%w: subscription no longer exists", errItemSkipped)
	}
	if err != nil {
		return domainErrors.DataStore("failed to reload subscription", err)
	}
	if !step.due(state, current) {
		return fmt.Errorf("%w: no longer due", errItemSkipped)
	}

	return step.apply(ctx, state, current)
}

func (o *LifecycleOrchestrator) publish(ctx context.Context, event BillingEvent) {
	if err := o.deps.Publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("failed to publish billing event",
			zap.String("type", event.Type),
			zap.String("subscription_id", event.SubscriptionID),
			zap.Error(err))
	}
}

func (o *LifecycleOrchestrator) subscriptionEvent(state *runState, eventType string, sub *model.Subscription, data map[string]interface{}) BillingEvent {
	return BillingEvent{
		Type:           eventType,
		RunID:          state.id.String(),
		SubscriptionID: sub.ID.String(),
		UserID:         sub.UserID.String(),
		OccurredAt:     state.now,
		Data:           data,
	}
}
