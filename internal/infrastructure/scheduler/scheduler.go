package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

// CycleRunner runs one billing cycle.
type CycleRunner interface {
	Run(ctx context.Context, trigger string) (*usecase.RunResult, error)
}

// Scheduler fires the billing cycle on a six-field cron spec (seconds first).
// A tick that arrives while the previous run is still going is skipped.
type Scheduler struct {
	cron       *cron.Cron
	runner     CycleRunner
	runTimeout time.Duration
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(runner CycleRunner, spec string, runTimeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:     runner,
		runTimeout: runTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid billing schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("billing scheduler started")
	s.cron.Start()
}

// Stop stops new ticks, cancels dispatch of a run in flight and waits for it
// to drain or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("billing scheduler stop timed out")
	}
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	result, err := s.runner.Run(ctx, usecase.TriggerSchedule)
	switch {
	case errors.Is(err, domainErrors.ErrRunInProgress):
		s.logger.Info("scheduled billing run skipped, another run holds the lock")
	case err != nil:
		apperrors.LogError(s.logger, err, "scheduled billing run failed")
	default:
		s.logger.Info("scheduled billing run finished",
			zap.String("run_id", result.RunID.String()),
			zap.Int("failed", result.TotalFailed()))
	}
}

// cronLogger routes cron's own logging to zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
