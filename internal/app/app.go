package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wekeepgrowing/semo-billing/internal/config"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/crypto"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/database"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/events"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/lock"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/metrics"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/provider"
	"github.com/wekeepgrowing/semo-billing/internal/usecase"
	"github.com/wekeepgrowing/semo-billing/pkg/logger"
	"github.com/wekeepgrowing/semo-billing/pkg/messaging"
)

// App is the wired billing engine shared by the server and the one-shot CLI.
type App struct {
	Config         *config.Config
	Logger         *zap.Logger
	DB             *gorm.DB
	Repos          *database.Repositories
	Metrics        *metrics.Metrics
	Orchestrator   *usecase.LifecycleOrchestrator
	PaymentMethods *usecase.PaymentMethodService
	PlanSync       *usecase.PlanSyncService

	closers []func() error
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.NewZapLogger(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		Development: cfg.Log.Development,
		Fields: map[string]string{
			"service":     cfg.Service.Name,
			"environment": cfg.Service.Environment,
			"version":     cfg.Service.Version,
		},
	})
}

// ErrProcessLocalLocks is returned in production when Redis is disabled.
var ErrProcessLocalLocks = errors.New("redis is required for billing locks in production")

// CheckRunExclusion reports whether billing runs started by different
// processes exclude each other. Without Redis every process holds its own
// in-memory cycle lock, so a billing-cycle CLI run can overlap the server's
// scheduled run. Production refuses to start; other environments log a warning.
func CheckRunExclusion(cfg *config.Config, log *zap.Logger) error {
	if cfg.Redis.Enabled {
		return nil
	}
	if cfg.Service.IsProduction() {
		return ErrProcessLocalLocks
	}
	log.Warn("redis disabled: billing locks and events are process local; do not start billing-cycle while a server schedule is active",
		zap.String("schedule", cfg.Billing.Schedule),
		zap.String("environment", cfg.Service.Environment))
	return nil
}

// New connects to the database and Redis and wires the billing use cases.
// migrate runs schema migrations before anything else touches the database.
func New(cfg *config.Config, log *zap.Logger, migrate bool) (*App, error) {
	if err := CheckRunExclusion(cfg, log); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: log}

	db, err := database.NewConnection(&cfg.Database, cfg.Log.GormLevel, log)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func() error { return database.Close(db, log) })

	if migrate {
		if err := database.Migrate(db, log); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	a.Repos = database.NewRepositories(db, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewMetrics(registry)

	var (
		locker    usecase.Locker
		publisher usecase.EventPublisher = usecase.NopPublisher{}
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)

		locker = lock.NewRedisLocker(rdb, cfg.Service.Name+":", log)
		publisher = events.NewRedisPublisher(messaging.NewRedisPublisher(rdb), cfg.Billing.EventsChannel, log)
	} else {
		locker = lock.NewMemoryLocker()
	}

	gateway, err := provider.NewFactory(&cfg.Gateway, log).Default()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create billing provider: %w", err)
	}
	encryptor, err := crypto.NewAESEncryptionService(cfg.Gateway.EncryptionKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create encryption service: %w", err)
	}

	executor := usecase.NewPaymentExecutor(gateway, encryptor, cfg.Billing.GatewayTimeout, cfg.Billing.Currency, a.Metrics, log)

	a.Orchestrator = usecase.NewLifecycleOrchestrator(usecase.LifecycleDeps{
		Subscriptions:  a.Repos.Subscription,
		Plans:          a.Repos.Plan,
		PaymentMethods: a.Repos.PaymentMethod,
		Runs:           a.Repos.BillingRun,
		Resolver:       usecase.NewPromotionResolver(a.Repos.Promotion, log),
		Aggregator:     usecase.NewUsageAggregator(a.Repos.Usage, log),
		Executor:       executor,
		Locker:         locker,
		Publisher:      publisher,
		Recorder:       a.Metrics,
		Clock:          usecase.SystemClock{},
	}, cfg.Billing, log)

	a.PaymentMethods = usecase.NewPaymentMethodService(a.Repos.PaymentMethod, gateway, encryptor, log)
	a.PlanSync = usecase.NewPlanSyncService(a.Repos.Plan, log)

	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Error("failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
