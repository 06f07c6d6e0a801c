// Package di wires the engine's components together.
package di

import (
	"context"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"gorm.io/gorm"

	"clinical-copilot/backend/internal/guardrail"
	"clinical-copilot/backend/internal/patientctx"
	"clinical-copilot/backend/internal/session"
	"clinical-copilot/backend/internal/store"
	"clinical-copilot/backend/internal/ws"
	"clinical-copilot/backend/pkg/config"
	"clinical-copilot/backend/pkg/health"
	"clinical-copilot/backend/pkg/jwt"
	"clinical-copilot/backend/pkg/logger"
	"clinical-copilot/backend/pkg/resilience"
	"clinical-copilot/backend/shared/observability"
	sharedredis "clinical-copilot/backend/shared/redis"
)

// healthCheckPeriod is how often component health checks run
const healthCheckPeriod = 30 * time.Second

// Container holds all the dependencies for the engine
type Container struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *gorm.DB
	Redis        *sharedredis.Client
	Store        store.SessionStore
	JWTService   *jwt.Service
	Breaker      *resilience.CircuitBreaker
	Evaluator    *guardrail.Evaluator
	Lookup       patientctx.Lookup
	Synchronizer *patientctx.Synchronizer
	Manager      *session.Manager
	Hub          *ws.Hub
	Metrics      *observability.Metrics
	Health       *health.Checker
}

// New creates a dependency container. db is the patient directory; mp
// may be nil, which disables metric instruments (used in tests).
func New(cfg *config.Config, db *gorm.DB, mp *sdkmetric.MeterProvider) (*Container, error) {
	log := logger.New(logger.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.Format == "json",
	})
	logger.SetGlobal(log)

	var metrics *observability.Metrics
	if mp != nil {
		var err error
		metrics, err = observability.NewMetrics(mp)
		if err != nil {
			return nil, err
		}
	}

	redisClient := sharedredis.NewClient(cfg)
	sessionStore := store.NewRedisStore(redisClient)

	// the audit hub doubles as the notifier for every engine component
	hub := ws.NewHub(log)

	breaker := resilience.NewCircuitBreaker(
		resilience.DefaultCircuitBreakerConfig("guardrail-evaluator"), log)
	evaluator := guardrail.NewEvaluator(guardrail.NewHTTPClient(cfg), breaker, log, metrics, hub)

	lookup := patientctx.NewDirectoryLookup(db)
	synchronizer := patientctx.NewSynchronizer(lookup, log, metrics, hub)

	manager := session.NewManager(session.Config{
		IdleTimeout:  cfg.Session.IdleTimeout,
		BusyLockTTL:  cfg.Session.BusyLockTTL,
		ReaperPeriod: cfg.Session.ReaperPeriod,
	}, sessionStore, evaluator, synchronizer, log, metrics, hub)

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)

	checker := health.NewChecker(log, healthCheckPeriod)
	checker.RegisterStoreCheck(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.Timeout)
		defer cancel()
		return redisClient.Healthy(ctx)
	})
	checker.RegisterDirectoryCheck(func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Ping()
	})
	checker.RegisterEvaluatorCheck(breaker)

	return &Container{
		Config:       cfg,
		Logger:       log,
		DB:           db,
		Redis:        redisClient,
		Store:        sessionStore,
		JWTService:   jwtService,
		Breaker:      breaker,
		Evaluator:    evaluator,
		Lookup:       lookup,
		Synchronizer: synchronizer,
		Manager:      manager,
		Hub:          hub,
		Metrics:      metrics,
		Health:       checker,
	}, nil
}
