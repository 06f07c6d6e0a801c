package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"clinical-copilot/backend/internal/models"
	"clinical-copilot/backend/pkg/config"
	"clinical-copilot/backend/pkg/di"
	"clinical-copilot/backend/pkg/logger"
	"clinical-copilot/backend/pkg/router"
	"clinical-copilot/backend/pkg/secrets"
	"clinical-copilot/backend/shared/observability"
)

func main() {
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file found")
	}

	cfg := config.New()

	log := logger.New(logger.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.Format == "json",
	})
	logger.SetGlobal(log)

	log.Info("Starting session engine", "env", cfg.Server.Env)

	// Secrets from Vault override plain environment configuration
	if err := secrets.Init(log); err != nil {
		log.LogError(err, "Failed to initialize secrets manager, using environment only")
	} else {
		ctx := context.Background()
		cfg.Guardrail.APIKey = secrets.GetSecretWithDefault(ctx, secrets.KeyGuardrailAPIKey, cfg.Guardrail.APIKey)
		cfg.Database.Password = secrets.GetSecretWithDefault(ctx, secrets.KeyDBPassword, cfg.Database.Password)
		cfg.JWT.Secret = secrets.GetSecretWithDefault(ctx, secrets.KeyJWTSecret, cfg.JWT.Secret)
	}

	// Observability: tracing to stdout, metrics on :2112/metrics
	shutdownTracing := observability.SetupTracing("clinical-copilot-engine")
	defer shutdownTracing()
	meterProvider := observability.SetupPrometheusMetrics()

	// Patient directory
	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to connect to patient directory")
		os.Exit(1)
	}
	if err := db.AutoMigrate(&models.Patient{}); err != nil {
		log.LogError(err, "Failed to migrate patient directory schema")
		os.Exit(1)
	}

	container, err := di.New(cfg, db, meterProvider)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	container.Health.Start()

	// Background reaper archives sessions idle past the timeout
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	container.Manager.StartReaper(reaperCtx)

	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r.Engine,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	if err := container.Redis.Close(); err != nil {
		log.LogError(err, "Failed to close redis client")
	}

	log.Info("Server exited gracefully")
}
