package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/medtriage/pkg/audio"
	"github.com/synaptica-ai/medtriage/pkg/common/config"
	"github.com/synaptica-ai/medtriage/pkg/common/database"
	"github.com/synaptica-ai/medtriage/pkg/common/kafka"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/gateway/middleware"
	"github.com/synaptica-ai/medtriage/pkg/intake"
	"github.com/synaptica-ai/medtriage/pkg/observability/metrics"
	"github.com/synaptica-ai/medtriage/pkg/pipeline"
	"github.com/synaptica-ai/medtriage/pkg/store"
)

func main() {
	logger.Init("triage-service")
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	pgReports := store.NewPostgresReportStore(db)
	if err := pgReports.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate report table")
	}
	pgSessions := store.NewPostgresSessionStore(db)
	if err := pgSessions.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate session table")
	}

	redisClient := database.GetRedis(cfg)
	defer database.CloseRedis()

	reports := store.NewCachedReportStore(
		store.NewRetryingReportStore(pgReports, cfg.StorageRetryAttempts, cfg.StorageRetryDelay),
		redisClient,
		cfg.ReportCacheTTL,
	)
	sessions := store.NewRetryingSessionStore(pgSessions, cfg.StorageRetryAttempts, cfg.StorageRetryDelay)

	producer := kafka.NewProducer(cfg, "triage-service")
	defer producer.Close()

	orch, err := pipeline.FromConfig(cfg, pipeline.Backends{
		Reports:   reports,
		Sessions:  sessions,
		Publisher: producer,
	})
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to build pipeline")
	}
	pool := pipeline.NewPool(orch, cfg.PipelineWorkers, cfg.PipelineQueueSize)

	validator := audio.NewValidator(cfg.UploadMaxBytes, cfg.UploadAllowedFormats)
	handler := intake.NewHTTPHandler(pool, validator, reports, sessions)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS(cfg.CORSAllowedOrigin))
	router.Use(middleware.RateLimit(cfg.GatewayRateLimitRPS, cfg.GatewayRateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"postgres": "ok", "redis": "ok"}
		code := http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status["postgres"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
		// the cache falls back to postgres, so redis only degrades readiness
		if err := redisClient.Ping(ctx).Err(); err != nil {
			status["redis"] = "degraded"
		}
		running, queued := pool.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"dependencies": status,
			"running":      running,
			"queued":       queued,
		})
	}).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"workers": cfg.PipelineWorkers,
		}).Info("Triage Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Triage Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}
	// Queued sessions are drained until the deadline, then cancelled and
	// recorded as failed.
	if err := pool.Close(shutdownCtx); err != nil {
		logger.Log.WithError(err).Warn("pipeline pool did not drain before deadline")
	}

	logger.Log.Info("Triage Service stopped")
}
