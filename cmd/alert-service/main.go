package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/medtriage/pkg/alerting"
	"github.com/synaptica-ai/medtriage/pkg/common/config"
	"github.com/synaptica-ai/medtriage/pkg/common/kafka"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/observability/metrics"
)

func main() {
	logger.Init("alert-service")
	cfg := config.Load()

	consumer := kafka.NewConsumer(cfg, cfg.KafkaGroupID+"-alerts")
	defer consumer.Close()

	handler := &alerting.Handler{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Consume(ctx, handler.Handle); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	port := os.Getenv("ALERT_SERVICE_PORT")
	if port == "" {
		port = "8082"
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  port,
			"topic": cfg.TriageEventsTopic,
		}).Info("Alert Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Alert Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Alert Service stopped")
}
