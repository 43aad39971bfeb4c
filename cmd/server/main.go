package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weather-pipeline/internal/config"
	"weather-pipeline/internal/handlers"
	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("weather-api", version, logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting weather API server", logging.Fields{
		"version":     version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_driver":   cfg.Database.Driver,
		"db_host":     cfg.Database.Host,
		"db_name":     cfg.Database.Database,
		"data_dir":    cfg.Ingestion.DataDir,
	})

	metricsCollector := metrics.NewCollector("weather_pipeline")

	db, err := database.Open(cfg.DatabaseOptions(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to create schema", logging.Fields{}, err)
	}

	weatherRepo := repository.NewWeatherRepository(db, logger, metricsCollector)

	weatherService := services.NewWeatherService(weatherRepo, logger, metricsCollector)
	ingestionService := services.NewIngestionService(weatherRepo, logger, metricsCollector, services.IngestionOptions{
		BatchSize: cfg.Ingestion.BatchSize,
		Workers:   cfg.Ingestion.Workers,
	})
	statsService := services.NewStatisticsService(weatherRepo, logger, metricsCollector, cfg.Statistics.BatchSize)
	jobs := services.NewJobRunner(ingestionService, statsService, logger, metricsCollector, nil)

	weatherHandler := handlers.NewWeatherHandler(weatherService, jobs, cfg.Ingestion.DataDir, logger, metricsCollector)

	router := mux.NewRouter()
	weatherHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{
		"timeout_seconds": cfg.ShutdownTimeout.Seconds(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	if err := jobs.Wait(shutdownCtx); err != nil {
		logger.Warn(ctx, "[SHUTDOWN] Background job still running at exit", logging.Fields{
			"error": err.Error(),
		})
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
