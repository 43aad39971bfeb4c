package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"weather-pipeline/internal/config"
	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags override the environment
	dataDir := flag.String("data-dir", cfg.Ingestion.DataDir, "Directory containing weather station files")
	batchSize := flag.Int("batch-size", cfg.Ingestion.BatchSize, "Rows buffered per insert transaction")
	workers := flag.Int("workers", cfg.Ingestion.Workers, "Concurrent file tasks (0 = one per CPU)")
	calculateStats := flag.Bool("calculate-stats", false, "Recompute yearly statistics after ingestion")
	flag.Parse()

	cfg.Ingestion.BatchSize = *batchSize
	cfg.Ingestion.Workers = *workers
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("weather-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[INGESTER_START] Starting weather data ingestion", logging.Fields{
		"version":         "1.0.0",
		"data_dir":        *dataDir,
		"batch_size":      *batchSize,
		"workers":         *workers,
		"calculate_stats": *calculateStats,
	})

	metricsCollector := metrics.NewCollector("weather_ingester")

	db, err := database.Open(cfg.DatabaseOptions(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to create schema", logging.Fields{}, err)
	}

	weatherRepo := repository.NewWeatherRepository(db, logger, metricsCollector)
	ingestionService := services.NewIngestionService(weatherRepo, logger, metricsCollector, services.IngestionOptions{
		BatchSize: *batchSize,
		Workers:   *workers,
	})
	statsService := services.NewStatisticsService(weatherRepo, logger, metricsCollector, cfg.Statistics.BatchSize)

	result, err := ingestionService.Ingest(ctx, *dataDir)
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"data_dir": *dataDir,
		}, err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Files:        %d\n", result.TotalFiles)
	fmt.Printf("Failed Files:       %d\n", result.FailedFiles)
	fmt.Printf("Records Processed:  %d\n", result.Processed)
	fmt.Printf("Records Inserted:   %d\n", result.Inserted)
	fmt.Printf("Duration:           %v\n", result.Duration)
	if secs := result.Duration.Seconds(); secs > 0 {
		fmt.Printf("Records/Second:     %.2f\n", float64(result.Inserted)/secs)
	}

	exitCode := 0
	if *calculateStats {
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Println("CALCULATING STATISTICS")
		fmt.Println(strings.Repeat("=", 80))

		written, err := statsService.RecomputeStatistics(ctx)
		if err != nil {
			logger.Error(ctx, "[STATS_ERROR] Statistics calculation failed", logging.Fields{
				"written": written,
			}, err)
			fmt.Printf("Statistics calculation failed after %d rows: %v\n", written, err)
			exitCode = 1
		} else {
			fmt.Printf("Statistics Written: %d\n", written)
		}
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion finished", logging.Fields{
		"total_files":      result.TotalFiles,
		"failed_files":     result.FailedFiles,
		"processed":        result.Processed,
		"inserted":         result.Inserted,
		"duration_seconds": result.Duration.Seconds(),
	})

	if exitCode != 0 {
		db.Close()
		os.Exit(exitCode)
	}
}
