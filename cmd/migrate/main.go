package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"weather-pipeline/internal/config"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

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

	logger := logging.NewStructuredLogger("weather-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()

	db, err := database.Open(cfg.DatabaseOptions(), logger, metrics.NewCollectorWithRegistry("weather_migrate", prometheus.NewRegistry()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database successfully\n", cfg.Database.Driver)

	ctx := context.Background()
	switch *direction {
	case "up":
		err = db.EnsureSchema(ctx)
	case "down":
		err = db.DropSchema(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown direction %q: expected up or down\n", *direction)
		os.Exit(2)
	}

	fmt.Printf("Running migration: %s (%s)\n", *direction, cfg.Database.Driver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
