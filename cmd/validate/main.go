package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/logging"
)

// Dry run of an ingestion: parses every station file without a database.
func main() {
	dataDir := flag.String("data-dir", "wx_data", "Directory containing weather station files")
	showYears := flag.Bool("years", false, "Print per year aggregates for each station")
	flag.Parse()

	logger := logging.NewStructuredLogger("weather-validate", "1.0.0", logging.InfoLevel)
	ctx := context.Background()

	if err := services.ValidateDirectory(*dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	files, err := filepath.Glob(filepath.Join(*dataDir, "*.txt"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading directory: %v\n", err)
		os.Exit(1)
	}
	sort.Strings(files)

	rule := strings.Repeat("=", 80)
	fmt.Println(rule)
	fmt.Println("WEATHER DATA VALIDATION")
	fmt.Println(rule)
	fmt.Printf("Found %d weather station files in %s\n\n", len(files), *dataDir)

	var total fileReport
	failed := 0
	for _, path := range files {
		report, err := scanFile(path)
		if err != nil {
			failed++
			logger.Error(ctx, "Failed to scan file", logging.Fields{
				"file": path,
			}, err)
			continue
		}

		fmt.Printf("%-20s station=%-12s lines=%-7d valid=%-7d malformed=%-5d duplicate=%-5d missing=%d\n",
			report.File, report.StationID, report.Lines, report.Valid, report.Malformed, report.Duplicate, report.Missing)

		if *showYears {
			printYears(report)
		}

		total.Lines += report.Lines
		total.Valid += report.Valid
		total.Malformed += report.Malformed
		total.Duplicate += report.Duplicate
		total.Missing += report.Missing
	}

	fmt.Println()
	fmt.Println(rule)
	fmt.Println("SUMMARY")
	fmt.Println(rule)
	fmt.Printf("Total files:        %d\n", len(files))
	fmt.Printf("Unreadable files:   %d\n", failed)
	fmt.Printf("Total lines:        %d\n", total.Lines)
	fmt.Printf("Valid records:      %d\n", total.Valid)
	fmt.Printf("Malformed lines:    %d\n", total.Malformed)
	fmt.Printf("Duplicate dates:    %d\n", total.Duplicate)
	fmt.Printf("Missing values:     %d\n", total.Missing)
	if total.Lines > 0 {
		fmt.Printf("Success rate:       %.2f%%\n", float64(total.Valid)/float64(total.Lines)*100)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func printYears(report *fileReport) {
	years := make([]int, 0, len(report.Yearly))
	for y := range report.Yearly {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))

	for _, y := range years {
		t := report.Yearly[y]
		fmt.Printf("    %d  records=%-4d avg_max=%s avg_min=%s total_precip=%s\n",
			y, t.records, mean(t.maxSum, t.maxN), mean(t.minSum, t.minN), amount(t.precipSum, t.precipN))
	}
}

func mean(sum float64, n int) string {
	if n == 0 {
		return "NULL"
	}
	return fmt.Sprintf("%.2f", sum/float64(n))
}

func amount(sum float64, n int) string {
	if n == 0 {
		return "NULL"
	}
	return fmt.Sprintf("%.2f", sum)
}
