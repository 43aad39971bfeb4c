package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"weather-pipeline/internal/models"
)

// fileReport counts what an ingestion run would do with one station file.
type fileReport struct {
	File      string
	StationID string
	Lines     int
	Valid     int
	Malformed int
	Duplicate int
	Missing   int
	Yearly    map[int]*yearTotals
}

type yearTotals struct {
	maxSum, minSum, precipSum float64
	maxN, minN, precipN       int
	records                   int
}

func (y *yearTotals) add(obs *models.Observation) {
	y.records++
	if obs.MaxTempCelsius != nil {
		y.maxSum += *obs.MaxTempCelsius
		y.maxN++
	}
	if obs.MinTempCelsius != nil {
		y.minSum += *obs.MinTempCelsius
		y.minN++
	}
	if obs.PrecipitationCm != nil {
		y.precipSum += *obs.PrecipitationCm
		y.precipN++
	}
}

func scanFile(path string) (*fileReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	report := &fileReport{
		File:      name,
		StationID: models.StationIDFromFileName(name),
		Yearly:    make(map[int]*yearTotals),
	}
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		report.Lines++

		obs, ok := models.ParseLine(report.StationID, line)
		if !ok {
			report.Malformed++
			continue
		}

		key := models.DateKey(obs.RecordDate)
		if _, dup := seen[key]; dup {
			report.Duplicate++
			continue
		}
		seen[key] = struct{}{}
		report.Valid++

		for _, v := range []*float64{obs.MaxTempCelsius, obs.MinTempCelsius, obs.PrecipitationCm} {
			if v == nil {
				report.Missing++
			}
		}

		year := obs.RecordDate.Year()
		totals, ok := report.Yearly[year]
		if !ok {
			totals = &yearTotals{}
			report.Yearly[year] = totals
		}
		totals.add(obs)
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("failed to read file: %w", err)
	}

	return report, nil
}
