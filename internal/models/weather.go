package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// MissingValue is the sentinel the station files use for "no data".
const MissingValue = -9999

// DateLayout is the layout of the date column in station files
const DateLayout = "20060102"

const (
	temperatureScale   = 10.0  // tenths of °C
	precipitationScale = 100.0 // hundredths of cm
)

// Station represents a weather monitoring station.
// The id is derived from the station file name.
type Station struct {
	StationID string `json:"station_id" db:"station_id"`
}

// Observation is one daily reading of a station.
// NULL values are represented as nil pointers for -9999 handling.
type Observation struct {
	StationID       string    `json:"station_id" db:"station_id"`
	RecordDate      time.Time `json:"record_date" db:"record_date"`
	MaxTempCelsius  *float64  `json:"max_temp_celsius" db:"max_temp_celsius"`
	MinTempCelsius  *float64  `json:"min_temp_celsius" db:"min_temp_celsius"`
	PrecipitationCm *float64  `json:"precipitation_cm" db:"precipitation_cm"`
}

// MarshalJSON renders record_date as a calendar date.
func (o Observation) MarshalJSON() ([]byte, error) {
	type alias Observation
	return json.Marshal(struct {
		alias
		RecordDate string `json:"record_date"`
	}{
		alias:      alias(o),
		RecordDate: DateKey(o.RecordDate),
	})
}

// YearlyStatistic is the aggregate of one station over one calendar year.
type YearlyStatistic struct {
	StationID            string   `json:"station_id" db:"station_id"`
	Year                 int      `json:"year" db:"year"`
	AvgMaxTempCelsius    *float64 `json:"avg_max_temp_celsius" db:"avg_max_temp_celsius"`
	AvgMinTempCelsius    *float64 `json:"avg_min_temp_celsius" db:"avg_min_temp_celsius"`
	TotalPrecipitationCm *float64 `json:"total_precipitation_cm" db:"total_precipitation_cm"`
	RecordCount          int      `json:"record_count" db:"record_count"`
}

// RawWeatherRecord represents a single line from input data files
type RawWeatherRecord struct {
	Date                    string
	MaxTemperatureTenths    int // 0.1°C, may be -9999
	MinTemperatureTenths    int // 0.1°C, may be -9999
	PrecipitationHundredths int // 0.01cm, may be -9999
}

// StationIDFromFileName returns the part of a file name before the first dot.
func StationIDFromFileName(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// ParseRawRecord splits a tab separated line into its four raw columns.
func ParseRawRecord(line string) (*RawWeatherRecord, error) {
	parts := strings.Split(strings.TrimSpace(line), "\t")
	if len(parts) != 4 {
		return nil, &ValidationError{
			Field:   "line",
			Value:   line,
			Message: "invalid line format: expected 4 tab separated fields, got " + strconv.Itoa(len(parts)),
		}
	}

	values := make([]int, 3)
	names := [3]string{"max_temp", "min_temp", "precipitation"}
	for i, raw := range parts[1:] {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, &ValidationError{
				Field:   names[i],
				Value:   raw,
				Message: "invalid " + names[i] + ": not an integer",
			}
		}
		values[i] = v
	}

	return &RawWeatherRecord{
		Date:                    strings.TrimSpace(parts[0]),
		MaxTemperatureTenths:    values[0],
		MinTemperatureTenths:    values[1],
		PrecipitationHundredths: values[2],
	}, nil
}

// ToObservation converts RawWeatherRecord to Observation.
// Handles -9999 sentinel values and unit conversions.
func (r *RawWeatherRecord) ToObservation(stationID string) (*Observation, error) {
	date, err := time.Parse(DateLayout, r.Date)
	if err != nil {
		return nil, &ValidationError{
			Field:   "date",
			Value:   r.Date,
			Message: "invalid date format, expected YYYYMMDD",
		}
	}

	return &Observation{
		StationID:       stationID,
		RecordDate:      date,
		MaxTempCelsius:  scaled(r.MaxTemperatureTenths, temperatureScale),
		MinTempCelsius:  scaled(r.MinTemperatureTenths, temperatureScale),
		PrecipitationCm: scaled(r.PrecipitationHundredths, precipitationScale),
	}, nil
}

func scaled(raw int, scale float64) *float64 {
	if raw == MissingValue {
		return nil
	}
	v := float64(raw) / scale
	return &v
}

// ParseLine turns one station file line into an observation for stationID.
// Malformed lines report false and are meant to be dropped silently.
func ParseLine(stationID, line string) (*Observation, bool) {
	record, err := ParseRawRecord(line)
	if err != nil {
		return nil, false
	}

	obs, err := record.ToObservation(stationID)
	if err != nil {
		return nil, false
	}
	return obs, true
}

// DateKey is the canonical map key of a record date.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
