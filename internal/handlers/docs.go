package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type object = map[string]interface{}

func queryParam(name, description, typ string) object {
	schema := object{"type": typ}
	if typ == "date" {
		schema = object{"type": "string", "format": "date"}
	}
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

func pathParam(name, description string) object {
	return object{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      object{"type": "string"},
	}
}

func pagingParams() []object {
	return []object{
		{
			"name":        "page",
			"in":          "query",
			"description": "Page number (default: 1)",
			"required":    false,
			"schema":      object{"type": "integer", "default": 1, "minimum": 1},
		},
		{
			"name":        "page_size",
			"in":          "query",
			"description": "Records per page (default: 100, max: 1000)",
			"required":    false,
			"schema":      object{"type": "integer", "default": 100, "minimum": 1, "maximum": 1000},
		},
	}
}

func ref(name string) object {
	return object{"$ref": "#/components/schemas/" + name}
}

func jsonResponse(description string, schema object) object {
	return object{
		"description": description,
		"content": object{
			"application/json": object{"schema": schema},
		},
	}
}

func pageOf(item string) object {
	return object{
		"type": "object",
		"properties": object{
			"total":     object{"type": "integer"},
			"page":      object{"type": "integer"},
			"page_size": object{"type": "integer"},
			"items":     object{"type": "array", "items": ref(item)},
		},
	}
}

func getOp(summary, description string, params []object, ok object, errorCodes ...string) object {
	responses := object{"200": ok}
	for _, code := range errorCodes {
		responses[code] = jsonResponse(statusText(code), ref("Error"))
	}
	op := object{
		"summary":     summary,
		"description": description,
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return object{"get": op}
}

func statusText(code string) string {
	n, _ := strconv.Atoi(code)
	return http.StatusText(n)
}

func jobTrigger(summary, description string, errorCodes ...string) object {
	responses := object{"202": jsonResponse("Job accepted", ref("JobAccepted"))}
	for _, code := range errorCodes {
		responses[code] = jsonResponse(statusText(code), ref("Error"))
	}
	return object{
		"post": object{
			"summary":     summary,
			"description": description,
			"responses":   responses,
		},
	}
}

func openAPIDocument() object {
	nullableNumber := object{"type": "number", "nullable": true}

	observationFilters := append([]object{
		queryParam("date_from", "Inclusive lower bound (YYYY-MM-DD)", "date"),
		queryParam("date_to", "Inclusive upper bound (YYYY-MM-DD)", "date"),
	}, pagingParams()...)
	statisticsFilters := append([]object{
		queryParam("year", "Filter by calendar year", "integer"),
	}, pagingParams()...)

	return object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Weather Data API",
			"description": "Historical weather observations and yearly statistics per station",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/weather": getOp("List observations", "Observations ordered by date descending",
				append([]object{queryParam("station_id", "Filter by weather station ID", "string")}, observationFilters...),
				jsonResponse("Page of observations", pageOf("Observation")), "400"),
			"/api/weather/{station_id}": getOp("List station observations", "Observations of one station",
				append([]object{pathParam("station_id", "Weather station ID")}, observationFilters...),
				jsonResponse("Page of observations", pageOf("Observation")), "400", "404"),
			"/api/weather/stats": getOp("List yearly statistics", "Statistics ordered by year descending, then station",
				append([]object{queryParam("station_id", "Filter by weather station ID", "string")}, statisticsFilters...),
				jsonResponse("Page of statistics", pageOf("YearlyStatistic")), "400"),
			"/api/weather/stats/{station_id}": getOp("List station statistics", "Yearly statistics of one station",
				append([]object{pathParam("station_id", "Weather station ID")}, statisticsFilters...),
				jsonResponse("Page of statistics", pageOf("YearlyStatistic")), "400", "404"),
			"/api/stations": getOp("List stations", "Registered stations ordered by id",
				pagingParams(), jsonResponse("Page of stations", pageOf("Station")), "400"),
			"/api/ingest": jobTrigger("Start ingestion",
				"Loads every station file of the configured data directory in the background", "400", "409"),
			"/api/calculate-stats": jobTrigger("Start statistics rebuild",
				"Replaces all yearly statistics in the background", "409"),
			"/api/jobs/{job_id}": getOp("Get job", "Status of a background job",
				[]object{pathParam("job_id", "Job ID")}, jsonResponse("Job status", ref("Job")), "404"),
			"/health": getOp("Health check", "Checks the API and its database", nil,
				jsonResponse("API is healthy", object{
					"type": "object",
					"properties": object{
						"status":    object{"type": "string"},
						"database":  object{"type": "string"},
						"timestamp": object{"type": "string", "format": "date-time"},
					},
				}), "503"),
			"/metrics": object{
				"get": object{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": object{
						"200": object{
							"description": "Prometheus metrics in text format",
							"content": object{
								"text/plain": object{"schema": object{"type": "string"}},
							},
						},
					},
				},
			},
		},
		"components": object{
			"schemas": object{
				"Observation": object{
					"type": "object",
					"properties": object{
						"station_id":       object{"type": "string"},
						"record_date":      object{"type": "string", "format": "date"},
						"max_temp_celsius": nullableNumber,
						"min_temp_celsius": nullableNumber,
						"precipitation_cm": nullableNumber,
					},
				},
				"YearlyStatistic": object{
					"type": "object",
					"properties": object{
						"station_id":             object{"type": "string"},
						"year":                   object{"type": "integer"},
						"avg_max_temp_celsius":   nullableNumber,
						"avg_min_temp_celsius":   nullableNumber,
						"total_precipitation_cm": nullableNumber,
						"record_count":           object{"type": "integer"},
					},
				},
				"Station": object{
					"type":       "object",
					"properties": object{"station_id": object{"type": "string"}},
				},
				"Job": object{
					"type": "object",
					"properties": object{
						"job_id":             object{"type": "string", "format": "uuid"},
						"kind":               object{"type": "string", "enum": []string{"ingest", "calculate_stats"}},
						"status":             object{"type": "string", "enum": []string{"running", "succeeded", "failed"}},
						"started_at":         object{"type": "string", "format": "date-time"},
						"finished_at":        object{"type": "string", "format": "date-time"},
						"error":              object{"type": "string"},
						"files_total":        object{"type": "integer"},
						"files_failed":       object{"type": "integer"},
						"records_processed":  object{"type": "integer"},
						"records_inserted":   object{"type": "integer"},
						"statistics_written": object{"type": "integer"},
					},
				},
				"JobAccepted": object{
					"type": "object",
					"properties": object{
						"message": object{"type": "string"},
						"job":     ref("Job"),
					},
				},
				"Error": object{
					"type": "object",
					"properties": object{
						"error":   object{"type": "string"},
						"message": object{"type": "string"},
						"code":    object{"type": "integer"},
					},
				},
			},
		},
	}
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the Weather Data API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(openAPIDocument())
}
