package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

const queryDateLayout = "2006-01-02"

// WeatherHandler handles weather API endpoints
type WeatherHandler struct {
	weatherService *services.WeatherService
	jobs           *services.JobRunner
	dataDir        string
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
}

// NewWeatherHandler creates a new weather handler. dataDir is the directory
// POST /api/ingest loads.
func NewWeatherHandler(
	weatherService *services.WeatherService,
	jobs *services.JobRunner,
	dataDir string,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *WeatherHandler {
	return &WeatherHandler{
		weatherService: weatherService,
		jobs:           jobs,
		dataDir:        dataDir,
		logger:         logger,
		metrics:        metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// JobAccepted is the body of a 202 response to a job trigger
type JobAccepted struct {
	Message string        `json:"message"`
	Job     *services.Job `json:"job"`
}

// GetRoot handles GET /
func (h *WeatherHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]string{"message": "Weather Data API is running"}, http.StatusOK)
}

// GetObservations handles GET /api/weather
func (h *WeatherHandler) GetObservations(w http.ResponseWriter, r *http.Request) {
	q, err := observationQuery(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	q.StationID = r.URL.Query().Get("station_id")

	page, err := h.weatherService.ListObservations(r.Context(), q)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, page, http.StatusOK)
}

// GetStationObservations handles GET /api/weather/{station_id}
func (h *WeatherHandler) GetStationObservations(w http.ResponseWriter, r *http.Request) {
	q, err := observationQuery(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	page, err := h.weatherService.ListStationObservations(r.Context(), mux.Vars(r)["station_id"], q)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, page, http.StatusOK)
}

// GetStatistics handles GET /api/weather/stats
func (h *WeatherHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	q, err := statisticsQuery(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	q.StationID = r.URL.Query().Get("station_id")

	page, err := h.weatherService.ListStatistics(r.Context(), q)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, page, http.StatusOK)
}

// GetStationStatistics handles GET /api/weather/stats/{station_id}
func (h *WeatherHandler) GetStationStatistics(w http.ResponseWriter, r *http.Request) {
	q, err := statisticsQuery(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	page, err := h.weatherService.ListStationStatistics(r.Context(), mux.Vars(r)["station_id"], q)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, page, http.StatusOK)
}

// GetStations handles GET /api/stations
func (h *WeatherHandler) GetStations(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize, err := pageParams(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	page, err := h.weatherService.ListStations(r.Context(), pageNum, pageSize)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, page, http.StatusOK)
}

// StartIngestion handles POST /api/ingest
func (h *WeatherHandler) StartIngestion(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.StartIngest(r.Context(), h.dataDir)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, JobAccepted{Message: "Data ingestion started in background", Job: job}, http.StatusAccepted)
}

// StartStatistics handles POST /api/calculate-stats
func (h *WeatherHandler) StartStatistics(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.StartStatistics(r.Context())
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, JobAccepted{Message: "Statistics calculation started in background", Job: job}, http.StatusAccepted)
}

// GetJob handles GET /api/jobs/{job_id}
func (h *WeatherHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(mux.Vars(r)["job_id"])
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, job, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *WeatherHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"database":  "up",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if err := h.weatherService.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK] Database unreachable", logging.Fields{
			"error": err.Error(),
		})
		status["status"] = "unhealthy"
		status["database"] = "down"
		code = http.StatusServiceUnavailable
	}

	h.sendJSON(w, status, code)
}

func observationQuery(r *http.Request) (services.ObservationQuery, error) {
	var q services.ObservationQuery

	pageNum, pageSize, err := pageParams(r)
	if err != nil {
		return q, err
	}
	q.Page, q.PageSize = pageNum, pageSize

	if q.From, err = dateParam(r, "date_from"); err != nil {
		return q, err
	}
	if q.To, err = dateParam(r, "date_to"); err != nil {
		return q, err
	}
	return q, nil
}

func statisticsQuery(r *http.Request) (services.StatisticsQuery, error) {
	var q services.StatisticsQuery

	pageNum, pageSize, err := pageParams(r)
	if err != nil {
		return q, err
	}
	q.Page, q.PageSize = pageNum, pageSize

	if raw := r.URL.Query().Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return q, &models.ValidationError{Field: "year", Value: raw, Message: "year must be an integer"}
		}
		q.Year = &year
	}
	return q, nil
}

// pageParams reads page and page_size; absent values come back as zero so
// the service applies its defaults.
func pageParams(r *http.Request) (int, int, error) {
	page, err := intParam(r, "page")
	if err != nil {
		return 0, 0, err
	}
	size, err := intParam(r, "page_size")
	if err != nil {
		return 0, 0, err
	}
	if page == 0 && r.URL.Query().Get("page") != "" {
		return 0, 0, &models.ValidationError{Field: "page", Value: "0", Message: "page must be greater than or equal to 1"}
	}
	if size == 0 && r.URL.Query().Get("page_size") != "" {
		return 0, 0, &models.ValidationError{Field: "page_size", Value: "0", Message: "page_size must be between 1 and " + strconv.Itoa(models.MaxPageSize)}
	}
	return page, size, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &models.ValidationError{Field: name, Value: raw, Message: name + " must be an integer"}
	}
	return n, nil
}

func dateParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(queryDateLayout, raw)
	if err != nil {
		return nil, &models.ValidationError{Field: name, Value: raw, Message: "invalid " + name + " format, expected YYYY-MM-DD"}
	}
	return &t, nil
}

// sendJSON sends a JSON response
func (h *WeatherHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError maps err to a status code and writes an ErrorResponse.
func (h *WeatherHandler) sendError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *models.ValidationError
		notFoundErr   *models.NotFoundError
		statusCode    int
		errorType     string
	)

	switch {
	case errors.As(err, &validationErr):
		statusCode, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, services.ErrInvalidDirectory):
		statusCode, errorType = http.StatusBadRequest, "invalid_directory"
	case errors.As(err, &notFoundErr):
		statusCode, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrJobInProgress):
		statusCode, errorType = http.StatusConflict, "job_in_progress"
	default:
		statusCode, errorType = http.StatusInternalServerError, "internal_error"
	}

	message := err.Error()
	if statusCode == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "[API_ERROR] Request failed", logging.Fields{
			"path":   r.URL.Path,
			"method": r.Method,
		}, err)
		message = "internal server error"
	}

	h.metrics.RecordAPIError(errorType, routeTemplate(r))
	h.sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// RegisterRoutes registers all weather API routes
func (h *WeatherHandler) RegisterRoutes(router *mux.Router) {
	router.Use(RequestID, Instrument(h.metrics))

	router.HandleFunc("/", h.GetRoot).Methods("GET")
	// Statistics routes come first so "stats" is not captured as a station id.
	router.HandleFunc("/api/weather/stats", h.GetStatistics).Methods("GET")
	router.HandleFunc("/api/weather/stats/{station_id}", h.GetStationStatistics).Methods("GET")
	router.HandleFunc("/api/weather", h.GetObservations).Methods("GET")
	router.HandleFunc("/api/weather/{station_id}", h.GetStationObservations).Methods("GET")
	router.HandleFunc("/api/stations", h.GetStations).Methods("GET")
	router.HandleFunc("/api/ingest", h.StartIngestion).Methods("POST")
	router.HandleFunc("/api/calculate-stats", h.StartStatistics).Methods("POST")
	router.HandleFunc("/api/jobs/{job_id}", h.GetJob).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
