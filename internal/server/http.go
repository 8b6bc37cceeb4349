package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eefei22/well-bot-EmotionRecognition/internal/aggregate"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/config"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/inference"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/metrics"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/queue"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/session"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/store"
)

// HTTPServer provides the service's HTTP API
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	queue      *queue.Manager
	sessions   *session.Tracker
	aggregator *aggregate.Aggregator
	store      *store.Store
	inference  *inference.Client
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server. The store may be nil when
// persistence is disabled.
func NewHTTPServer(logger *slog.Logger, cfg *config.Config, queueMgr *queue.Manager,
	sessions *session.Tracker, aggregator *aggregate.Aggregator, resultStore *store.Store,
	inferenceClient *inference.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		queue:      queueMgr,
		sessions:   sessions,
		aggregator: aggregator,
		store:      resultStore,
		inference:  inferenceClient,
		metrics:    m,
		startTime:  time.Now(),
	}

	router := mux.NewRouter()
	h.setupRoutes(router)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(router *mux.Router) {
	// Ingestion and fusion read path
	router.HandleFunc("/ser/analyze-speech", h.withMetrics("/ser/analyze-speech", h.handleAnalyzeSpeech)).Methods(http.MethodPost)
	router.HandleFunc("/ser/predict", h.withMetrics("/ser/predict", h.handlePredict)).Methods(http.MethodPost)

	// Session monitoring and management
	router.HandleFunc("/ser/sessions/{user_id}", h.withMetrics("/ser/sessions/{user_id}", h.handleSessions)).Methods(http.MethodGet)
	router.HandleFunc("/ser/sessions/{user_id}", h.withMetrics("/ser/sessions/{user_id}", h.handleClearSessions)).Methods(http.MethodDelete)

	// Queue and result monitoring
	router.HandleFunc("/ser/queue", h.withMetrics("/ser/queue", h.handleQueue)).Methods(http.MethodGet)
	router.HandleFunc("/ser/results", h.withMetrics("/ser/results", h.handleResults)).Methods(http.MethodGet)
	router.HandleFunc("/ser/aggregates", h.withMetrics("/ser/aggregates", h.handleAggregates)).Methods(http.MethodGet)

	// Aggregation interval control
	router.HandleFunc("/ser/aggregation-interval", h.withMetrics("/ser/aggregation-interval", h.handleGetInterval)).Methods(http.MethodGet)
	router.HandleFunc("/ser/aggregation-interval", h.withMetrics("/ser/aggregation-interval", h.handleSetInterval)).Methods(http.MethodPut)

	// Service endpoints
	router.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats)).Methods(http.MethodGet)
	router.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// writeJSON encodes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleAnalyzeSpeech implements POST /ser/analyze-speech: accepts one
// audio chunk as multipart form data and enqueues it for inference. The
// request returns as soon as the job is queued.
func (h *HTTPServer) handleAnalyzeSpeech(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.config.Server.MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := uuid.Validate(userID); err != nil {
		writeError(w, http.StatusBadRequest, "user_id must be a valid UUID")
		return
	}

	// Chunk capture time defaults to arrival time
	timestamp := time.Now()
	if ts := r.FormValue("timestamp"); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be RFC3339")
			return
		}
		timestamp = parsed
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".wav") {
		writeError(w, http.StatusBadRequest, "only .wav audio is supported")
		return
	}

	audioPath, err := h.saveUpload(file)
	if err != nil {
		h.logger.Error("Failed to save uploaded chunk",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store audio chunk")
		return
	}

	job := h.queue.Enqueue(userID, timestamp, audioPath)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":       job.ID,
		"user_id":      userID,
		"timestamp":    timestamp.UTC(),
		"status":       job.Status,
		"queue_length": h.queue.QueueLength(),
	})
}

// saveUpload writes the uploaded chunk to the upload directory under a
// fresh name and returns its path.
func (h *HTTPServer) saveUpload(file io.Reader) (string, error) {
	if err := os.MkdirAll(h.config.Server.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(h.config.Server.UploadDir, uuid.NewString()+".wav")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}

	return path, nil
}

// handlePredict implements POST /ser/predict: the fusion service's
// windowed read. The JSON body names the user, the snapshot time and the
// window length; results in [snapshot-window, snapshot] are returned
// sorted by timestamp. The clear query param defaults to true so each
// chunk is consumed once.
func (h *HTTPServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID            string `json:"user_id"`
		SnapshotTimestamp string `json:"snapshot_timestamp"`
		WindowSeconds     int    `json:"window_seconds"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	end := time.Now()
	if body.SnapshotTimestamp != "" {
		parsed, err := time.Parse(time.RFC3339, body.SnapshotTimestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "snapshot_timestamp must be RFC3339")
			return
		}
		end = parsed
	}

	window := h.aggregator.Interval()
	if body.WindowSeconds != 0 {
		if body.WindowSeconds < 0 {
			writeError(w, http.StatusBadRequest, "window_seconds must be positive")
			return
		}
		window = time.Duration(body.WindowSeconds) * time.Second
	}
	start := end.Add(-window)

	clearWindow := true
	if v := r.URL.Query().Get("clear"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "clear must be a boolean")
			return
		}
		clearWindow = parsed
	}

	results := h.sessions.ResultsInWindow(body.UserID, start, end, clearWindow)

	if h.metrics != nil {
		h.metrics.RecordPredictQuery(clearWindow)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      body.UserID,
		"window_start": start.UTC(),
		"window_end":   end.UTC(),
		"cleared":      clearWindow,
		"count":        len(results),
		"results":      results,
	})
}

// handleSessions implements GET /ser/sessions/{user_id}
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	infos := h.sessions.AllSessions(userID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"count":    len(infos),
		"sessions": infos,
	})
}

// handleClearSessions implements DELETE /ser/sessions/{user_id}
func (h *HTTPServer) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	h.sessions.ClearUser(userID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"cleared": true,
	})
}

// handleQueue implements GET /ser/queue
func (h *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	stats := h.queue.GetStats()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":          stats,
		"pending":        h.queue.PendingJobs(),
		"recent_results": h.queue.Recent(limit),
	})
}

// handleResults implements GET /ser/results over the durable store
func (h *HTTPServer) handleResults(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "result persistence is disabled")
		return
	}

	userID := r.URL.Query().Get("user_id")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	rows, err := h.store.RecentResults(userID, limit)
	if err != nil {
		h.logger.Error("Failed to query persisted results", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to query results")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(rows),
		"results": rows,
	})
}

// handleAggregates implements GET /ser/aggregates
func (h *HTTPServer) handleAggregates(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records := h.aggregator.Recent(limit, userID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(records),
		"aggregates": records,
	})
}

// handleGetInterval implements GET /ser/aggregation-interval
func (h *HTTPServer) handleGetInterval(w http.ResponseWriter, r *http.Request) {
	min, max := h.aggregator.IntervalBounds()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interval_seconds": int(h.aggregator.Interval().Seconds()),
		"min_seconds":      int(min.Seconds()),
		"max_seconds":      int(max.Seconds()),
	})
}

// handleSetInterval implements PUT /ser/aggregation-interval
func (h *HTTPServer) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IntervalSeconds int `json:"interval_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.aggregator.SetInterval(time.Duration(body.IntervalSeconds) * time.Second); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interval_seconds": body.IntervalSeconds,
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	queueStats := h.queue.GetStats()
	inferenceStats := h.inference.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "well-bot-ser",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"queue": map[string]interface{}{
				"status":       "running",
				"queue_length": queueStats.QueueLength,
				"processed":    queueStats.TotalProcessed,
				"failed":       queueStats.TotalFailed,
			},
			"sessions": map[string]interface{}{
				"status":        "running",
				"active_users":  h.sessions.UserCount(),
				"session_count": h.sessions.SessionCount(),
			},
			"aggregator": map[string]interface{}{
				"status":   "running",
				"interval": h.aggregator.Interval().String(),
			},
			"inference": map[string]interface{}{
				"status":          "running",
				"total_requests":  inferenceStats.TotalRequests,
				"success_rate":    inferenceStats.SuccessRate,
				"active_requests": inferenceStats.ActiveRequests,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":      time.Since(h.startTime).String(),
		"timestamp":   time.Now().UTC(),
		"queue":       h.queue.GetStats(),
		"aggregation": h.aggregator.GetStats(),
		"inference":   h.inference.GetStats(),
		"sessions": map[string]interface{}{
			"active_users":  h.sessions.UserCount(),
			"session_count": h.sessions.SessionCount(),
		},
	}

	if h.store != nil {
		if count, err := h.store.CountResults(); err == nil {
			stats["storage"] = map[string]interface{}{
				"persisted_results": count,
			}
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":            h.config.Server.Port,
			"address":         h.config.Server.Address,
			"upload_dir":      h.config.Server.UploadDir,
			"max_upload_size": h.config.Server.MaxUploadSize,
		},
		"queue": map[string]interface{}{
			"max_recent_results": h.config.Queue.MaxRecentResults,
			"stop_timeout":       h.config.Queue.StopTimeout,
		},
		"session": map[string]interface{}{
			"gap_threshold": h.config.Session.GapThreshold,
		},
		"aggregation": map[string]interface{}{
			"window":     int(h.aggregator.Interval().Seconds()),
			"min_window": h.config.Aggregation.MinWindow,
			"max_window": h.config.Aggregation.MaxWindow,
			"log_path":   h.config.Aggregation.LogPath,
			"max_recent": h.config.Aggregation.MaxRecent,
		},
		"inference": map[string]interface{}{
			"endpoint":       h.config.Inference.Endpoint,
			"timeout":        h.config.Inference.Timeout,
			"max_retries":    h.config.Inference.MaxRetries,
			"max_concurrent": h.config.Inference.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"storage": map[string]interface{}{
			"driver": h.config.Storage.Driver,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Well-Bot Speech Emotion Recognition Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                             "API documentation",
			"POST /ser/analyze-speech":          "Enqueue an audio chunk for emotion analysis",
			"POST /ser/predict":                 "Windowed read of chunk results (fusion)",
			"GET /ser/sessions/{user_id}":       "List a user's sessions",
			"DELETE /ser/sessions/{user_id}":    "Clear a user's sessions",
			"GET /ser/queue":                    "Queue state and recent results",
			"GET /ser/results":                  "Persisted chunk results",
			"GET /ser/aggregates":               "Recent aggregated records",
			"GET /ser/aggregation-interval":     "Current aggregation interval",
			"PUT /ser/aggregation-interval":     "Update aggregation interval",
			"GET /health":                       "Service health check",
			"GET /stats":                        "Service statistics",
			"GET /config":                       "Service configuration",
			"GET /metrics":                      "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
