package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Prometheus metrics
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starlake_etl_runs_total",
		Help: "Total number of successful ETL runs",
	})

	runErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starlake_etl_run_errors_total",
		Help: "Total number of failed ETL runs",
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starlake_etl_stage_duration_seconds",
		Help:    "Duration of ETL stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	rowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starlake_etl_rows_written_total",
		Help: "Total number of rows written per output table",
	}, []string{"table"})

	lastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "starlake_etl_last_run_timestamp_seconds",
		Help: "Completion time of the last successful run",
	})
)

// HealthServer manages the HTTP health and metrics endpoints
type HealthServer struct {
	transformer *Transformer
	port        string
	startTime   time.Time
}

// NewHealthServer creates a new health server
func NewHealthServer(transformer *Transformer, port string) *HealthServer {
	return &HealthServer{
		transformer: transformer,
		port:        port,
		startTime:   time.Now(),
	}
}

// Start starts the health and metrics HTTP server
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/live", h.handleLive)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + h.port
	log.Printf("🏥 Health server listening on %s", addr)

	return http.ListenAndServe(addr, mux)
}

// handleHealth returns detailed health information
func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.transformer.GetStats()

	health := map[string]interface{}{
		"status":         "healthy",
		"service":        h.transformer.config.Service.Name,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"stats": map[string]interface{}{
			"runs_total":                stats.RunsTotal,
			"run_errors":                stats.RunErrors,
			"last_run_id":               stats.LastRunID,
			"last_run_time":             stats.LastRunTime,
			"last_run_duration_seconds": stats.LastRunDuration.Seconds(),
			"rows_written":              stats.RowsWritten,
		},
		"config": map[string]interface{}{
			"input_path":  h.transformer.config.Storage.InputPath,
			"output_path": h.transformer.config.Storage.OutputPath,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleReady returns readiness status (for k8s)
func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ready")
}

// handleLive returns liveness status (for k8s)
func (h *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "live")
}
