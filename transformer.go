package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamhouse/starlake-etl/transformations"
)

// Transformer orchestrates one full run of the star-schema ETL: catalog
// stage, event-log stage, then quality checks, strictly in that order.
// Every write is a blocking all-or-nothing COPY inside the engine; the
// first error aborts the run.
type Transformer struct {
	config *Config
	duckdb *DuckDBClient

	// Stats
	mu              sync.RWMutex
	runsTotal       int64
	runErrors       int64
	lastRunID       string
	lastRunTime     time.Time
	lastRunDuration time.Duration
	rowsWritten     map[string]int64
}

// TransformerStats holds run statistics for the health endpoint
type TransformerStats struct {
	RunsTotal       int64
	RunErrors       int64
	LastRunID       string
	LastRunTime     time.Time
	LastRunDuration time.Duration
	RowsWritten     map[string]int64
}

// NewTransformer creates a new transformer instance
func NewTransformer(config *Config) (*Transformer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	duckdb, err := NewDuckDBClient(&config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB client: %w", err)
	}

	log.Printf("Using input root:  %s", config.Storage.InputPath)
	log.Printf("Using output root: %s", config.Storage.OutputPath)

	return &Transformer{
		config:      config,
		duckdb:      duckdb,
		rowsWritten: make(map[string]int64),
	}, nil
}

// Run executes one full ETL run and returns its manifest
func (t *Transformer) Run(ctx context.Context) (*RunManifest, error) {
	runID := uuid.NewString()
	startTime := time.Now()
	manifest := NewRunManifest(runID, t.config.Service.Name, startTime)

	log.Printf("🚀 Starting run %s", runID)

	err := t.runStages(ctx, manifest)

	duration := time.Since(startTime)
	manifest.Finish(duration, err)
	t.updateStats(runID, duration, manifest, err)

	if err != nil {
		runErrors.Inc()
		return manifest, err
	}

	runsTotal.Inc()
	lastRunTimestamp.SetToCurrentTime()
	log.Printf("✅ Run %s complete in %v", runID, duration)
	return manifest, nil
}

func (t *Transformer) runStages(ctx context.Context, manifest *RunManifest) error {
	db := t.duckdb.DB()
	in := t.config.Storage.InputPath
	out := t.config.Storage.OutputPath

	stages := []struct {
		name string
		run  func(context.Context) ([]transformations.TableResult, error)
	}{
		{"catalog", transformations.NewCatalogTransformer(db, in, out).TransformAll},
		{"events", transformations.NewEventsTransformer(db, in, out).TransformAll},
	}

	for _, stage := range stages {
		log.Printf("🔄 Running %s stage...", stage.name)
		stageStart := time.Now()

		results, err := stage.run(ctx)
		if err != nil {
			return fmt.Errorf("%s stage failed: %w", stage.name, err)
		}

		stageDuration.WithLabelValues(stage.name).Observe(time.Since(stageStart).Seconds())
		for _, r := range results {
			rowsWrittenTotal.WithLabelValues(r.Table).Add(float64(r.Rows))
			manifest.AddTable(r.Table, r.Rows)
		}
		log.Printf("✅ %s stage complete in %v", stage.name, time.Since(stageStart))
	}

	checkStart := time.Now()
	checkResults, err := RunQualityChecks(ctx, db, out)
	manifest.AddChecks(checkResults)
	if err != nil {
		return fmt.Errorf("quality checks failed: %w", err)
	}
	stageDuration.WithLabelValues("quality").Observe(time.Since(checkStart).Seconds())

	return nil
}

// Close releases the shared DuckDB session
func (t *Transformer) Close() {
	if t.duckdb != nil {
		t.duckdb.Close()
	}
}

// GetStats returns current run statistics
func (t *Transformer) GetStats() TransformerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := make(map[string]int64, len(t.rowsWritten))
	for table, n := range t.rowsWritten {
		rows[table] = n
	}

	return TransformerStats{
		RunsTotal:       t.runsTotal,
		RunErrors:       t.runErrors,
		LastRunID:       t.lastRunID,
		LastRunTime:     t.lastRunTime,
		LastRunDuration: t.lastRunDuration,
		RowsWritten:     rows,
	}
}

func (t *Transformer) updateStats(runID string, duration time.Duration, manifest *RunManifest, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runsTotal++
	if err != nil {
		t.runErrors++
	}
	t.lastRunID = runID
	t.lastRunTime = time.Now()
	t.lastRunDuration = duration
	for _, tc := range manifest.Tables {
		t.rowsWritten[tc.Table] = tc.Rows
	}
}
