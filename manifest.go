package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunManifest records what one ETL run produced: row counts per output
// table and the outcome of every quality check. When a manifest
// directory is configured the manifest is written there as JSON, one
// file per run.
type RunManifest struct {
	RunID           string         `json:"run_id"`
	Service         string         `json:"service"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	Status          string         `json:"status"`
	Error           string         `json:"error,omitempty"`
	Tables          []TableCount   `json:"tables"`
	QualityChecks   []CheckOutcome `json:"quality_checks"`
}

// TableCount is one written output table and its row count
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// CheckOutcome is the manifest view of one quality check result
type CheckOutcome struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// NewRunManifest starts a manifest for a run
func NewRunManifest(runID, service string, startedAt time.Time) *RunManifest {
	return &RunManifest{
		RunID:     runID,
		Service:   service,
		StartedAt: startedAt,
		Status:    "running",
	}
}

// AddTable records a written table
func (m *RunManifest) AddTable(table string, rows int64) {
	m.Tables = append(m.Tables, TableCount{Table: table, Rows: rows})
}

// AddChecks records quality check outcomes
func (m *RunManifest) AddChecks(results []QualityCheckResult) {
	for _, r := range results {
		m.QualityChecks = append(m.QualityChecks, CheckOutcome{
			Name:    r.CheckName,
			Type:    r.CheckType,
			Passed:  r.Passed,
			Details: r.Details,
		})
	}
}

// Finish marks the run complete
func (m *RunManifest) Finish(duration time.Duration, err error) {
	m.FinishedAt = time.Now()
	m.DurationSeconds = duration.Seconds()
	if err != nil {
		m.Status = "failed"
		m.Error = err.Error()
	} else {
		m.Status = "succeeded"
	}
}

// Write stores the manifest as run-<id>.json under dir
func (m *RunManifest) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := filepath.Join(dir, "run-"+m.RunID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
