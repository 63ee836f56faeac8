package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// QualityCheck defines the interface for all data quality checks.
// Each check validates one aspect of the star schema just written.
type QualityCheck interface {
	// Name returns the unique identifier for this check
	Name() string

	// Type returns the category of check (uniqueness, consistency, completeness)
	Type() string

	// Run executes the check and returns a result
	Run(ctx context.Context) QualityCheckResult
}

// QualityCheckResult holds the outcome of a quality check
type QualityCheckResult struct {
	CheckName string    // Name of the check that was run
	CheckType string    // Type/category of check
	Passed    bool      // Whether the check passed
	Details   string    // Human-readable details about the result
	RowCount  int64     // Number of rows examined
	Dataset   string    // Output table the check ran against
	CreatedAt time.Time // When the check was performed
}

// parquetGlob addresses every file of an output table, partitioned or not
func parquetGlob(outputPath, table string) string {
	return strings.TrimSuffix(outputPath, "/") + "/" + table + "/**/*.parquet"
}

// UniqueKeyCheck verifies that a table has exactly one row per key value
type UniqueKeyCheck struct {
	db         *sql.DB
	outputPath string
	table      string
	key        string
}

func NewUniqueKeyCheck(db *sql.DB, outputPath, table, key string) *UniqueKeyCheck {
	return &UniqueKeyCheck{db: db, outputPath: outputPath, table: table, key: key}
}

func (c *UniqueKeyCheck) Name() string {
	return c.table + "_" + c.key + "_unique"
}

func (c *UniqueKeyCheck) Type() string {
	return "uniqueness"
}

func (c *UniqueKeyCheck) Run(ctx context.Context) QualityCheckResult {
	result := QualityCheckResult{
		CheckName: c.Name(),
		CheckType: c.Type(),
		Dataset:   c.table,
		CreatedAt: time.Now(),
	}

	query := fmt.Sprintf(`
		SELECT count(*), count(*) - count(DISTINCT %s)
		FROM read_parquet('%s', hive_partitioning = true)
	`, c.key, parquetGlob(c.outputPath, c.table))

	var total, duplicates int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&total, &duplicates); err != nil {
		result.Details = fmt.Sprintf("check query failed: %v", err)
		return result
	}

	result.RowCount = total
	if duplicates > 0 {
		result.Details = fmt.Sprintf("Found %d duplicate %s values in %d rows", duplicates, c.key, total)
	} else {
		result.Passed = true
		result.Details = fmt.Sprintf("All %d rows have a distinct %s", total, c.key)
	}
	return result
}

// PartitionConsistencyCheck verifies that every row under a year=Y/month=M
// partition has a start_time whose calendar fields equal Y and M.
type PartitionConsistencyCheck struct {
	db         *sql.DB
	outputPath string
	table      string
}

func NewPartitionConsistencyCheck(db *sql.DB, outputPath, table string) *PartitionConsistencyCheck {
	return &PartitionConsistencyCheck{db: db, outputPath: outputPath, table: table}
}

func (c *PartitionConsistencyCheck) Name() string {
	return c.table + "_partition_consistency"
}

func (c *PartitionConsistencyCheck) Type() string {
	return "consistency"
}

func (c *PartitionConsistencyCheck) Run(ctx context.Context) QualityCheckResult {
	result := QualityCheckResult{
		CheckName: c.Name(),
		CheckType: c.Type(),
		Dataset:   c.table,
		CreatedAt: time.Now(),
	}

	query := fmt.Sprintf(`
		SELECT count(*),
			count(*) FILTER (WHERE
				year(start_time) != CAST("year" AS BIGINT)
				OR month(start_time) != CAST("month" AS BIGINT)
			)
		FROM read_parquet('%s', hive_partitioning = true)
	`, parquetGlob(c.outputPath, c.table))

	var total, misplaced int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&total, &misplaced); err != nil {
		result.Details = fmt.Sprintf("check query failed: %v", err)
		return result
	}

	result.RowCount = total
	if misplaced > 0 {
		result.Details = fmt.Sprintf("Found %d rows outside their year/month partition", misplaced)
	} else {
		result.Passed = true
		result.Details = fmt.Sprintf("All %d rows match their year/month partition", total)
	}
	return result
}

// FactCompletenessCheck verifies that the songplays fact table kept one
// row per qualifying play event (the fact join is a left join, so
// unmatched events must still be present).
type FactCompletenessCheck struct {
	db         *sql.DB
	outputPath string
}

func NewFactCompletenessCheck(db *sql.DB, outputPath string) *FactCompletenessCheck {
	return &FactCompletenessCheck{db: db, outputPath: outputPath}
}

func (c *FactCompletenessCheck) Name() string {
	return "songplays_completeness"
}

func (c *FactCompletenessCheck) Type() string {
	return "completeness"
}

func (c *FactCompletenessCheck) Run(ctx context.Context) QualityCheckResult {
	result := QualityCheckResult{
		CheckName: c.Name(),
		CheckType: c.Type(),
		Dataset:   "songplays",
		CreatedAt: time.Now(),
	}

	// The plays view is still defined on the shared session from the
	// events stage; facts must not drop or multiply events. A play that
	// matches several catalog rows would multiply, which this catches.
	query := fmt.Sprintf(`
		SELECT
			(SELECT count(*) FROM read_parquet('%s', hive_partitioning = true)),
			(SELECT count(*) FROM plays)
	`, parquetGlob(c.outputPath, "songplays"))

	var facts, plays int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&facts, &plays); err != nil {
		result.Details = fmt.Sprintf("check query failed: %v", err)
		return result
	}

	result.RowCount = facts
	if facts != plays {
		result.Details = fmt.Sprintf("songplays has %d rows, expected %d (one per play event)", facts, plays)
	} else {
		result.Passed = true
		result.Details = fmt.Sprintf("songplays has one row per play event (%d rows)", facts)
	}
	return result
}

// RunQualityChecks executes all post-write checks and returns the results.
// A failed check fails the run: the outputs were already overwritten, so
// surfacing a broken invariant loudly beats letting consumers find it.
func RunQualityChecks(ctx context.Context, db *sql.DB, outputPath string) ([]QualityCheckResult, error) {
	checks := []QualityCheck{
		NewUniqueKeyCheck(db, outputPath, "songs", "song_id"),
		NewUniqueKeyCheck(db, outputPath, "artists", "artist_id"),
		NewUniqueKeyCheck(db, outputPath, "users", "user_id"),
		NewUniqueKeyCheck(db, outputPath, "time", "start_time"),
		NewPartitionConsistencyCheck(db, outputPath, "time"),
		NewPartitionConsistencyCheck(db, outputPath, "songplays"),
		NewFactCompletenessCheck(db, outputPath),
	}

	results := make([]QualityCheckResult, 0, len(checks))
	failed := 0

	log.Println("Running data quality checks...")
	for _, check := range checks {
		result := check.Run(ctx)
		results = append(results, result)

		if result.Passed {
			log.Printf("  ✅ %s: %s", result.CheckName, result.Details)
		} else {
			failed++
			log.Printf("  ❌ %s: %s", result.CheckName, result.Details)
		}
	}

	if failed > 0 {
		return results, fmt.Errorf("%d of %d quality checks failed", failed, len(checks))
	}

	log.Printf("All %d quality checks passed", len(checks))
	return results, nil
}
