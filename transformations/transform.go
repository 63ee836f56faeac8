// Package transformations derives the star-schema parquet tables from
// the raw JSON datasets. Each transformer issues declarative SQL against
// the shared DuckDB session; all heavy lifting (JSON parsing, joins,
// windowing, partitioned parquet writes) happens inside the engine.
package transformations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// TableResult reports one written output table
type TableResult struct {
	Table string
	Rows  int64
}

// joinPath joins a lake root and a relative glob/name. filepath.Join
// would mangle s3:// URLs, so paths are joined textually.
func joinPath(root, rel string) string {
	return strings.TrimSuffix(root, "/") + "/" + rel
}

// ensureOutputRoot creates a local output root before the first write.
// COPY ... TO creates only the leaf table directory, not its parents;
// object stores have no directories to create.
func ensureOutputRoot(path string) error {
	if strings.HasPrefix(path, "s3://") {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create output root %s: %w", path, err)
	}
	return nil
}

// ensureInputFiles fails the stage when a source glob matches no files.
// An empty glob would otherwise silently produce empty outputs; for a
// batch job that overwrites its targets this is treated as a fatal
// precondition instead.
func ensureInputFiles(ctx context.Context, db *sql.DB, pattern string) error {
	query := fmt.Sprintf("SELECT count(*) FROM glob('%s')", pattern)

	var matched int64
	if err := db.QueryRowContext(ctx, query).Scan(&matched); err != nil {
		return fmt.Errorf("failed to expand input glob %s: %w", pattern, err)
	}
	if matched == 0 {
		return fmt.Errorf("input glob %s matched no files", pattern)
	}
	return nil
}

// createJSONView loads a newline-delimited JSON glob into a view,
// schema-on-read. Views are not TEMP: the connection pool may run later
// statements on a different connection to the same in-memory database.
func createJSONView(ctx context.Context, db *sql.DB, view, pattern string) error {
	query := fmt.Sprintf(`
		CREATE OR REPLACE VIEW %s AS
		SELECT * FROM read_json_auto('%s', format = 'newline_delimited')
	`, view, pattern)

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s view: %w", view, err)
	}
	return nil
}

// execCopy runs a COPY ... TO statement and returns the written row count
func execCopy(ctx context.Context, db *sql.DB, query string) (int64, error) {
	result, err := db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}

	// For COPY TO, rows affected is the number of rows written
	rows, _ := result.RowsAffected()
	return rows, nil
}
