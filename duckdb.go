package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DuckDBClient manages the single shared DuckDB session used by every
// transformation stage. It is created once at job start and closed once
// at job end; the job runs the stages against it strictly sequentially.
type DuckDBClient struct {
	db     *sql.DB
	config *StorageConfig
}

// NewDuckDBClient opens an in-memory DuckDB session and configures it
// for the lake roots named in the storage config.
func NewDuckDBClient(config *StorageConfig) (*DuckDBClient, error) {
	// Open DuckDB connection (in-memory, stateless)
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	client := &DuckDBClient{
		db:     db,
		config: config,
	}

	if err := client.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return client, nil
}

// initialize installs the extensions the lake roots require and creates
// the S3 secret when reading/writing object storage.
func (c *DuckDBClient) initialize() error {
	ctx := context.Background()

	if c.config.UsesS3() {
		log.Println("Installing httpfs extension...")
		if _, err := c.db.ExecContext(ctx, "INSTALL httpfs;"); err != nil {
			return fmt.Errorf("failed to install httpfs extension: %w", err)
		}
		if _, err := c.db.ExecContext(ctx, "LOAD httpfs;"); err != nil {
			return fmt.Errorf("failed to load httpfs extension: %w", err)
		}

		if err := c.configureS3(ctx); err != nil {
			return fmt.Errorf("failed to configure S3: %w", err)
		}
	} else {
		log.Println("Local lake roots, skipping httpfs setup")
	}

	log.Println("DuckDB initialized successfully")
	return nil
}

// configureS3 creates the S3 secret from the explicit credentials in the
// storage config. Credentials never pass through the process environment.
func (c *DuckDBClient) configureS3(ctx context.Context) error {
	log.Println("Configuring S3 credentials...")

	// Strip https:// prefix from endpoint if present (DuckDB adds it automatically)
	endpoint := c.config.AWSEndpoint
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	createSecretSQL := fmt.Sprintf(`
		CREATE SECRET IF NOT EXISTS (
			TYPE S3,
			KEY_ID '%s',
			SECRET '%s',
			REGION '%s'`,
		c.config.AWSAccessKeyID, c.config.AWSSecretAccessKey, c.config.AWSRegion)
	if endpoint != "" {
		createSecretSQL += fmt.Sprintf(`,
			ENDPOINT '%s',
			URL_STYLE 'path'`, endpoint)
	}
	createSecretSQL += `
		);`

	if _, err := c.db.ExecContext(ctx, createSecretSQL); err != nil {
		return fmt.Errorf("failed to create S3 secret: %w", err)
	}

	if endpoint != "" {
		log.Printf("S3 credentials configured for endpoint: %s", endpoint)
	} else {
		log.Printf("S3 credentials configured for region: %s", c.config.AWSRegion)
	}
	return nil
}

// DB exposes the underlying connection pool for the transformation stages.
func (c *DuckDBClient) DB() *sql.DB {
	return c.db
}

// Close closes the DuckDB connection
func (c *DuckDBClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
