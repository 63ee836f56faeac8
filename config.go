package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the star-schema ETL job
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Storage StorageConfig `yaml:"storage"`
}

// ServiceConfig contains service-level settings
type ServiceConfig struct {
	Name        string `yaml:"name"`
	HealthPort  string `yaml:"health_port"`
	ManifestDir string `yaml:"manifest_dir"` // optional: write a per-run JSON manifest here
}

// StorageConfig contains lake locations and S3 credentials
type StorageConfig struct {
	// Root of the raw JSON datasets (song_data/ and log_data/ live under it).
	// Either an s3:// URL or a local directory.
	InputPath string `yaml:"input_path"`

	// Root the parquet star-schema tables are written under.
	OutputPath string `yaml:"output_path"`

	// S3 credentials, passed explicitly into the DuckDB session via
	// CREATE SECRET. Never exported into the process environment.
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	AWSRegion          string `yaml:"aws_region"`
	AWSEndpoint        string `yaml:"aws_endpoint"` // optional, for S3-compatible stores
}

// LoadConfig loads configuration from YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if config.Service.Name == "" {
		config.Service.Name = "starlake-etl"
	}
	if config.Service.HealthPort == "" {
		config.Service.HealthPort = "8095"
	}
	if config.Storage.AWSRegion == "" {
		config.Storage.AWSRegion = "us-west-2"
	}

	// Credentials may come from the environment instead of the file,
	// so the settings file does not have to hold secrets.
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" && config.Storage.AWSAccessKeyID == "" {
		config.Storage.AWSAccessKeyID = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" && config.Storage.AWSSecretAccessKey == "" {
		config.Storage.AWSSecretAccessKey = secret
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Storage.InputPath == "" {
		return fmt.Errorf("storage.input_path is required")
	}
	if c.Storage.OutputPath == "" {
		return fmt.Errorf("storage.output_path is required")
	}
	if c.Storage.UsesS3() {
		if c.Storage.AWSAccessKeyID == "" {
			return fmt.Errorf("storage.aws_access_key_id is required for s3:// paths")
		}
		if c.Storage.AWSSecretAccessKey == "" {
			return fmt.Errorf("storage.aws_secret_access_key is required for s3:// paths")
		}
	}
	return nil
}

// UsesS3 reports whether either lake root lives on S3. Local paths run
// without the httpfs extension or an S3 secret.
func (s *StorageConfig) UsesS3() bool {
	return strings.HasPrefix(s.InputPath, "s3://") || strings.HasPrefix(s.OutputPath, "s3://")
}
