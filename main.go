package main

import (
	"context"
	"flag"
	"log"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	log.Printf("🔧 Loaded configuration from %s", *configPath)

	// Create transformer
	transformer, err := NewTransformer(config)
	if err != nil {
		log.Fatalf("❌ Failed to create transformer: %v", err)
	}
	defer transformer.Close()

	// Start health server in background. Long S3 runs benefit from
	// liveness and /metrics while the batch is in flight.
	healthServer := NewHealthServer(transformer, config.Service.HealthPort)
	go func() {
		if err := healthServer.Start(); err != nil {
			log.Printf("❌ Health server error: %v", err)
		}
	}()

	// Run the batch once. No retries: any stage error aborts the run
	// and the job must be rerun manually.
	manifest, runErr := transformer.Run(context.Background())

	if dir := config.Service.ManifestDir; dir != "" && manifest != nil {
		if err := manifest.Write(dir); err != nil {
			log.Printf("⚠️  Failed to write run manifest: %v", err)
		} else {
			log.Printf("📋 Run manifest written to %s", dir)
		}
	}

	if runErr != nil {
		transformer.Close()
		log.Fatalf("❌ ETL run failed: %v", runErr)
	}
}
