package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subletsync/config"
	"subletsync/httputil"
	"subletsync/logging"
	"subletsync/scheduler"
	"subletsync/services"
	"subletsync/storage"
	"subletsync/workers"
)

var (
	refreshNow = flag.Bool("refresh", false, "Run a full refresh once and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath, 0)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting subletsync...")
	log.Printf("Loaded %d region configs", len(cfg.Regions))
	for id, region := range cfg.Regions {
		log.Printf("  - %s (%s)", region.Name, id)
	}

	clients := httputil.NewClients()

	ctx := context.Background()

	remote, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer remote.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))

	cache, err := storage.NewSQLiteStore(cfg.Database.CachePath)
	if err != nil {
		log.Fatalf("Failed to open cache: %v", err)
	}
	defer cache.Close()
	log.Printf("Local cache: %s", cfg.Database.CachePath)

	var images *storage.ImageStore
	if cfg.S3.Bucket != "" {
		images, err = storage.NewImageStore(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to init image store: %v", err)
		}
		log.Printf("Image store: s3://%s", cfg.S3.Bucket)
	} else {
		log.Println("No S3 bucket configured, image cleanup disabled")
	}

	var imageDeleter services.ImageDeleter
	if images != nil {
		imageDeleter = images
	}

	syncService := services.NewSyncService(remote, cache, imageDeleter)
	defer syncService.Close()

	rateService := services.NewRateService(clients.Rates, cfg.Rates.BaseURL)
	if snap, err := rateService.Rates(ctx, "USD"); err != nil {
		log.Printf("Warning: rate prefetch failed: %v", err)
	} else {
		log.Printf("Exchange rates loaded for %s (%d currencies)", snap.Base, len(snap.Rates))
	}

	log.Println("Services initialized")

	if *refreshNow {
		log.Println("Running refresh...")
		if err := syncService.RefreshAllListings(ctx); err != nil {
			log.Fatalf("Refresh failed: %v", err)
		}
		log.Println("Refresh complete!")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	refreshWorker := workers.NewRefreshWorker(syncService, cfg.Regions)
	go refreshWorker.Run(ctx, 15*time.Minute)
	log.Println("Refresh worker started")

	sched := scheduler.New(cfg, refreshWorker)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
