package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkcaring/milestone-analyzer/internal/analyze"
	"github.com/linkcaring/milestone-analyzer/internal/config"
	"github.com/linkcaring/milestone-analyzer/internal/provider"
	"github.com/linkcaring/milestone-analyzer/internal/queue"
	"github.com/linkcaring/milestone-analyzer/internal/store"
	"github.com/linkcaring/milestone-analyzer/internal/video"
)

func main() {
	log.Println("Milestone analyzer worker starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := store.New(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer db.Close()
	log.Println("✓ Storage initialized (PostgreSQL)")

	results, err := queue.NewResultStore(cfg.RedisURL, cfg.ResultTTL)
	if err != nil {
		log.Fatalf("Failed to initialize result store: %v", err)
	}
	defer results.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = results.Ping(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("✓ Redis connection established")

	providerClient := provider.NewClient(&provider.ClientConfig{
		BaseURL:     cfg.ProviderBaseURL,
		APIKey:      cfg.ProviderAPIKey,
		InlineLimit: cfg.InlineLimit,
	})

	materializer := video.NewMaterializer(&video.MaterializerConfig{
		ScratchDir:  cfg.ScratchDir,
		MaxFileSize: cfg.MaxVideoSize,
	})

	pipeline := analyze.NewPipeline(db, db, providerClient, materializer, video.ResolveSource)
	log.Println("✓ Analysis pipeline initialized")

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.WorkerConcurrency,
		Runner:      pipeline,
		Results:     results,
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Start(); err != nil {
			errChan <- err
		}
	}()

	log.Println("✓ Worker ready - waiting for jobs...")
	log.Printf("  - Concurrency: %d workers", cfg.WorkerConcurrency)
	log.Printf("  - Scratch directory: %s", cfg.ScratchDir)

	select {
	case <-sigChan:
		log.Println("Shutdown signal received, stopping gracefully...")
		consumer.Stop()
	case err := <-errChan:
		log.Fatalf("Worker error: %v", err)
	}

	log.Println("Milestone analyzer worker stopped")
}
