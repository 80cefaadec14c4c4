package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkcaring/milestone-analyzer/internal/analyze"
	"github.com/linkcaring/milestone-analyzer/internal/config"
	"github.com/linkcaring/milestone-analyzer/internal/provider"
	"github.com/linkcaring/milestone-analyzer/internal/queue"
	"github.com/linkcaring/milestone-analyzer/internal/server"
	"github.com/linkcaring/milestone-analyzer/internal/store"
	"github.com/linkcaring/milestone-analyzer/internal/video"
)

func main() {
	log.Println("Milestone analyzer API starting...")

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

	providerClient := provider.NewClient(&provider.ClientConfig{
		BaseURL:     cfg.ProviderBaseURL,
		APIKey:      cfg.ProviderAPIKey,
		InlineLimit: cfg.InlineLimit,
	})
	log.Println("✓ Model provider client initialized")

	materializer := video.NewMaterializer(&video.MaterializerConfig{
		ScratchDir:  cfg.ScratchDir,
		MaxFileSize: cfg.MaxVideoSize,
	})

	pipeline := analyze.NewPipeline(db, db, providerClient, materializer, video.ResolveSource)
	log.Println("✓ Analysis pipeline initialized")

	// Queue intake is optional: without Redis the synchronous API still works.
	var enqueuer *queue.Enqueuer
	var results *queue.ResultStore
	if cfg.RedisURL != "" {
		results, err = queue.NewResultStore(cfg.RedisURL, cfg.ResultTTL)
		if err != nil {
			log.Fatalf("Failed to initialize result store: %v", err)
		}
		defer results.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = results.Ping(ctx)
		cancel()
		if err != nil {
			log.Printf("WARNING: Redis unavailable, queued analysis disabled: %v", err)
			results = nil
		} else {
			enqueuer, err = queue.NewEnqueuer(cfg.RedisURL)
			if err != nil {
				log.Fatalf("Failed to initialize enqueuer: %v", err)
			}
			defer enqueuer.Close()
			log.Println("✓ Queue intake enabled (Redis)")
		}
	}

	srvCfg := server.Config{
		Runner:      pipeline,
		Reads:       db,
		Keys:        db,
		MaxBodySize: cfg.MaxVideoSize,
	}
	if enqueuer != nil && results != nil {
		srvCfg.Enqueuer = enqueuer
		srvCfg.Results = results
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.New(srvCfg).Router(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Printf("✓ API listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutdown signal received, stopping gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("WARNING: shutdown error: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Milestone analyzer API stopped")
}
