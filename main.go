package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hannes/safeshare/config"
	"github.com/hannes/safeshare/pipeline"
	"github.com/hannes/safeshare/server"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file from current directory")
	} else {
		log.Printf("Note: .env file not found or could not be loaded: %v", err)
	}

	configPath := flag.String("config", "", "Path to JSON or YAML config file")
	flag.Parse()

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFile(*configPath, cfg); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	// Override configuration with environment variables
	config.LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("⚠️  Sentry initialization failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create scan pipeline: %v", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("Failed to close pipeline: %v", err)
		}
	}()

	go func() {
		if err := p.Orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[Scan] ❌ Batch worker stopped: %v", err)
		}
	}()
	go p.RunCleanup(ctx)

	srv := server.NewServer(cfg, p.Orchestrator, p.Settings, p.Engine)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Server] Shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Printf("[Server] ❌ Failed to start server: %v", err)
	}
}
