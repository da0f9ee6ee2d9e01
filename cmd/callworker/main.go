package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acme/call-memento/internal/app"
	"github.com/acme/call-memento/internal/telemetry"
)

// The call worker consumes place-call jobs and also hosts the media-stream
// listener, since the carrier connects its audio socket to the process that
// placed the call.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-call-worker")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureQueues(ctx); err != nil {
		log.Fatalf("failed to ensure job queues: %v", err)
	}

	worker, err := container.CallWorker()
	if err != nil {
		log.Fatalf("failed to assemble call worker: %v", err)
	}

	streams := container.StreamServer()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = streams.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := streams.Start(); err != nil {
			log.Fatalf("stream server terminated: %v", err)
		}
	}()

	if err := worker.Run(ctx); err != nil {
		log.Fatalf("worker terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
