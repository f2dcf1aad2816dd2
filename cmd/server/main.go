package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldroute/internal/config"
	"fieldroute/internal/database"
	"fieldroute/internal/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	// An explicit config path must exist; the default one in the data dir may not
	configPath := getEnv("FIELDROUTE_CONFIG", "")
	required := configPath != ""
	if configPath == "" {
		appDir, err := database.GetAppDir(os.Getenv(config.EnvPrefix + "DATA_DIR"))
		if err != nil {
			return err
		}
		configPath = database.GetConfigFilePath(appDir)
	}

	cfg, err := config.Load(configPath, required, ".env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	actualAddr, err := app.Start()
	if err != nil {
		app.Shutdown(context.Background())
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Printf("FieldRoute listening on http://%s (distance mode %s)", actualAddr, cfg.Distance.Mode)

	<-ctx.Done()
	log.Printf("Received shutdown signal, starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not gracefully shutdown the server: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
