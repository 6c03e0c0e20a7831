// cmd/authdispatch/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"authdispatch/internal/config"
	"authdispatch/internal/server"

	"github.com/joho/godotenv"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "path to configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with AUTHDISPATCH_* overrides")
	watch := flag.Bool("watch", true, "rebuild authentication adapters when the configuration file changes")
	flag.Parse()

	// Environment from a dotenv file never overrides variables already set
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchPath := ""
	if *watch {
		watchPath = *configPath
	}

	// Create server
	srv, err := server.NewFromConfig(ctx, cfg, watchPath)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Start the server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		fmt.Println("Starting server...")
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for termination signal or error
	select {
	case <-ctx.Done():
		fmt.Println("Shutting down gracefully...")
	case err := <-errCh:
		fmt.Printf("Server error: %v\n", err)
	}

	// Shut down server gracefully
	if err := srv.Stop(context.Background()); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	fmt.Println("Server stopped successfully")
}
