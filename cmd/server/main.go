package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/krill0051-hash/tradingview-proxy/internal/config"
	"github.com/krill0051-hash/tradingview-proxy/internal/server"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", configPath, err)
		}
	} else {
		// No config file: run memory-backed with defaults so the proxy
		// works on platforms that only inject PORT.
		cfg = config.Default()
		if port := os.Getenv("PORT"); port != "" {
			p, err := strconv.Atoi(port)
			if err != nil {
				log.Fatalf("Invalid PORT environment variable %q: %v", port, err)
			}
			cfg.Server.Port = p
		}
		log.Printf("No config file at %s, using defaults (memory storage)", configPath)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Printf("TradingView proxy listening on %s (storage driver: %s)", addr, cfg.Storage.Driver)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}
