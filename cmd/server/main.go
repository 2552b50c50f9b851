package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alfredhq/alfred/internal/config"
	"github.com/alfredhq/alfred/internal/server"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := config.Load()

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: srv.Router(),
	}

	go func() {
		log.Printf("[INFO] Alfred backend ready on http://localhost:%s", cfg.Port)
		log.Printf("[INFO] Auth: %s", onOff(cfg.AuthToken != ""))
		log.Printf("[INFO] Chat saving: %s", onOff(!cfg.DisableChatSave))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx := context.Background()
	httpServer.Shutdown(ctx)
	srv.Shutdown(ctx)

	log.Println("Server stopped")
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
