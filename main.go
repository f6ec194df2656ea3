package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snacka/voicerelay/api"
	"github.com/snacka/voicerelay/config"
	"github.com/snacka/voicerelay/crypto"
	"github.com/snacka/voicerelay/db"
	"github.com/snacka/voicerelay/identity"
	"github.com/snacka/voicerelay/sfu"
	"github.com/snacka/voicerelay/ws"
)

func main() {
	cfg := config.Parse()

	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	encKey, err := crypto.LoadOrCreateKey(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to load encryption key: %v", err)
	}

	idp := identity.NewDBProvider(database)
	registry := sfu.New(cfg.ICEServers, cfg.PublicIP)
	hub := ws.NewHub(database, idp, registry, cfg.DevMode, cfg.ControllerSlots, encKey, cfg.ReconnectGrace)

	router := api.NewRouter(database, hub)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdown := func() {
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
		log.Println("Server stopped")
	}

	go func() {
		mode := "production"
		if cfg.DevMode {
			mode = "development"
		}
		log.Printf("Server running at http://localhost%s (%s)", addr, mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	shutdown()
}
