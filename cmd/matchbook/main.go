package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"matchbook/internal/api"
	"matchbook/internal/book"
	"matchbook/internal/feed"
	"matchbook/internal/store"
)

func main() {
	port := flag.String("port", "8888", "server port")
	dbPath := flag.String("db", "matchbook.db", "SQLite database path")
	corsOrigins := flag.String("cors", "", "comma-separated allowed CORS origins (empty = allow all for dev)")
	feedURL := flag.String("feed-url", os.Getenv("FEED_URL"), "market-data feed websocket URL (empty = built-in sample snapshot)")
	pair := flag.String("pair", "BTCZAR", "currency pair")
	flag.Parse()

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	b := book.New(*pair)

	// Pick the snapshot source: the live feed when configured, a canned
	// book otherwise.
	var source feed.Source
	if *feedURL != "" {
		source = feed.NewClient(*feedURL, *pair)
		log.Printf("Using market-data feed at %s", *feedURL)
	} else {
		source = feed.Static{Snapshot: feed.SampleSnapshot()}
		log.Printf("No feed URL - using built-in sample snapshot")
	}

	// Initial book population. A flaky upstream must not stop the server
	// from coming up; /api/orderbook/init can retry later.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if snap, err := source.FetchSnapshot(ctx); err != nil {
		log.Printf("Warning: failed to fetch initial snapshot: %v", err)
	} else if err := b.Load(snap); err != nil {
		log.Printf("Warning: initial snapshot rejected: %v", err)
	} else {
		depth := b.Depth()
		log.Printf("Order book initialised: %d bid levels, %d ask levels", len(depth.Bids), len(depth.Asks))
	}
	cancel()

	server := api.NewServer(b, source, st)

	if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		server.SetCORSOrigins(origins)
		log.Printf("CORS restricted to: %v", origins)
	}

	addr := ":" + *port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Starting matchbook server on http://localhost%s (pair %s)", addr, *pair)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	server.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := st.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Server shutdown complete")
}
