package transitboards

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var server *http.Server

// StartServer wires the API routes and listens in the background.
func StartServer(c *Coordinator, port int) {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h := &apiHandler{coord: c}

	r.Get("/api/health", h.health)
	r.Get("/api/status", h.status)

	r.Get("/api/feeds", h.listFeeds)
	r.Post("/api/feeds/{version}/activate", h.activateFeed)
	r.Post("/api/refresh/static", h.refreshStatic)
	r.Post("/api/refresh/realtime", h.refreshRealtime)

	r.Get("/api/watches", h.listWatches)
	r.Post("/api/watches", h.createWatch)
	r.Get("/api/watches/{id}", h.getWatch)
	r.Put("/api/watches/{id}", h.updateWatch)
	r.Delete("/api/watches/{id}", h.deleteWatch)
	r.Post("/api/watches/{id}/duplicate", h.duplicateWatch)
	r.Get("/api/watches/{id}/board", h.watchBoard)

	r.Get("/api/boards/od", h.boardOD)
	r.Get("/api/boards/station", h.boardStation)
	r.Get("/api/boards/nearby", h.boardNearby)

	addr := fmt.Sprintf(":%d", port)
	server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("server listening on %s", addr)
}

// HandleGracefulShutdown blocks until SIGINT/SIGTERM, then drains the HTTP
// server and stops the coordinator loops.
func HandleGracefulShutdown(c *Coordinator) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Printf("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("server shutdown error: %v", err)
		} else {
			log.Printf("server shut down successfully")
		}
	}
	c.Stop()
}
