package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marianaschaefer/geoapi/internal/api"
	"github.com/marianaschaefer/geoapi/internal/classify"
	"github.com/marianaschaefer/geoapi/internal/config"
	"github.com/marianaschaefer/geoapi/internal/db"
	"github.com/marianaschaefer/geoapi/internal/fsutil"
	"github.com/marianaschaefer/geoapi/internal/geo"
	"github.com/marianaschaefer/geoapi/internal/httputil"
	"github.com/marianaschaefer/geoapi/internal/locality"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db", "classification.db", "Path to the sqlite database")
	dataDir       = flag.String("data", "data", "Directory for per-project GeoJSON artifacts")
	migrationsDir = flag.String("migrations", "internal/db/migrations", "Directory with sql migration files")
	tuningPath    = flag.String("config", "", "Optional JSON file overriding propagation parameters")
	ibgeBase      = flag.String("ibge", locality.DefaultBaseURL, "Base URL of the IBGE localities API")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	params := classify.Params{}
	if *tuningPath != "" {
		tuning, err := config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		params = tuning.Params(params)
		log.Printf("Loaded propagation tuning from %s", *tuningPath)
	}

	artifacts := geo.NewArtifactStore(fsutil.OSFileSystem{}, *dataDir)
	engine := classify.NewEngine(params)
	sessions := classify.NewSessionManager(engine, artifacts)
	localities := locality.NewClient(httputil.NewStandardClient(nil), *ibgeBase)

	mux := http.NewServeMux()
	api.NewServer(database, sessions, artifacts, localities).RegisterRoutes(mux)
	database.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LogRequests(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
