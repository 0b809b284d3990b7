package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vantadb.org/internal/access"
	"vantadb.org/internal/httpapi"
	"vantadb.org/internal/obs"
	"vantadb.org/internal/store/mem"
	"vantadb.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// Local development overrides; missing .env is fine.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Durable store when a DSN is configured, in-memory otherwise.
	var (
		store   access.Store
		probe   httpapi.ReadyProbe
		pgStore *pg.Store
	)
	if dsn := os.Getenv("VANTA_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		store = mem.New()
	}

	engine, err := access.NewEngine(store)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	var opts []httpapi.Option
	if os.Getenv("VANTA_STRICT") == "true" {
		opts = append(opts, httpapi.WithStrict(true))
	}
	api := httpapi.New(engine, probe, version, opts...)

	addr := os.Getenv("VANTA_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting vanta-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
