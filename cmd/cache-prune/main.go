// Command cache-prune removes cached entities older than a maximum age.
package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-hazard-watch/internal/config"
	"github.com/mr1hm/go-hazard-watch/internal/logging"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	maxAge := flag.Duration("max-age", cfg.Cache.MaxAge, "remove entities not updated within this duration")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	if *maxAge <= 0 {
		logging.Fatalf("max-age must be positive, got %s", *maxAge)
	}

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cutoff := time.Now().Add(-*maxAge)
	for _, kind := range models.EntityKinds {
		before, err := db.Count(ctx, kind)
		if err != nil {
			logging.Fatalf("Failed to count %s: %v", kind, err)
		}
		removed, err := db.PruneOlderThan(ctx, kind, cutoff)
		if err != nil {
			logging.Fatalf("Failed to prune %s: %v", kind, err)
		}
		slog.Info("pruned cache", "kind", kind, "removed", removed, "remaining", int64(before)-removed)
	}
}
