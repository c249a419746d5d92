package main

import (
	"flag"
	"log"
	"os"

	"github.com/iago/mathdoc-back/internal/config"
	"github.com/iago/mathdoc-back/internal/repository"
)

func main() {
	var (
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 1, "Number of migrations to roll back (down only)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[mathdoc-migrate] ", log.LstdFlags|log.LUTC)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	switch *direction {
	case "up":
		if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatalf("migration failed: %v", err)
		}
		logger.Printf("migrations applied")
	case "down":
		if err := repository.RollbackMigrations(cfg.DatabaseURL, *steps); err != nil {
			logger.Fatalf("rollback failed: %v", err)
		}
		logger.Printf("rolled back steps=%d", *steps)
	default:
		logger.Fatalf("unknown direction %q", *direction)
	}
}
