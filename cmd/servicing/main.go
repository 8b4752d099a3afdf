package main

import (
	"log"
	"os"

	"github.com/seantiz/servicing/internal/api"
	"github.com/seantiz/servicing/internal/backend"
	"github.com/seantiz/servicing/internal/backend/skypilot"
	"github.com/seantiz/servicing/internal/cache"
	"github.com/seantiz/servicing/internal/config"
	"github.com/seantiz/servicing/internal/dispatch"
	"github.com/seantiz/servicing/internal/model"
	"github.com/seantiz/servicing/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("servicing: starting",
		"listen_addr", cfg.ListenAddr,
		"root_dir", cfg.RootDir,
		"db_path", cfg.DBPath,
	)

	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		log.Fatalf("failed to create root directory: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := backend.NewRegistry()
	reg.Register(model.BackendSkyPilot, skypilot.New())

	dispatcher := dispatch.New(cache.New(), reg, logger, dispatch.Options{
		RootDir:      cfg.RootDir,
		Store:        db,
		PollInterval: cfg.PollInterval,
	})

	srv := api.NewServer(cfg.ListenAddr, dispatcher, reg, db, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
