package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chatview/internal/app"
	"chatview/pkg/config"
)

// build metadata - set via ldflags during release
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	flags := config.ParseFlags()

	cfgPath := flags.Config
	if !flags.Set["config"] {
		if v := os.Getenv("CHATVIEW_CONFIG"); v != "" {
			cfgPath = v
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Flags explicitly set win over env and config file.
	if flags.Set["addr"] {
		cfg.Server.Address = flags.Addr
		cfg.Server.Port = 0
	}
	if flags.Set["db"] || cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = flags.DB
	}
	if cfg.Identity.ID == "" {
		cfg.Identity.ID = "local"
	}

	a, err := app.New(cfg, version)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
