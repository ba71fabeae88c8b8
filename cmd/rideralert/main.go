package main

import (
	"flag"
	"log"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"rideralert/internal/app"
	"rideralert/internal/config"
	"rideralert/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", "", "address for the web server (overrides config)")
		withTUI    = flag.Bool("tui", false, "run the terminal dashboard")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	var zl *zap.Logger
	if *withTUI {
		zl, err = logger.NewFile(cfg.LogLevel, "rideralert", filepath.Join(cfg.DataDirectory, "rideralert.log"))
	} else {
		zl, err = logger.New(cfg.LogLevel, "rideralert")
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("config loaded",
		zap.String("config", *configPath),
		zap.String("endpoint", cfg.Endpoint.URL),
		zap.Duration("poll_interval", cfg.PollInterval()),
		zap.Bool("telegram", cfg.Telegram.Enabled),
	)

	fx.New(app.Module(cfg, app.Mode{TUI: *withTUI}, zl)).Run()
}
