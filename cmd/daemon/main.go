package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sendwatch/go-backend/internal/adapters/rpc"
	"sendwatch/go-backend/internal/app"
	"sendwatch/go-backend/internal/config"
	"sendwatch/go-backend/internal/platform/looper"
	"sendwatch/go-backend/internal/platform/metrics"
	"sendwatch/go-backend/internal/platform/privacylog"
	"sendwatch/go-backend/internal/platform/ratelimiter"
	"sendwatch/go-backend/internal/storage"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const rateLimitIdleTTL = 10 * time.Minute

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", "", "JSON-RPC listen address (overrides config)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Sendwatch-Token (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("sendwatch-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}
	if *rpcToken != "" {
		_ = os.Setenv("SENDWATCH_RPC_TOKEN", *rpcToken)
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		log.Fatalf("sendwatch-daemon: load config: %v", err)
	}
	if *rpcAddr != "" {
		cfg.RPC.Addr = *rpcAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("sendwatch-daemon failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := privacylog.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	logger.Info("sendwatch-daemon starting", "version", version, "config", cfg.Source, "store_driver", cfg.Store.Driver)

	store, err := storage.Open(cfg.Store.Driver, cfg.Store.Path, cfg.Store.Passphrase)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	loop := looper.New(nil, logger)
	defer loop.Close()

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.New()
	}
	var limiter *ratelimiter.MapLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, rateLimitIdleTTL)
	}

	svcOpts := app.ServiceOptions{
		Store:    store,
		Executor: loop,
		Logger:   logger,
		Defaults: app.WatchDefaults{
			Timeout:      cfg.Watch.DefaultTimeout,
			SuccessTypes: cfg.Watch.DefaultSuccessTypes,
		},
		MaxActive:       cfg.Watch.MaxActive,
		RetainCompleted: cfg.Watch.RetainCompleted,
	}
	if recorder != nil {
		svcOpts.Metrics = recorder
	}
	svc, err := app.NewWatchService(svcOpts)
	if err != nil {
		return fmt.Errorf("init watch service: %w", err)
	}

	srv := rpc.NewServer(svc, rpc.Options{
		Addr:           cfg.RPC.Addr,
		Token:          cfg.RPC.Token,
		RequireToken:   cfg.RequireToken,
		AllowedOrigins: cfg.RPC.AllowedOrigins,
		RateLimit:      limiter,
		Metrics:        recorder,
		Logger:         logger,
	})
	if err := srv.Run(ctx); err != nil {
		svc.Close()
		return err
	}
	logger.Info("sendwatch-daemon stopped")
	return nil
}
