package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"condoflow.io/internal/config"
	"condoflow.io/internal/followup"
	"condoflow.io/internal/notify"
	"condoflow.io/internal/obs"
	"condoflow.io/internal/store/pg"
)

var version = "0.3.0"

func main() {
	loop := flag.Bool("loop", false, "run continuously at the configured sweep interval")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Postgres.Host == "" {
		log.Fatal("sweeper requires postgres (set CONDOFLOW_POSTGRES_HOST)")
	}

	obs.InitLogger(cfg.Log.Level)
	obs.Init()
	logger := obs.Logger()

	store, err := pg.Open(cfg.Postgres.DSN(), pg.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer store.Close()
	store.AdminEmail = cfg.FollowUp.AdminEmail

	sweeper := followup.NewSweeper(store, store, &notify.LogNotifier{Log: logger},
		followup.WithBatchSize(cfg.FollowUp.BatchSize),
		followup.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	logger.Info("starting condoflow-sweeper",
		zap.String("version", version),
		zap.Bool("loop", *loop),
		zap.Duration("interval", cfg.FollowUp.SweepInterval))

	sweep := func() {
		stats, err := sweeper.Run(ctx)
		if err != nil {
			logger.Error("sweep failed", zap.Error(err))
			return
		}
		logger.Info("sweep complete",
			zap.Int("claimed", stats.Claimed),
			zap.Int("sent", stats.Sent),
			zap.Int("cancelled", stats.Cancelled),
			zap.Int("exhausted", stats.Exhausted),
			zap.Int("errors", stats.Errors))
	}

	sweep()
	if !*loop {
		return
	}

	ticker := time.NewTicker(cfg.FollowUp.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
