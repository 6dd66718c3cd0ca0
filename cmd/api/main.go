package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"condoflow.io/internal/config"
	"condoflow.io/internal/httpapi"
	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/obs"
	"condoflow.io/internal/store/memory"
	"condoflow.io/internal/store/pg"
	"condoflow.io/internal/workflow"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.InitLogger(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	var (
		codeStore magiccode.Store
		wfStore   workflow.Store
		db        *sql.DB
	)
	if cfg.Postgres.Host != "" {
		pgStore, err := pg.Open(cfg.Postgres.DSN(), pg.PoolConfig{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		})
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		pgStore.AdminEmail = cfg.FollowUp.AdminEmail
		codeStore, wfStore, db = pgStore, pgStore, pgStore.DB()
		defer pgStore.Close()
	} else {
		mem := memory.New()
		mem.AdminEmail = cfg.FollowUp.AdminEmail
		codeStore, wfStore = mem, mem
		logger.Warn("postgres host not configured, using in-memory store")
	}

	codes, err := magiccode.NewService(codeStore,
		magiccode.WithCodeTTL(cfg.MagicCode.CodeTTL),
		magiccode.WithSessionTTL(cfg.MagicCode.SessionTTL),
		magiccode.WithGracePeriod(cfg.MagicCode.GracePeriod),
		magiccode.WithRateLimit(cfg.MagicCode.RateWindow, cfg.MagicCode.MaxFailures),
		magiccode.WithUsageThreshold(cfg.MagicCode.UsageThreshold),
		magiccode.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("magic code service: %v", err)
	}

	wf := workflow.NewService(wfStore, codes, workflow.WithLogger(logger))
	admin := httpapi.NewAdminAuth(cfg.Auth.AdminJWTSecret, cfg.Auth.AdminTokenTTL)

	api := httpapi.New(wf, codes, codeStore, admin, httpapi.ReadyProbe{DB: db}, httpapi.Config{
		Version:        version,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		RevokeOnIssue:  cfg.MagicCode.RevokeOnIssue,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting condoflow-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Info("stopped")
}
