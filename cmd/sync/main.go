package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/ridesync/internal/config"
	"example.com/ridesync/internal/dest"
	"example.com/ridesync/internal/ledger"
	"example.com/ridesync/internal/notify"
	"example.com/ridesync/internal/pipeline"
	"example.com/ridesync/internal/source"
	"example.com/ridesync/internal/tcx"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	store := ledger.NewStore(pool)
	if err := store.Init(ctx); err != nil {
		log.Fatalf("failed to initialise ledger: %v", err)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	peloton := source.NewClient(cfg.PelotonBaseURL)
	if err := peloton.Login(ctx, cfg.PelotonEmail, cfg.PelotonPassword); err != nil {
		log.Fatalf("peloton login failed: %v", err)
	}

	garmin := dest.NewClient(cfg.GarminUploadURL, cfg.GarminEmail, cfg.GarminPassword)

	opts := []pipeline.Option{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := notify.NewPublisher(cfg.KafkaBrokers, cfg.NotifyTopic)
		defer publisher.Close()
		opts = append(opts, pipeline.WithNotifier(publisher))
	}

	orchestrator := pipeline.NewOrchestrator(
		peloton,
		garmin,
		store,
		tcx.NewEncoder(),
		cfg.BatchSize,
		cfg.OutputDir,
		cfg.ActivityType,
		opts...,
	)

	report, err := orchestrator.Run(ctx)
	if err != nil {
		log.Fatalf("sync run failed: %v", err)
	}

	log.Printf("sync complete (run=%s): transferred=%d skipped=%d failed=%d",
		report.RunID, report.Transferred, report.Skipped, report.Failed)
	for _, failure := range report.Failures {
		log.Printf("  %s failed at %s: %v", failure.ActivityID, failure.Stage, failure.Err)
	}
	log.Printf("TCX files are in %s", cfg.OutputDir)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
