package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quoteflow/config"
	"quoteflow/internal/metrics"
	"quoteflow/internal/saga"
	"quoteflow/logger"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on success, 1 when units failed,
// 2 for configuration problems and 3 when a saga compensation failed.
func run() int {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	classification := flag.String("classification", "daily_kline", "Data classification to sync")
	operation := flag.String("operation", "price_history", "Provider operation to run")
	units := flag.String("units", "", "Comma separated unit keys; defaults to the universe file")
	groups := flag.String("groups", "", "Comma separated universe groups")
	start := flag.String("start", "", "Window start (YYYY-MM-DD or RFC3339); defaults to now minus sync.lookback")
	end := flag.String("end", "", "Window end (YYYY-MM-DD or RFC3339); defaults to now")
	concurrency := flag.Int("concurrency", 0, "Maximum concurrent units; defaults to sync.max_concurrency")
	jobID := flag.String("job-id", "", "Job identifier; generated when empty")

	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveEnvPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 2
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 2
	}

	log.WithFields(logger.Fields{
		"service": cfg.Quoteflow.Name,
		"version": cfg.Quoteflow.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting quoteflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	job, err := buildJob(cfg, jobFlags{
		classification: *classification,
		operation:      *operation,
		units:          *units,
		groups:         *groups,
		start:          *start,
		end:            *end,
		concurrency:    *concurrency,
		jobID:          *jobID,
	}, time.Now().UTC())
	if err != nil {
		log.WithError(err).Error("invalid job")
		return 2
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to start quoteflow")
		return 2
	}
	defer app.Close()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Address, log)
		app.observe(srv.RecordJob)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	stats, err := app.orchestrator().Run(ctx, job)
	if stats != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(stats); encErr != nil {
			log.WithError(encErr).Warn("failed to print job stats")
		}
	}

	var cfgErr *config.ConfigurationError
	var compErr *saga.CompensationError
	switch {
	case errors.As(err, &cfgErr):
		log.WithError(err).Error("sync job rejected")
		return 2
	case errors.As(err, &compErr):
		log.WithError(err).Alert("compensation_failed", "sync job left partial writes behind")
		return 3
	case err != nil:
		log.WithError(err).Error("sync job failed")
		return 1
	}

	if err := stats.Err(); err != nil {
		log.WithError(err).Warn("sync job finished with failed units")
		return 1
	}
	log.Info("quoteflow stopped")
	return 0
}
