package main

import (
	"context"
	"flag"
	"log"
	"log/slog"

	"go.uber.org/zap"

	"github.com/grcworks/sod-analyzer/internal/api/rest"
	"github.com/grcworks/sod-analyzer/internal/infrastructure/config"
	"github.com/grcworks/sod-analyzer/internal/infrastructure/spreadsheet"
	"github.com/grcworks/sod-analyzer/internal/infrastructure/telemetry"
	"github.com/grcworks/sod-analyzer/internal/service/analysis"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()
	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    "sod-analyzer",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down telemetry", "error", err)
		}
	}()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create service logger: %v", err)
	}
	defer zapLogger.Sync()

	hub := rest.NewProgressHub(logger, nil)

	parser := spreadsheet.NewParser()
	svc := analysis.NewService(analysis.Config{
		RunTTL:        cfg.Analysis.RunTTL,
		MaxAccessRows: cfg.Analysis.MaxAccessRows,
	}, parser, hub, zapLogger)
	defer svc.Close()

	handler := rest.NewHandler(svc, parser, hub, cfg.Upload.MaxFileBytes, cfg.Version, logger)
	server := rest.NewServer(cfg, handler, hub, logger)

	if err := server.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
	}
}
