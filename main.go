package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hivemind-ai/hive/internal/config"
	"github.com/hivemind-ai/hive/internal/health"
	"github.com/hivemind-ai/hive/internal/hive"
	"github.com/hivemind-ai/hive/internal/httpapi"
	"github.com/hivemind-ai/hive/internal/tracing"
	"github.com/hivemind-ai/hive/internal/workflow"
)

func main() {
	configPath := flag.String("config", os.Getenv("HIVE_CONFIG"), "path to config file (yaml)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	swarm, err := hive.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to assemble swarm", zap.Error(err))
	}
	if err := swarm.SpawnDefaultAgents(); err != nil {
		logger.Fatal("Failed to spawn default agents", zap.Error(err))
	}

	// Preload workflow definitions from disk when configured.
	if dir := os.Getenv("HIVE_WORKFLOWS_DIR"); dir != "" {
		wfs, err := workflow.LoadDir(dir)
		if err != nil {
			logger.Fatal("Failed to load workflow definitions", zap.String("dir", dir), zap.Error(err))
		}
		for _, wf := range wfs {
			if err := swarm.RegisterWorkflow(wf); err != nil {
				logger.Fatal("Failed to register workflow", zap.String("workflow_id", wf.ID), zap.Error(err))
			}
		}
		logger.Info("Workflow definitions loaded", zap.String("dir", dir), zap.Int("count", len(wfs)))
	}

	// Hot-reload: a valid config edit re-tunes running components; a broken
	// edit keeps the last good config.
	var watcher *config.Watcher
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, cfg, logger)
		if err != nil {
			logger.Warn("Config watcher unavailable", zap.Error(err))
		} else {
			watcher.OnReload(func(next *config.HiveConfig) {
				if err := swarm.ApplyConfig(next); err != nil {
					logger.Warn("Config reload rejected by swarm", zap.Error(err))
				}
			})
		}
	}

	// Shared admin mux: metrics, health, approvals, status, event stream.
	hm := health.NewManager(30*time.Second, logger)
	_ = hm.RegisterChecker(health.NewKVChecker(swarm.KV()))
	if j := swarm.Journal(); j != nil {
		_ = hm.RegisterChecker(health.NewJournalChecker(j))
	}
	hm.Start()

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	httpapi.NewApprovalHandler(swarm, logger, os.Getenv("HIVE_APPROVALS_TOKEN")).RegisterRoutes(adminMux)
	httpapi.NewStatusHandler(swarm.Status, logger).RegisterRoutes(adminMux)
	httpapi.NewStreamHandler(swarm.Events(), logger).RegisterRoutes(adminMux)

	adminServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.String("address", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down swarm")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Close()
	}
	hm.Stop()
	_ = adminServer.Shutdown(shutdownCtx)
	if err := swarm.Close(shutdownCtx); err != nil {
		logger.Error("Swarm shutdown incomplete", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
