// Command fieldsyncd runs the FieldSync background synchronization
// daemon: it owns the durable queue, the connectivity monitor, and the
// sync orchestrator for one device.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relieflab/fieldsync/internal/config"
	"github.com/relieflab/fieldsync/internal/connectivity"
	"github.com/relieflab/fieldsync/internal/db"
	"github.com/relieflab/fieldsync/internal/logging"
	"github.com/relieflab/fieldsync/internal/metrics"
	"github.com/relieflab/fieldsync/internal/optimistic"
	"github.com/relieflab/fieldsync/internal/orchestrator"
	"github.com/relieflab/fieldsync/internal/priority"
	"github.com/relieflab/fieldsync/internal/queue"
	"github.com/relieflab/fieldsync/internal/remote"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "fieldsyncd",
		Short: "FieldSync offline-first synchronization daemon",
		Long:  "Synchronizes field-collected records with the remote authority, prioritized by content-aware rules and gated by connectivity and power conditions.",
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the synchronization daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath)
		},
	}
	cmd.AddCommand(run)

	return cmd
}

func runDaemon(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("data_dir", cfg.DataDir),
		zap.String("remote", cfg.Remote.BaseURL))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return err
	}
	defer database.Close()

	if err := db.Initialize(database.DB); err != nil {
		logger.Error("failed to initialize schema", zap.Error(err))
		return err
	}

	repo := db.NewQueueRepository(database.DB)
	defer repo.Close()

	client := remote.NewClient(&remote.Config{
		BaseURL:        cfg.Remote.BaseURL,
		ProbePath:      cfg.Remote.ProbePath,
		RequestTimeout: cfg.Remote.RequestTimeout,
	})

	monitor := connectivity.NewMonitor(nil, nil, client, logger.Named("connectivity"))

	audit := priority.NewAuditLog(priority.DefaultAuditWindow, client, logger.Named("audit"))
	engine := priority.NewRuleEngine(client, audit, logger.Named("priority"))

	queueSvc := queue.NewService(repo, client, logger.Named("queue"))
	// The manager subscribes itself to queue outcomes; the host
	// application drives its Apply/Rollback surface.
	optimistic.NewManager(queueSvc, engine, logger.Named("optimistic"))

	var m *metrics.Metrics
	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(hostname())
		metricsSrv = metrics.NewServer(cfg.Metrics.Host, cfg.Metrics.Port, logger.Named("metrics"))
		metricsSrv.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := orchestrator.NewOrchestrator(cfg.Sync, queueSvc, monitor, nil, m, logger.Named("orchestrator"))
	orch.Start(ctx)

	logger.Info("fieldsyncd running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	orch.Stop()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}

	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
